/*
Package workflow implements the leave-request state machine.

PURPOSE:
  A leave request moves through a fixed sequence of statuses with rejection
  branches at each gate and an extra secretarial protocol step for some
  department categories. Apply is the only way to change a request's status.

STATE MACHINE:
  Draft             ── submit ─────────────▶ Submitted
  Submitted         ── manager-approve ────▶ ApprovedByManager
                                              (PendingSecretarialProtocol when the
                                               owner's category is secretarial)
  Submitted         ── manager-reject ─────▶ RejectedByManager
  Draft, Submitted  ── cancel ─────────────▶ RejectedByManager (cancelled by owner)
  Draft, Submitted  ── edit ───────────────▶ (unchanged)
  PendingSecretarialProtocol ── add-protocol ──▶ ForCentralProtocol
  ApprovedByManager, ForCentralProtocol ── start-processing ──▶ UnderProcessing
  UnderProcessing   ── complete ───────────▶ Completed (deducts days once)
  ApprovedByManager, ForCentralProtocol, UnderProcessing
                    ── handler-reject ─────▶ RejectedByHandler

  Terminal: Completed, RejectedByManager, RejectedByHandler.

KEY CONCEPTS IN THIS FILE (status.go):
  - Status: The closed set of request states
  - Event:  The closed set of transition triggers
  - legal:  Which events are accepted from which states

SEE ALSO:
  - guards.go: Who may fire each event, and the resulting state
  - engine.go: Transactional Apply, ledger deduction, notifications
*/
package workflow

type Status string

const (
	StatusDraft                      Status = "draft"
	StatusSubmitted                  Status = "submitted"
	StatusApprovedByManager          Status = "approved-by-manager"
	StatusRejectedByManager          Status = "rejected-by-manager"
	StatusPendingSecretarialProtocol Status = "pending-secretarial-protocol"
	StatusForCentralProtocol         Status = "for-central-protocol"
	StatusUnderProcessing            Status = "under-processing"
	StatusCompleted                  Status = "completed"
	StatusRejectedByHandler          Status = "rejected-by-handler"
)

var statuses = map[Status]bool{
	StatusDraft:                      true,
	StatusSubmitted:                  true,
	StatusApprovedByManager:          true,
	StatusRejectedByManager:          true,
	StatusPendingSecretarialProtocol: true,
	StatusForCentralProtocol:         true,
	StatusUnderProcessing:            true,
	StatusCompleted:                  true,
	StatusRejectedByHandler:          true,
}

func (s Status) Valid() bool { return statuses[s] }

// IsTerminal reports whether no event is accepted from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejectedByManager || s == StatusRejectedByHandler
}

// ParseStatus maps a stored code to a Status.
func ParseStatus(code string) (Status, bool) {
	s := Status(code)
	return s, statuses[s]
}

type Event string

const (
	EventSubmit          Event = "submit"
	EventEdit            Event = "edit"
	EventCancel          Event = "cancel"
	EventManagerApprove  Event = "manager-approve"
	EventManagerReject   Event = "manager-reject"
	EventAddProtocol     Event = "add-protocol"
	EventStartProcessing Event = "start-processing"
	EventComplete        Event = "complete"
	EventHandlerReject   Event = "handler-reject"
)

// Events lists every event in the order NextActions reports them.
var Events = []Event{
	EventSubmit,
	EventEdit,
	EventCancel,
	EventManagerApprove,
	EventManagerReject,
	EventAddProtocol,
	EventStartProcessing,
	EventComplete,
	EventHandlerReject,
}

var legal = map[Event][]Status{
	EventSubmit:          {StatusDraft},
	EventEdit:            {StatusDraft, StatusSubmitted},
	EventCancel:          {StatusDraft, StatusSubmitted},
	EventManagerApprove:  {StatusSubmitted},
	EventManagerReject:   {StatusSubmitted},
	EventAddProtocol:     {StatusPendingSecretarialProtocol},
	EventStartProcessing: {StatusApprovedByManager, StatusForCentralProtocol},
	EventComplete:        {StatusUnderProcessing},
	EventHandlerReject:   {StatusApprovedByManager, StatusForCentralProtocol, StatusUnderProcessing},
}

func (e Event) Valid() bool {
	_, ok := legal[e]
	return ok
}

// LegalFrom reports whether e is accepted from s, ignoring who fires it.
func (e Event) LegalFrom(s Status) bool {
	for _, from := range legal[e] {
		if from == s {
			return true
		}
	}
	return false
}
