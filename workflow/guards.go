/*
guards.go - Pure transition function, visibility and next actions

PURPOSE:
  Transition decides, from already-loaded state only, whether an actor may fire
  an event on a request and what the request looks like afterwards. It does no
  I/O. Balance checks and deduction need the store and live in engine.go.

GUARDS:
  submit            owner; periods valid; owner can request leave and has an approver
  edit, cancel      owner
  manager-approve   actor == ResolveApprover(owner)
  manager-reject    same as approve; reason required
  add-protocol      secretary in the owner's department or the approver's department;
                    protocol number required
  start-processing  leave-handler; protocol number optional
  complete          leave-handler
  handler-reject    leave-handler; reason required

CHECK ORDER:
  1. Event legal from current status  → invalid_transition
  2. Actor passes the guard           → unauthorized / no_approver
  3. Payload is complete              → validation_failed

  Status is checked first so the loser of a race sees invalid_transition.

SEE ALSO:
  - status.go: legal table
  - org/resolver.go: ResolveApprover, CanRequestLeave, IsSecretarial
*/
package workflow

import (
	"strings"
	"time"

	"github.com/apettas/adeies/org"
)

// Payload carries event-specific input. Fields irrelevant to an event are ignored.
type Payload struct {
	Reason         string  `json:"reason,omitempty"`
	ProtocolNumber string  `json:"protocol_number,omitempty"`
	Periods        Periods `json:"periods,omitempty"`       // edit only; nil keeps the current periods
	Justification  *string `json:"justification,omitempty"` // edit only
}

// Transition returns the request after event, or a *TransitionError.
func Transition(res *org.Resolver, req LeaveRequest, event Event, actor org.User, p Payload, now time.Time) (LeaveRequest, error) {
	from := req.Status
	if !event.Valid() {
		return req, newError(KindInvalidTransition, event, from, "unknown event %q", event)
	}
	if !event.LegalFrom(from) {
		return req, newError(KindInvalidTransition, event, from, "not allowed from %s", from)
	}
	if !actor.Active {
		return req, newError(KindUnauthorized, event, from, "user %s is not active", actor.ID)
	}

	owner, err := res.User(req.OwnerID)
	if err != nil {
		return req, err
	}

	next := req.Clone()
	stamp := &Stamp{By: actor.ID, At: now.UTC()}

	switch event {
	case EventSubmit:
		if actor.ID != owner.ID {
			return req, newError(KindUnauthorized, event, from, "only the owner may submit")
		}
		if err := req.Periods.ValidateForSubmit(); err != nil {
			return req, validation(event, from, err)
		}
		if !res.CanRequestLeave(owner) {
			return req, newError(KindNoApprover, event, from, "the head of the organisation cannot request leave")
		}
		approver, err := res.ResolveApprover(owner)
		if err != nil {
			return req, err
		}
		if approver == nil {
			return req, newError(KindNoApprover, event, from, "no approver found for %s; the department has no active manager", owner.ID)
		}
		next.Status = StatusSubmitted
		next.Submitted = stamp

	case EventEdit:
		if actor.ID != owner.ID {
			return req, newError(KindUnauthorized, event, from, "only the owner may edit")
		}
		if p.Periods != nil {
			if err := p.Periods.Validate(); err != nil {
				return req, validation(event, from, err)
			}
			if from == StatusSubmitted {
				if err := p.Periods.ValidateForSubmit(); err != nil {
					return req, validation(event, from, err)
				}
			}
			next.Periods = normalize(p.Periods)
		}
		if p.Justification != nil {
			next.Justification = strings.TrimSpace(*p.Justification)
		}

	case EventCancel:
		if actor.ID != owner.ID {
			return req, newError(KindUnauthorized, event, from, "only the owner may cancel")
		}
		stamp.Reason = strings.TrimSpace(p.Reason)
		next.Status = StatusRejectedByManager
		next.ManagerDecision = stamp
		next.CancelledByOwner = true

	case EventManagerApprove, EventManagerReject:
		if err := requireApprover(res, owner, actor, event, from); err != nil {
			return req, err
		}
		if event == EventManagerReject {
			reason := strings.TrimSpace(p.Reason)
			if reason == "" {
				return req, newError(KindValidationFailed, event, from, "a reason is required to reject")
			}
			stamp.Reason = reason
			next.Status = StatusRejectedByManager
		} else if res.IsSecretarial(owner) {
			next.Status = StatusPendingSecretarialProtocol
		} else {
			next.Status = StatusApprovedByManager
		}
		next.ManagerDecision = stamp

	case EventAddProtocol:
		if !canAddProtocol(res, owner, actor) {
			return req, newError(KindUnauthorized, event, from, "only a secretary of the owner's or approver's department may add a protocol number")
		}
		number := strings.TrimSpace(p.ProtocolNumber)
		if number == "" {
			return req, newError(KindValidationFailed, event, from, "a protocol number is required")
		}
		stamp.Number = number
		next.Status = StatusForCentralProtocol
		next.Protocol = stamp

	case EventStartProcessing, EventComplete, EventHandlerReject:
		if !actor.Has(org.RoleLeaveHandler) {
			return req, newError(KindUnauthorized, event, from, "only a leave handler may %s", event)
		}
		switch event {
		case EventStartProcessing:
			stamp.Number = strings.TrimSpace(p.ProtocolNumber)
			next.Status = StatusUnderProcessing
			next.Processing = stamp
		case EventComplete:
			next.Status = StatusCompleted
			next.Completed = stamp
		case EventHandlerReject:
			reason := strings.TrimSpace(p.Reason)
			if reason == "" {
				return req, newError(KindValidationFailed, event, from, "a reason is required to reject")
			}
			stamp.Reason = reason
			next.Status = StatusRejectedByHandler
			next.HandlerDecision = stamp
		}
	}

	next.Version = req.Version + 1
	next.UpdatedAt = now.UTC()
	return next, nil
}

func validation(event Event, from Status, err error) *TransitionError {
	msg := strings.TrimPrefix(err.Error(), ErrValidationFailed.Error()+": ")
	return &TransitionError{Kind: KindValidationFailed, Event: event, From: from, Message: msg, Err: err}
}

func requireApprover(res *org.Resolver, owner, actor org.User, event Event, from Status) error {
	approver, err := res.ResolveApprover(owner)
	if err != nil {
		return err
	}
	if approver == nil {
		return newError(KindNoApprover, event, from, "no approver found for %s", owner.ID)
	}
	if approver.ID != actor.ID {
		return newError(KindUnauthorized, event, from, "%s is not the approver of %s", actor.ID, owner.ID)
	}
	return nil
}

func canAddProtocol(res *org.Resolver, owner, actor org.User) bool {
	if !actor.Has(org.RoleSecretary) || actor.DepartmentID == nil {
		return false
	}
	if owner.DepartmentID != nil && *actor.DepartmentID == *owner.DepartmentID {
		return true
	}
	approver, err := res.ResolveApprover(owner)
	return err == nil && approver != nil && approver.DepartmentID != nil &&
		*approver.DepartmentID == *actor.DepartmentID
}

func normalize(ps Periods) Periods {
	out := make(Periods, len(ps))
	for i, p := range ps {
		out[i] = NewPeriod(p.Start, p.End)
	}
	return out
}

// =============================================================================
// VISIBILITY + NEXT ACTIONS
// =============================================================================

// CanView reports whether viewer may see req: the owner, a manager of the
// owner's department, any leave handler, or a secretary when the owner's
// department is secretarial.
//
// The owner's resolved approver is admitted as well. For a manager's request
// that is someone outside the owner's department (the directorate or support
// center manager), who must read the request to decide it. The rest of the
// approval chain is not admitted.
func CanView(res *org.Resolver, req LeaveRequest, viewer org.User) bool {
	if !viewer.Active {
		return false
	}
	if viewer.ID == req.OwnerID || viewer.Has(org.RoleLeaveHandler) {
		return true
	}
	owner, err := res.User(req.OwnerID)
	if err != nil {
		return false
	}
	if res.IsDirectManager(viewer, owner) {
		return true
	}
	if viewer.Has(org.RoleSecretary) && res.IsSecretarial(owner) {
		return true
	}
	approver, err := res.ResolveApprover(owner)
	return err == nil && approver != nil && approver.ID == viewer.ID
}

// Action is an event the viewer may fire now, with the payload it needs.
type Action struct {
	Event            Event `json:"event"`
	RequiresReason   bool  `json:"requires_reason"`
	RequiresProtocol bool  `json:"requires_protocol"`
}

// NextActions derives the events viewer may fire on req. Payload fields are
// assumed to be supplied; the balance check at submit is not included.
func NextActions(res *org.Resolver, req LeaveRequest, viewer org.User) []Action {
	probe := Payload{Reason: "probe", ProtocolNumber: "probe"}
	var out []Action
	for _, ev := range Events {
		if !ev.LegalFrom(req.Status) {
			continue
		}
		if _, err := Transition(res, req, ev, viewer, probe, time.Time{}); err != nil {
			continue
		}
		out = append(out, Action{
			Event:            ev,
			RequiresReason:   ev == EventManagerReject || ev == EventHandlerReject,
			RequiresProtocol: ev == EventAddProtocol,
		})
	}
	return out
}
