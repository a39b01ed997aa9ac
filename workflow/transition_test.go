package workflow_test

import (
	"testing"
	"time"

	"github.com/apettas/adeies/org"
	"github.com/apettas/adeies/org/orgtest"
	"github.com/apettas/adeies/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var t0 = time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)

func day(m time.Month, d int) time.Time { return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC) }

func draftOf(owner org.UserID, periods ...workflow.Period) workflow.LeaveRequest {
	return workflow.LeaveRequest{
		ID:          "req-1",
		OwnerID:     owner,
		LeaveTypeID: "regular",
		Status:      workflow.StatusDraft,
		Periods:     periods,
		Version:     1,
		CreatedAt:   t0,
		UpdatedAt:   t0,
	}
}

func fiveDays() workflow.Period { return workflow.NewPeriod(day(time.April, 7), day(time.April, 11)) }

// step fires event and fails the test on error.
func step(t *testing.T, res *org.Resolver, req workflow.LeaveRequest, ev workflow.Event, actor org.UserID, p workflow.Payload) workflow.LeaveRequest {
	t.Helper()
	next, err := workflow.Transition(res, req, ev, orgtest.User(t, res, actor), p, t0)
	require.NoError(t, err, "%s by %s from %s", ev, actor, req.Status)
	return next
}

func refuse(t *testing.T, res *org.Resolver, req workflow.LeaveRequest, ev workflow.Event, actor org.UserID, p workflow.Payload) *workflow.TransitionError {
	t.Helper()
	next, err := workflow.Transition(res, req, ev, orgtest.User(t, res, actor), p, t0)
	require.Error(t, err, "%s by %s from %s", ev, actor, req.Status)
	assert.Equal(t, req, next, "a refused transition leaves the request unchanged")
	var te *workflow.TransitionError
	require.ErrorAs(t, err, &te)
	return te
}

// =============================================================================
// PATHS
// =============================================================================

func TestTransition_RegularPathToCompleted(t *testing.T) {
	// GIVEN: An employee of DIR-A with a five day draft
	// WHEN: submit → manager-approve → start-processing → complete
	// THEN: Every step lands in the expected status with its stamp

	res := orgtest.Resolver(t)
	req := draftOf(orgtest.AEmployee, fiveDays())

	req = step(t, res, req, workflow.EventSubmit, orgtest.AEmployee, workflow.Payload{})
	assert.Equal(t, workflow.StatusSubmitted, req.Status)
	require.NotNil(t, req.Submitted)
	assert.Equal(t, orgtest.AEmployee, req.Submitted.By)

	req = step(t, res, req, workflow.EventManagerApprove, orgtest.AManager, workflow.Payload{})
	assert.Equal(t, workflow.StatusApprovedByManager, req.Status)
	assert.Equal(t, orgtest.AManager, req.ManagerDecision.By)

	req = step(t, res, req, workflow.EventStartProcessing, orgtest.Handler, workflow.Payload{ProtocolNumber: " 123/2025 "})
	assert.Equal(t, workflow.StatusUnderProcessing, req.Status)
	assert.Equal(t, "123/2025", req.Processing.Number)

	req = step(t, res, req, workflow.EventComplete, orgtest.Handler, workflow.Payload{})
	assert.Equal(t, workflow.StatusCompleted, req.Status)
	assert.Equal(t, 5, req.Version)
	assert.True(t, req.Status.IsTerminal())
}

func TestTransition_SecretarialPathNeedsProtocol(t *testing.T) {
	// GIVEN: A KEDASY employee (secretarial category), approved by the manager
	// WHEN: The handler tries to start processing before a protocol is added
	// THEN: invalid_transition; after add-protocol it succeeds

	res := orgtest.Resolver(t)
	req := draftOf(orgtest.KedasyEmployee, fiveDays())
	req = step(t, res, req, workflow.EventSubmit, orgtest.KedasyEmployee, workflow.Payload{})
	req = step(t, res, req, workflow.EventManagerApprove, orgtest.KedasyManager, workflow.Payload{})
	assert.Equal(t, workflow.StatusPendingSecretarialProtocol, req.Status)

	te := refuse(t, res, req, workflow.EventStartProcessing, orgtest.Handler, workflow.Payload{})
	assert.Equal(t, workflow.KindInvalidTransition, te.Kind)

	te = refuse(t, res, req, workflow.EventAddProtocol, orgtest.KedasySecretary, workflow.Payload{})
	assert.Equal(t, workflow.KindValidationFailed, te.Kind)

	te = refuse(t, res, req, workflow.EventAddProtocol, orgtest.KedasyEmployee, workflow.Payload{ProtocolNumber: "77"})
	assert.Equal(t, workflow.KindUnauthorized, te.Kind)

	req = step(t, res, req, workflow.EventAddProtocol, orgtest.KedasySecretary, workflow.Payload{ProtocolNumber: "77"})
	assert.Equal(t, workflow.StatusForCentralProtocol, req.Status)
	assert.Equal(t, "77", req.Protocol.Number)

	req = step(t, res, req, workflow.EventStartProcessing, orgtest.Handler, workflow.Payload{})
	assert.Equal(t, workflow.StatusUnderProcessing, req.Status)
}

func TestTransition_RejectionsAreTerminal(t *testing.T) {
	res := orgtest.Resolver(t)
	submitted := step(t, res, draftOf(orgtest.AEmployee, fiveDays()), workflow.EventSubmit, orgtest.AEmployee, workflow.Payload{})

	te := refuse(t, res, submitted, workflow.EventManagerReject, orgtest.AManager, workflow.Payload{Reason: "  "})
	assert.Equal(t, workflow.KindValidationFailed, te.Kind)

	rejected := step(t, res, submitted, workflow.EventManagerReject, orgtest.AManager, workflow.Payload{Reason: "staffing"})
	assert.Equal(t, workflow.StatusRejectedByManager, rejected.Status)
	assert.Equal(t, "staffing", rejected.ManagerDecision.Reason)
	assert.False(t, rejected.CancelledByOwner)

	for _, ev := range workflow.Events {
		te := refuse(t, res, rejected, ev, orgtest.Handler, workflow.Payload{Reason: "x", ProtocolNumber: "x"})
		assert.Equal(t, workflow.KindInvalidTransition, te.Kind, "event %s", ev)
	}
}

func TestTransition_HandlerReject(t *testing.T) {
	res := orgtest.Resolver(t)
	req := step(t, res, draftOf(orgtest.AEmployee, fiveDays()), workflow.EventSubmit, orgtest.AEmployee, workflow.Payload{})
	req = step(t, res, req, workflow.EventManagerApprove, orgtest.AManager, workflow.Payload{})

	te := refuse(t, res, req, workflow.EventHandlerReject, orgtest.Handler, workflow.Payload{})
	assert.Equal(t, workflow.KindValidationFailed, te.Kind)

	te = refuse(t, res, req, workflow.EventHandlerReject, orgtest.AManager, workflow.Payload{Reason: "no"})
	assert.Equal(t, workflow.KindUnauthorized, te.Kind)

	req = step(t, res, req, workflow.EventHandlerReject, orgtest.Handler, workflow.Payload{Reason: "missing documents"})
	assert.Equal(t, workflow.StatusRejectedByHandler, req.Status)
	assert.Equal(t, "missing documents", req.HandlerDecision.Reason)
}

func TestTransition_OwnerCancel(t *testing.T) {
	res := orgtest.Resolver(t)
	req := step(t, res, draftOf(orgtest.AEmployee, fiveDays()), workflow.EventSubmit, orgtest.AEmployee, workflow.Payload{})

	te := refuse(t, res, req, workflow.EventCancel, orgtest.AManager, workflow.Payload{})
	assert.Equal(t, workflow.KindUnauthorized, te.Kind)

	cancelled := step(t, res, req, workflow.EventCancel, orgtest.AEmployee, workflow.Payload{})
	assert.Equal(t, workflow.StatusRejectedByManager, cancelled.Status)
	assert.True(t, cancelled.CancelledByOwner)
	assert.Equal(t, orgtest.AEmployee, cancelled.ManagerDecision.By)
}

func TestTransition_Edit(t *testing.T) {
	res := orgtest.Resolver(t)
	req := draftOf(orgtest.AEmployee)

	justification := " family trip "
	edited := step(t, res, req, workflow.EventEdit, orgtest.AEmployee, workflow.Payload{
		Periods:       workflow.Periods{fiveDays()},
		Justification: &justification,
	})
	assert.Equal(t, workflow.StatusDraft, edited.Status)
	assert.Equal(t, 5, edited.TotalDays())
	assert.Equal(t, "family trip", edited.Justification)

	overlapping := workflow.Periods{fiveDays(), workflow.NewPeriod(day(time.April, 10), day(time.April, 14))}
	te := refuse(t, res, edited, workflow.EventEdit, orgtest.AEmployee, workflow.Payload{Periods: overlapping})
	assert.Equal(t, workflow.KindValidationFailed, te.Kind)

	submitted := step(t, res, edited, workflow.EventSubmit, orgtest.AEmployee, workflow.Payload{})
	te = refuse(t, res, submitted, workflow.EventEdit, orgtest.AEmployee, workflow.Payload{Periods: workflow.Periods{}})
	assert.Equal(t, workflow.KindValidationFailed, te.Kind, "a submitted request keeps at least one period")
}

// =============================================================================
// GUARDS
// =============================================================================

func TestTransition_OnlyResolvedApproverDecides(t *testing.T) {
	// GIVEN: A DIR-A employee's submitted request
	// WHEN: Managers other than the DIR-A manager try to approve
	// THEN: unauthorized, including managers higher up the tree

	res := orgtest.Resolver(t)
	req := step(t, res, draftOf(orgtest.AEmployee, fiveDays()), workflow.EventSubmit, orgtest.AEmployee, workflow.Payload{})

	for _, who := range []org.UserID{orgtest.DirManager, orgtest.RootManager, orgtest.HRManager, orgtest.AEmployee, orgtest.Handler} {
		te := refuse(t, res, req, workflow.EventManagerApprove, who, workflow.Payload{})
		assert.Equal(t, workflow.KindUnauthorized, te.Kind, "actor %s", who)
		assert.ErrorIs(t, te, workflow.ErrUnauthorized)
	}
}

func TestTransition_ManagerRequestGoesUpTheTree(t *testing.T) {
	res := orgtest.Resolver(t)
	req := step(t, res, draftOf(orgtest.AManager, fiveDays()), workflow.EventSubmit, orgtest.AManager, workflow.Payload{})

	refuse(t, res, req, workflow.EventManagerApprove, orgtest.AManager, workflow.Payload{})
	req = step(t, res, req, workflow.EventManagerApprove, orgtest.DirManager, workflow.Payload{})
	assert.Equal(t, workflow.StatusApprovedByManager, req.Status)
}

func TestTransition_NoApprover(t *testing.T) {
	res := orgtest.Resolver(t)

	te := refuse(t, res, draftOf(orgtest.EmptyEmployee, fiveDays()), workflow.EventSubmit, orgtest.EmptyEmployee, workflow.Payload{})
	assert.Equal(t, workflow.KindNoApprover, te.Kind)
	assert.ErrorIs(t, te, workflow.ErrNoApprover)

	te = refuse(t, res, draftOf(orgtest.RootManager, fiveDays()), workflow.EventSubmit, orgtest.RootManager, workflow.Payload{})
	assert.Equal(t, workflow.KindNoApprover, te.Kind)
}

func TestTransition_SubmitValidation(t *testing.T) {
	res := orgtest.Resolver(t)

	te := refuse(t, res, draftOf(orgtest.AEmployee), workflow.EventSubmit, orgtest.AEmployee, workflow.Payload{})
	assert.Equal(t, workflow.KindValidationFailed, te.Kind)

	tooLong := workflow.NewPeriod(day(time.January, 1), day(time.January, 1).AddDate(1, 0, 0))
	te = refuse(t, res, draftOf(orgtest.AEmployee, tooLong), workflow.EventSubmit, orgtest.AEmployee, workflow.Payload{})
	assert.Equal(t, workflow.KindValidationFailed, te.Kind)

	te = refuse(t, res, draftOf(orgtest.AEmployee, fiveDays()), workflow.EventSubmit, orgtest.AManager, workflow.Payload{})
	assert.Equal(t, workflow.KindUnauthorized, te.Kind)
}

func TestTransition_InactiveActor(t *testing.T) {
	res := orgtest.Resolver(t)
	req := draftOf(orgtest.HRInactive, fiveDays())

	te := refuse(t, res, req, workflow.EventSubmit, orgtest.HRInactive, workflow.Payload{})
	assert.Equal(t, workflow.KindUnauthorized, te.Kind)
}

func TestTransition_StatusCheckedBeforeGuards(t *testing.T) {
	// GIVEN: An approved request
	// WHEN: A random employee fires manager-approve
	// THEN: invalid_transition wins over unauthorized

	res := orgtest.Resolver(t)
	req := step(t, res, draftOf(orgtest.AEmployee, fiveDays()), workflow.EventSubmit, orgtest.AEmployee, workflow.Payload{})
	req = step(t, res, req, workflow.EventManagerApprove, orgtest.AManager, workflow.Payload{})

	te := refuse(t, res, req, workflow.EventManagerApprove, orgtest.HREmployee, workflow.Payload{})
	assert.Equal(t, workflow.KindInvalidTransition, te.Kind)
}

// =============================================================================
// VISIBILITY + ACTIONS
// =============================================================================

func TestCanView(t *testing.T) {
	res := orgtest.Resolver(t)
	req := draftOf(orgtest.KedasyEmployee, fiveDays())

	tests := []struct {
		viewer org.UserID
		want   bool
	}{
		{orgtest.KedasyEmployee, true},
		{orgtest.KedasyManager, true},
		{orgtest.KedasySecretary, true},
		{orgtest.Handler, true},
		{orgtest.HREmployee, false},
		{orgtest.HRManager, false},
		{orgtest.RootManager, false},
		{orgtest.HRInactive, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.viewer), func(t *testing.T) {
			assert.Equal(t, tt.want, workflow.CanView(res, req, orgtest.User(t, res, tt.viewer)))
		})
	}
}

func TestCanView_ApproverOutsideDepartment(t *testing.T) {
	res := orgtest.Resolver(t)

	// GIVEN: A manager's request, decided by the directorate manager
	req := draftOf(orgtest.AManager, fiveDays())

	// THEN: The resolved approver sees it, other managers do not
	assert.True(t, workflow.CanView(res, req, orgtest.User(t, res, orgtest.DirManager)))
	assert.False(t, workflow.CanView(res, req, orgtest.User(t, res, orgtest.A1Manager)))
	assert.False(t, workflow.CanView(res, req, orgtest.User(t, res, orgtest.RootManager)))

	// GIVEN: An employee's request, decided by the department manager
	req = draftOf(orgtest.AEmployee, fiveDays())

	// THEN: The rest of the approval chain is not admitted
	assert.True(t, workflow.CanView(res, req, orgtest.User(t, res, orgtest.AManager)))
	assert.False(t, workflow.CanView(res, req, orgtest.User(t, res, orgtest.DirManager)))
	assert.False(t, workflow.CanView(res, req, orgtest.User(t, res, orgtest.RootManager)))
}

func TestNextActions(t *testing.T) {
	res := orgtest.Resolver(t)
	req := draftOf(orgtest.AEmployee, fiveDays())

	events := func(as []workflow.Action) []workflow.Event {
		out := make([]workflow.Event, 0, len(as))
		for _, a := range as {
			out = append(out, a.Event)
		}
		return out
	}

	owner := orgtest.User(t, res, orgtest.AEmployee)
	manager := orgtest.User(t, res, orgtest.AManager)
	handler := orgtest.User(t, res, orgtest.Handler)

	assert.ElementsMatch(t,
		[]workflow.Event{workflow.EventSubmit, workflow.EventEdit, workflow.EventCancel},
		events(workflow.NextActions(res, req, owner)))
	assert.Empty(t, workflow.NextActions(res, req, manager))

	req = step(t, res, req, workflow.EventSubmit, orgtest.AEmployee, workflow.Payload{})
	actions := workflow.NextActions(res, req, manager)
	assert.ElementsMatch(t,
		[]workflow.Event{workflow.EventManagerApprove, workflow.EventManagerReject},
		events(actions))
	for _, a := range actions {
		assert.Equal(t, a.Event == workflow.EventManagerReject, a.RequiresReason)
	}
	assert.Empty(t, workflow.NextActions(res, req, handler))

	req = step(t, res, req, workflow.EventManagerApprove, orgtest.AManager, workflow.Payload{})
	assert.ElementsMatch(t,
		[]workflow.Event{workflow.EventStartProcessing, workflow.EventHandlerReject},
		events(workflow.NextActions(res, req, handler)))
}

func TestPeriods(t *testing.T) {
	single := workflow.NewPeriod(day(time.May, 5), day(time.May, 5))
	assert.Equal(t, 1, single.Days())

	ps := workflow.Periods{single, fiveDays()}
	assert.Equal(t, 6, ps.TotalDays())
	require.NoError(t, ps.Validate())
	require.NoError(t, ps.ValidateForSubmit())

	reversed := workflow.Periods{workflow.NewPeriod(day(time.May, 9), day(time.May, 5))}
	assert.ErrorIs(t, reversed.Validate(), workflow.ErrValidationFailed)

	adjacent := workflow.Periods{
		workflow.NewPeriod(day(time.May, 1), day(time.May, 4)),
		workflow.NewPeriod(day(time.May, 5), day(time.May, 6)),
	}
	assert.NoError(t, adjacent.Validate())
}
