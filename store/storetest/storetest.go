// Package storetest is a contract suite run against every store.Store backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apettas/adeies/ledger"
	"github.com/apettas/adeies/org"
	"github.com/apettas/adeies/org/orgtest"
	"github.com/apettas/adeies/store"
	"github.com/apettas/adeies/workflow"
)

var base = time.Date(2025, time.February, 3, 8, 30, 0, 0, time.UTC)

// LeaveTypes seeded by Seed.
var LeaveTypes = []workflow.LeaveType{
	{ID: "regular", Code: "regular", Name: "Regular leave", Deductible: true, Active: true},
	{ID: "sick", Code: "sick", Name: "Sick leave", Active: true},
}

// Seed writes the orgtest fixture and LeaveTypes into s.
func Seed(t testing.TB, s store.Seeder) {
	t.Helper()
	ctx := context.Background()
	for _, d := range orgtest.Departments() {
		require.NoError(t, s.SaveDepartment(ctx, d))
	}
	for _, u := range orgtest.Users() {
		require.NoError(t, s.SaveUser(ctx, u))
	}
	for _, lt := range LeaveTypes {
		require.NoError(t, s.SaveLeaveType(ctx, lt))
	}
}

// Run executes the contract suite. open must return an empty store; it is
// called once per subtest.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Directory", testDirectory},
		{"LeaveTypes", testLeaveTypes},
		{"RequestRoundTrip", testRequestRoundTrip},
		{"ListRequests", testListRequests},
		{"SwapRequest", testSwapRequest},
		{"Ledger", testLedger},
		{"TxRollback", testTxRollback},
		{"Runs", testRuns},
		{"Reset", testReset},
		{"EngineFlow", testEngineFlow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			Seed(t, s)
			tt.fn(t, s)
		})
	}
}

func request(id workflow.RequestID, owner org.UserID, created time.Time) workflow.LeaveRequest {
	return workflow.LeaveRequest{
		ID:          id,
		OwnerID:     owner,
		LeaveTypeID: "regular",
		Status:      workflow.StatusDraft,
		Periods: workflow.Periods{
			workflow.NewPeriod(base.AddDate(0, 1, 0), base.AddDate(0, 1, 4)),
		},
		Version:   1,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

// =============================================================================
// DIRECTORY
// =============================================================================

func testDirectory(t *testing.T, s store.Store) {
	ctx := context.Background()

	depts, err := s.Departments(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, orgtest.Departments(), depts)

	users, err := s.Users(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, orgtest.Users(), users)

	// The directory is enough to build the resolver
	res, err := org.Load(ctx, s, orgtest.Config())
	require.NoError(t, err)
	approver, err := res.ResolveApprover(orgtest.User(t, res, orgtest.AEmployee))
	require.NoError(t, err)
	require.NotNil(t, approver)
	assert.Equal(t, orgtest.AManager, approver.ID)

	// Saving again replaces
	u := orgtest.User(t, res, orgtest.HREmployee)
	u.Name = "Renamed"
	u.Roles = u.Roles.With(org.RoleSecretary)
	require.NoError(t, s.SaveUser(ctx, u))
	users, err = s.Users(ctx)
	require.NoError(t, err)
	assert.Len(t, users, len(orgtest.Users()))
	for _, got := range users {
		if got.ID == u.ID {
			assert.Equal(t, "Renamed", got.Name)
			assert.True(t, got.Has(org.RoleSecretary))
		}
	}
}

func testLeaveTypes(t *testing.T, s store.Store) {
	ctx := context.Background()

	all, err := s.LeaveTypes(ctx)
	require.NoError(t, err)
	assert.Equal(t, LeaveTypes, all)

	lt, err := s.LeaveType(ctx, "regular")
	require.NoError(t, err)
	assert.True(t, lt.Deductible)

	_, err = s.LeaveType(ctx, "nope")
	assert.ErrorIs(t, err, workflow.ErrLeaveTypeNotFound)
}

// =============================================================================
// REQUESTS
// =============================================================================

func testRequestRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()

	req := request("req-1", orgtest.AEmployee, base)
	req.Justification = "family"
	req.Periods = append(req.Periods, workflow.NewPeriod(base.AddDate(0, 2, 0), base.AddDate(0, 2, 0)))
	require.NoError(t, s.CreateRequest(ctx, req))

	got, err := s.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, req, got)

	assert.Error(t, s.CreateRequest(ctx, req), "duplicate id")

	_, err = s.GetRequest(ctx, "missing")
	assert.ErrorIs(t, err, workflow.ErrRequestNotFound)

	// Stamps survive a swap
	next := got.Clone()
	next.Status = workflow.StatusRejectedByManager
	next.Submitted = &workflow.Stamp{By: orgtest.AEmployee, At: base.Add(time.Hour)}
	next.ManagerDecision = &workflow.Stamp{By: orgtest.AManager, At: base.Add(2 * time.Hour), Reason: "staffing"}
	next.Protocol = &workflow.Stamp{By: orgtest.KedasySecretary, At: base.Add(3 * time.Hour), Number: "77/2025"}
	next.CancelledByOwner = true
	next.Version = 2
	next.UpdatedAt = base.Add(2 * time.Hour)
	require.NoError(t, s.SwapRequest(ctx, next, workflow.StatusDraft, 1))

	got, err = s.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, next, got)
}

func testListRequests(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i, owner := range []org.UserID{orgtest.AEmployee, orgtest.HREmployee, orgtest.AEmployee} {
		r := request(workflow.RequestID(fmt.Sprintf("req-%d", i)), owner, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.CreateRequest(ctx, r))
	}
	submitted, err := s.GetRequest(ctx, "req-0")
	require.NoError(t, err)
	submitted.Status = workflow.StatusSubmitted
	submitted.Version = 2
	require.NoError(t, s.SwapRequest(ctx, submitted, workflow.StatusDraft, 1))

	ids := func(rs []workflow.LeaveRequest) []workflow.RequestID {
		out := make([]workflow.RequestID, 0, len(rs))
		for _, r := range rs {
			out = append(out, r.ID)
		}
		return out
	}

	all, err := s.ListRequests(ctx, workflow.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []workflow.RequestID{"req-2", "req-1", "req-0"}, ids(all), "newest first")

	mine, err := s.ListRequests(ctx, workflow.Filter{OwnerIDs: []org.UserID{orgtest.AEmployee}})
	require.NoError(t, err)
	assert.Equal(t, []workflow.RequestID{"req-2", "req-0"}, ids(mine))

	byStatus, err := s.ListRequests(ctx, workflow.Filter{Statuses: []workflow.Status{workflow.StatusSubmitted}})
	require.NoError(t, err)
	assert.Equal(t, []workflow.RequestID{"req-0"}, ids(byStatus))

	limited, err := s.ListRequests(ctx, workflow.Filter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []workflow.RequestID{"req-2"}, ids(limited))
}

func testSwapRequest(t *testing.T, s store.Store) {
	// GIVEN: A stored draft at version 1
	// WHEN: Two writers swap based on the same read
	// THEN: The first wins, the second gets ErrStale and writes nothing

	ctx := context.Background()
	require.NoError(t, s.CreateRequest(ctx, request("req-1", orgtest.AEmployee, base)))

	first := request("req-1", orgtest.AEmployee, base)
	first.Status = workflow.StatusSubmitted
	first.Version = 2
	second := request("req-1", orgtest.AEmployee, base)
	second.Status = workflow.StatusRejectedByManager
	second.Version = 2

	require.NoError(t, s.SwapRequest(ctx, first, workflow.StatusDraft, 1))
	assert.ErrorIs(t, s.SwapRequest(ctx, second, workflow.StatusDraft, 1), workflow.ErrStale)

	got, err := s.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSubmitted, got.Status)
	assert.Equal(t, 2, got.Version)

	wrongStatus := first
	wrongStatus.Version = 3
	assert.ErrorIs(t, s.SwapRequest(ctx, wrongStatus, workflow.StatusDraft, 2), workflow.ErrStale)

	ghost := request("ghost", orgtest.AEmployee, base)
	err = s.SwapRequest(ctx, ghost, workflow.StatusDraft, 1)
	assert.True(t, errors.Is(err, workflow.ErrRequestNotFound) || errors.Is(err, workflow.ErrStale))
}

// =============================================================================
// LEDGER
// =============================================================================

func testLedger(t *testing.T, s store.Store) {
	ctx := context.Background()

	b, err := s.Balance(ctx, orgtest.AEmployee)
	require.NoError(t, err)
	assert.Equal(t, ledger.NewBalance(25, 5, 25), b)

	_, err = s.Balance(ctx, "ghost")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	after, err := ledger.Deduct(b, 8)
	require.NoError(t, err)
	entry := ledger.Entry{
		ID:             "e-1",
		UserID:         orgtest.AEmployee,
		Kind:           ledger.EntryDeduction,
		Days:           8,
		Before:         b,
		After:          after,
		ReferenceID:    "req-1",
		IdempotencyKey: ledger.DeductionKey("req-1"),
		CreatedAt:      base,
	}
	require.NoError(t, s.ApplyEntry(ctx, entry))

	b, err = s.Balance(ctx, orgtest.AEmployee)
	require.NoError(t, err)
	assert.Equal(t, ledger.NewBalance(25, 0, 22), b)

	exists, err := s.EntryExists(ctx, ledger.DeductionKey("req-1"))
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = s.EntryExists(ctx, ledger.DeductionKey("req-2"))
	require.NoError(t, err)
	assert.False(t, exists)

	dup := entry
	dup.ID = "e-2"
	dup.After = ledger.NewBalance(25, 0, 0)
	assert.ErrorIs(t, s.ApplyEntry(ctx, dup), ledger.ErrDuplicateKey)
	b, err = s.Balance(ctx, orgtest.AEmployee)
	require.NoError(t, err)
	assert.Equal(t, 22, b.Total, "a duplicate key changes nothing")

	adj := ledger.Entry{
		ID:        "e-3",
		UserID:    orgtest.AEmployee,
		Kind:      ledger.EntryAdjustment,
		Days:      1,
		Before:    b,
		After:     ledger.NewBalance(25, 1, 22),
		Reason:    "correction",
		CreatedAt: base.Add(time.Minute),
	}
	require.NoError(t, s.ApplyEntry(ctx, adj))

	entries, err := s.Entries(ctx, orgtest.AEmployee)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, entry, entries[0])
	assert.Equal(t, adj, entries[1])

	assert.ErrorIs(t, s.ApplyEntry(ctx, ledger.Entry{ID: "e-4", UserID: "ghost", Kind: ledger.EntryAdjustment, CreatedAt: base}), ledger.ErrAccountNotFound)

	accounts, err := s.Accounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, len(orgtest.Users())-1, "inactive users have no account")
	assert.NotContains(t, accounts, orgtest.HRInactive)
	assert.True(t, sort.SliceIsSorted(accounts, func(i, j int) bool { return accounts[i] < accounts[j] }))
}

func testTxRollback(t *testing.T, s store.Store) {
	// GIVEN: A transaction that deducts and swaps, then fails
	// WHEN: It returns an error
	// THEN: Neither the entry nor the status change persists

	ctx := context.Background()
	require.NoError(t, s.CreateRequest(ctx, request("req-1", orgtest.AEmployee, base)))
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx workflow.Tx) error {
		req, err := tx.GetRequest(ctx, "req-1")
		if err != nil {
			return err
		}
		if _, _, err := ledger.ApplyDeduction(ctx, tx, req.OwnerID, 5, string(req.ID), base); err != nil {
			return err
		}
		next := req.Clone()
		next.Status = workflow.StatusSubmitted
		next.Version = 2
		if err := tx.SwapRequest(ctx, next, req.Status, req.Version); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusDraft, got.Status)
	b, err := s.Balance(ctx, orgtest.AEmployee)
	require.NoError(t, err)
	assert.Equal(t, 30, b.Total)
	exists, err := s.EntryExists(ctx, ledger.DeductionKey("req-1"))
	require.NoError(t, err)
	assert.False(t, exists)

	err = s.WithBalanceTx(ctx, func(ls ledger.Store) error {
		if _, _, err := ledger.ApplyDeduction(ctx, ls, orgtest.AEmployee, 5, "req-1", base); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	b, err = s.Balance(ctx, orgtest.AEmployee)
	require.NoError(t, err)
	assert.Equal(t, 30, b.Total)
}

// =============================================================================
// RUNS + RESET
// =============================================================================

func testRuns(t *testing.T, s store.Store) {
	ctx := context.Background()

	run := ledger.Run{ID: "run-1", Year: 2025, Status: ledger.RunRunning, StartedAt: base}
	require.NoError(t, s.SaveRun(ctx, run))
	done := base.Add(time.Minute)
	run.Status = ledger.RunCompleted
	run.Reset = 20
	run.Skipped = 1
	run.CompletedAt = &done
	require.NoError(t, s.SaveRun(ctx, run))
	require.NoError(t, s.SaveRun(ctx, ledger.Run{ID: "run-2", Year: 2026, Status: ledger.RunFailed, Error: "db down", StartedAt: base.AddDate(1, 0, 0)}))

	runs, err := s.Runs(ctx, 2025)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run, runs[0])

	all, err := s.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "run-2", all[0].ID, "newest first")
}

func testReset(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRequest(ctx, request("req-1", orgtest.AEmployee, base)))

	require.NoError(t, s.Reset(ctx))

	users, err := s.Users(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
	reqs, err := s.ListRequests(ctx, workflow.Filter{})
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

// =============================================================================
// END TO END
// =============================================================================

func testEngineFlow(t *testing.T, s store.Store) {
	ctx := context.Background()
	engine := workflow.NewEngine(s, org.NewCache(s, orgtest.Config()), workflow.WithClock(func() time.Time { return base }))

	req, err := engine.Create(ctx, orgtest.AEmployee, workflow.Draft{
		LeaveTypeID: "regular",
		Periods:     workflow.Periods{workflow.NewPeriod(base.AddDate(0, 1, 0), base.AddDate(0, 1, 7))},
	})
	require.NoError(t, err)

	steps := []struct {
		event workflow.Event
		actor org.UserID
	}{
		{workflow.EventSubmit, orgtest.AEmployee},
		{workflow.EventManagerApprove, orgtest.AManager},
		{workflow.EventStartProcessing, orgtest.Handler},
		{workflow.EventComplete, orgtest.Handler},
	}
	for _, st := range steps {
		_, err := engine.Apply(ctx, req.ID, st.event, st.actor, workflow.Payload{})
		require.NoError(t, err, "%s", st.event)
	}
	_, err = engine.Apply(ctx, req.ID, workflow.EventComplete, orgtest.Handler, workflow.Payload{})
	assert.True(t, workflow.IsInvalidTransition(err))

	b, err := s.Balance(ctx, orgtest.AEmployee)
	require.NoError(t, err)
	assert.Equal(t, ledger.NewBalance(25, 0, 22), b)

	got, err := s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, got.Status)
	assert.Equal(t, 5, got.Version)
}
