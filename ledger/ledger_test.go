package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/apettas/adeies/ledger"
	"github.com/apettas/adeies/org"
	"github.com/apettas/adeies/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var fixedNow = time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T, users ...org.User) (*ledger.Ledger, *memory.Store) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	for _, u := range users {
		require.NoError(t, store.SaveUser(ctx, u))
	}
	return ledger.New(store, ledger.WithClock(func() time.Time { return fixedNow })), store
}

func account(id org.UserID, entitlement, carryover, current int) org.User {
	return org.User{
		ID:                id,
		Active:            true,
		Roles:             org.NewRoleSet(org.RoleEmployee),
		AnnualEntitlement: entitlement,
		CarryoverDays:     carryover,
		CurrentYearDays:   current,
	}
}

// =============================================================================
// DEDUCTION
// =============================================================================

func TestLedger_Deduct_JournalsAndUpdatesBalance(t *testing.T) {
	l, _ := newTestLedger(t, account("emp-1", 25, 5, 25))
	ctx := context.Background()

	entry, applied, err := l.Deduct(ctx, "emp-1", 8, "req-1")

	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, ledger.EntryDeduction, entry.Kind)
	assert.Equal(t, "deduct:req-1", entry.IdempotencyKey)
	assert.Equal(t, 30, entry.Before.Total)
	assert.Equal(t, 22, entry.After.Total)
	assert.Equal(t, fixedNow, entry.CreatedAt)

	b, err := l.Breakdown(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.NewBalance(25, 0, 22), b)
}

func TestLedger_Deduct_ExactlyOncePerRequest(t *testing.T) {
	// GIVEN: A deduction for req-1 already happened
	// WHEN: The same deduction is retried
	// THEN: It succeeds as a no-op; the balance drops once

	l, _ := newTestLedger(t, account("emp-1", 25, 5, 25))
	ctx := context.Background()

	_, applied, err := l.Deduct(ctx, "emp-1", 8, "req-1")
	require.NoError(t, err)
	require.True(t, applied)

	_, applied, err = l.Deduct(ctx, "emp-1", 8, "req-1")
	require.NoError(t, err)
	assert.False(t, applied)

	b, err := l.Breakdown(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, 22, b.Total)

	entries, err := l.Entries(ctx, "emp-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLedger_Deduct_InsufficientLeavesBalance(t *testing.T) {
	l, _ := newTestLedger(t, account("emp-1", 25, 5, 25))
	ctx := context.Background()

	_, _, err := l.Deduct(ctx, "emp-1", 31, "req-1")

	var ib *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assert.Equal(t, org.UserID("emp-1"), ib.UserID)

	b, err := l.Breakdown(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.NewBalance(25, 5, 25), b)

	entries, err := l.Entries(ctx, "emp-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLedger_Deduct_UnknownAccount(t *testing.T) {
	l, _ := newTestLedger(t)
	_, _, err := l.Deduct(context.Background(), "ghost", 1, "req-1")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

// =============================================================================
// YEARLY RESET + ROLLOVER
// =============================================================================

func TestLedger_YearlyReset_IsNotIdempotentByItself(t *testing.T) {
	l, _ := newTestLedger(t, account("emp-1", 25, 5, 22))
	ctx := context.Background()

	first, err := l.YearlyReset(ctx, "emp-1")
	require.NoError(t, err)
	second, err := l.YearlyReset(ctx, "emp-1")
	require.NoError(t, err)

	assert.Equal(t, 25, first.After.CurrentYear)
	assert.Equal(t, 25, second.After.CurrentYear)
	assert.Equal(t, first.After.CurrentYear, second.After.Carryover)
}

func TestLedger_Rollover_IdempotentPerYear(t *testing.T) {
	// GIVEN: Two active accounts and one inactive
	// WHEN: Rolling over 2026 twice
	// THEN: The first run resets both active accounts, the second skips them

	inactive := account("emp-3", 25, 1, 1)
	inactive.Active = false
	l, _ := newTestLedger(t,
		account("emp-1", 25, 5, 22),
		account("emp-2", 20, 0, 3),
		inactive,
	)
	ctx := context.Background()

	res, err := l.Rollover(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Reset)
	assert.Equal(t, 0, res.Skipped)

	res, err = l.Rollover(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Reset)
	assert.Equal(t, 2, res.Skipped)

	b, err := l.Breakdown(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.NewBalance(25, 22, 25), b)

	b, err = l.Breakdown(ctx, "emp-3")
	require.NoError(t, err)
	assert.Equal(t, ledger.NewBalance(25, 1, 1), b, "inactive accounts are not rolled over")

	// A different year applies again
	res, err = l.Rollover(ctx, 2027)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Reset)
}

func TestLedger_Adjust(t *testing.T) {
	l, _ := newTestLedger(t, account("emp-1", 25, 0, 10))
	ctx := context.Background()

	entry, err := l.Adjust(ctx, "emp-1", 2, -1, "data import correction")
	require.NoError(t, err)
	assert.Equal(t, ledger.EntryAdjustment, entry.Kind)
	assert.Equal(t, 1, entry.Days)
	assert.Equal(t, ledger.NewBalance(25, 2, 9), entry.After)

	_, err = l.Adjust(ctx, "emp-1", -5, 0, "oops")
	assert.ErrorIs(t, err, ledger.ErrNegativeBalance)

	_, err = l.Adjust(ctx, "emp-1", 1, 0, "")
	assert.Error(t, err)
}
