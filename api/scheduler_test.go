package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apettas/adeies/api"
	"github.com/apettas/adeies/ledger"
	"github.com/apettas/adeies/org/orgtest"
	"github.com/apettas/adeies/store/memory"
	"github.com/apettas/adeies/store/storetest"
)

func newScheduler(t *testing.T, schedule string) (*api.RolloverScheduler, *memory.Store) {
	t.Helper()
	s := memory.New()
	storetest.Seed(t, s)
	clock := func() time.Time { return now }
	l := ledger.New(s, ledger.WithClock(clock))
	return api.NewRolloverScheduler(l, s, schedule, api.WithSchedulerClock(clock)), s
}

func TestRolloverScheduler_RunYearIsIdempotent(t *testing.T) {
	sched, s := newScheduler(t, "")
	ctx := context.Background()

	// WHEN: Running the same year twice
	first, err := sched.RunYear(ctx, 2026)
	require.NoError(t, err)
	second, err := sched.RunYear(ctx, 2026)
	require.NoError(t, err)

	// THEN: Everyone was reset exactly once
	assert.Equal(t, ledger.RunCompleted, first.Status)
	assert.Equal(t, len(orgtest.Users()), first.Reset)
	assert.Zero(t, second.Reset)
	assert.Equal(t, first.Reset, second.Skipped)
	require.NotNil(t, first.CompletedAt)

	b, err := s.Balance(ctx, orgtest.AEmployee)
	require.NoError(t, err)
	assert.Equal(t, 25, b.Carryover)
	assert.Equal(t, 25, b.CurrentYear)

	// AND: Both runs are recorded, newest first
	runs, err := sched.Runs(ctx, 2026)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)

	none, err := sched.Runs(ctx, 2024)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRolloverScheduler_RunNowUsesClockYear(t *testing.T) {
	sched, _ := newScheduler(t, "")

	run, err := sched.RunNow(context.Background())

	require.NoError(t, err)
	assert.Equal(t, now.Year(), run.Year)
}

func TestRolloverScheduler_StartStop(t *testing.T) {
	t.Run("empty schedule is disabled", func(t *testing.T) {
		sched, _ := newScheduler(t, "")
		require.NoError(t, sched.Start(context.Background()))
		assert.True(t, sched.Next().IsZero())
		sched.Stop()
	})

	t.Run("invalid schedule fails", func(t *testing.T) {
		sched, _ := newScheduler(t, "every new year")
		assert.Error(t, sched.Start(context.Background()))
	})

	t.Run("valid schedule reports next run", func(t *testing.T) {
		sched, _ := newScheduler(t, "0 0 1 1 *")
		require.NoError(t, sched.Start(context.Background()))
		next := sched.Next()
		assert.False(t, next.IsZero())
		assert.Equal(t, time.January, next.Month())
		assert.Equal(t, 1, next.Day())

		sched.Stop()
		assert.True(t, sched.Next().IsZero())
		sched.Stop()
	})
}
