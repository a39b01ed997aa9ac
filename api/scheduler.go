/*
scheduler.go - Yearly rollover scheduler

PURPOSE:
  Runs the ledger's yearly rollover on a cron schedule (default midnight on
  January 1st) and records every execution as a ledger.Run for audit and
  the admin UI.

DESIGN:
  - robfig/cron drives the schedule; an empty schedule disables it
  - Runs are serialised: a manual RunYear waits for a scheduled one
  - Rollover is idempotent per (user, year), so a re-run after a crash or
    a manual trigger resets nobody twice

USAGE:
  s := NewRolloverScheduler(ledger, runs, "0 0 1 1 *", WithSchedulerLogger(log))
  if err := s.Start(ctx); err != nil { ... }
  defer s.Stop()

SEE ALSO:
  - handlers.go: POST /api/admin/rollover (manual trigger)
  - ledger/ledger.go: Rollover
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/apettas/adeies/ledger"
)

// RolloverScheduler runs ledger.Rollover on a schedule.
type RolloverScheduler struct {
	ledger   *ledger.Ledger
	runs     ledger.RunStore
	schedule string
	now      func() time.Time
	log      zerolog.Logger

	mu   sync.Mutex // serialises runs
	cron *cron.Cron
	ctx  context.Context
}

type SchedulerOption func(*RolloverScheduler)

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *RolloverScheduler) { s.now = now }
}

func WithSchedulerLogger(log zerolog.Logger) SchedulerOption {
	return func(s *RolloverScheduler) { s.log = log }
}

func NewRolloverScheduler(l *ledger.Ledger, runs ledger.RunStore, schedule string, opts ...SchedulerOption) *RolloverScheduler {
	s := &RolloverScheduler{
		ledger:   l,
		runs:     runs,
		schedule: schedule,
		now:      time.Now,
		log:      zerolog.Nop(),
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the job and starts the cron loop. Scheduled runs use ctx.
func (s *RolloverScheduler) Start(ctx context.Context) error {
	if s.schedule == "" {
		s.log.Info().Msg("rollover scheduler disabled")
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(s.schedule, func() {
		if _, err := s.RunYear(s.ctx, s.now().Year()); err != nil {
			s.log.Error().Err(err).Msg("scheduled rollover failed")
		}
	})
	if err != nil {
		return fmt.Errorf("rollover schedule %q: %w", s.schedule, err)
	}

	s.mu.Lock()
	s.ctx = ctx
	s.cron = c
	s.mu.Unlock()

	c.Start()
	s.log.Info().Str("schedule", s.schedule).Time("next", s.Next()).Msg("rollover scheduler started")
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (s *RolloverScheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.log.Info().Msg("rollover scheduler stopped")
}

// Next returns when the job fires next, or the zero time when not running.
func (s *RolloverScheduler) Next() time.Time {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	if c == nil {
		return time.Time{}
	}
	entries := c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunNow rolls over into the current year.
func (s *RolloverScheduler) RunNow(ctx context.Context) (ledger.Run, error) {
	return s.RunYear(ctx, s.now().Year())
}

// RunYear executes the rollover for year and records the run. The returned
// Run is saved even when the batch partly failed.
func (s *RolloverScheduler) RunYear(ctx context.Context, year int) (ledger.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := ledger.Run{
		ID:        uuid.NewString(),
		Year:      year,
		Status:    ledger.RunRunning,
		StartedAt: s.now().UTC(),
	}
	if err := s.runs.SaveRun(ctx, run); err != nil {
		return run, fmt.Errorf("failed to save run record: %w", err)
	}

	res, rollErr := s.ledger.Rollover(ctx, year)
	completed := s.now().UTC()
	run.Reset = res.Reset
	run.Skipped = res.Skipped
	run.CompletedAt = &completed
	run.Status = ledger.RunCompleted
	if rollErr != nil {
		run.Status = ledger.RunFailed
		run.Error = rollErr.Error()
	}
	if err := s.runs.SaveRun(ctx, run); err != nil {
		return run, fmt.Errorf("failed to update run record: %w", err)
	}

	s.log.Info().
		Str("run_id", run.ID).
		Int("year", year).
		Str("status", string(run.Status)).
		Int("reset", run.Reset).
		Int("skipped", run.Skipped).
		Msg("rollover run recorded")
	return run, rollErr
}

// Runs lists recorded runs, newest first. year 0 lists all.
func (s *RolloverScheduler) Runs(ctx context.Context, year int) ([]ledger.Run, error) {
	return s.runs.Runs(ctx, year)
}
