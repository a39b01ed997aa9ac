/*
ledger.go - Transactional balance service

PURPOSE:
  Wraps the pure balance functions with persistence. Every mutation reads the
  balance, computes the next one, and writes the journal entry plus the new
  balance inside one store transaction.

CRITICAL INVARIANTS:
  1. EXACTLY-ONCE DEDUCTION: keyed on the request id, so a retried complete
     never deducts twice
  2. IDEMPOTENT ROLLOVER: keyed on (user, year); running the batch twice for
     the same year changes balances once
  3. TOTAL = CARRYOVER + CURRENT after every operation
  4. REFUSE, NEVER CLAMP: a deduction larger than the total changes nothing

SEE ALSO:
  - balance.go: Pure arithmetic
  - store.go: Persistence contract
  - workflow/engine.go: Calls ApplyDeduction inside its own transaction
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/apettas/adeies/org"
)

// Metrics receives ledger counters. telemetry.Metrics implements it.
type Metrics interface {
	DaysDeducted(days int)
	RolloverUsers(n int)
}

type nopMetrics struct{}

func (nopMetrics) DaysDeducted(int)  {}
func (nopMetrics) RolloverUsers(int) {}

// Ledger is the balance service.
type Ledger struct {
	store   TxStore
	now     func() time.Time
	log     zerolog.Logger
	metrics Metrics
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }
func WithLogger(log zerolog.Logger) Option { return func(l *Ledger) { l.log = log } }
func WithMetrics(m Metrics) Option { return func(l *Ledger) { l.metrics = m } }

func New(store TxStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		now:     time.Now,
		log:     zerolog.Nop(),
		metrics: nopMetrics{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Breakdown returns the user's carryover, current-year, total and entitlement.
func (l *Ledger) Breakdown(ctx context.Context, user org.UserID) (Balance, error) {
	b, err := l.store.Balance(ctx, user)
	if err != nil {
		return Balance{}, err
	}
	return b.Normalize(), nil
}

// Entries returns the user's journal.
func (l *Ledger) Entries(ctx context.Context, user org.UserID) ([]Entry, error) {
	return l.store.Entries(ctx, user)
}

// =============================================================================
// DEDUCTION
// =============================================================================

// ApplyDeduction deducts days for a request using s, which may be a store inside
// an outer transaction. applied is false when the request was already deducted;
// the caller must treat that as success.
func ApplyDeduction(ctx context.Context, s Store, user org.UserID, days int, requestID string, now time.Time) (entry Entry, applied bool, err error) {
	key := DeductionKey(requestID)
	exists, err := s.EntryExists(ctx, key)
	if err != nil {
		return Entry{}, false, err
	}
	if exists {
		return Entry{}, false, nil
	}

	before, err := s.Balance(ctx, user)
	if err != nil {
		return Entry{}, false, err
	}
	after, err := Deduct(before, days)
	if err != nil {
		var ib *InsufficientBalanceError
		if errors.As(err, &ib) {
			ib.UserID = user
		}
		return Entry{}, false, err
	}

	entry = Entry{
		ID:             uuid.NewString(),
		UserID:         user,
		Kind:           EntryDeduction,
		Days:           days,
		Before:         before.Normalize(),
		After:          after,
		ReferenceID:    requestID,
		IdempotencyKey: key,
		CreatedAt:      now.UTC(),
	}
	if err := s.ApplyEntry(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	return entry, true, nil
}

// Deduct removes days from the user's balance for requestID, at most once.
func (l *Ledger) Deduct(ctx context.Context, user org.UserID, days int, requestID string) (Entry, bool, error) {
	if requestID == "" {
		return Entry{}, false, fmt.Errorf("deduct: reference id is required")
	}
	var (
		entry   Entry
		applied bool
	)
	err := l.store.WithBalanceTx(ctx, func(s Store) error {
		var err error
		entry, applied, err = ApplyDeduction(ctx, s, user, days, requestID, l.now())
		return err
	})
	if err != nil {
		return Entry{}, false, err
	}
	if applied {
		l.metrics.DaysDeducted(days)
		l.log.Info().
			Str("user_id", string(user)).
			Str("reference_id", requestID).
			Int("days", days).
			Int("total", entry.After.Total).
			Msg("leave days deducted")
	}
	return entry, applied, nil
}

// =============================================================================
// YEARLY RESET
// =============================================================================

// YearlyReset applies one reset to the user unconditionally. The batch job uses
// Rollover, which is idempotent per year.
func (l *Ledger) YearlyReset(ctx context.Context, user org.UserID) (Entry, error) {
	var entry Entry
	err := l.store.WithBalanceTx(ctx, func(s Store) error {
		before, err := s.Balance(ctx, user)
		if err != nil {
			return err
		}
		entry = l.resetEntry(user, before, "", "")
		return s.ApplyEntry(ctx, entry)
	})
	if err != nil {
		return Entry{}, err
	}
	l.log.Info().Str("user_id", string(user)).Int("total", entry.After.Total).Msg("yearly reset applied")
	return entry, nil
}

func (l *Ledger) resetEntry(user org.UserID, before Balance, reference, key string) Entry {
	return Entry{
		ID:             uuid.NewString(),
		UserID:         user,
		Kind:           EntryYearlyReset,
		Before:         before.Normalize(),
		After:          YearlyReset(before),
		ReferenceID:    reference,
		IdempotencyKey: key,
		CreatedAt:      l.now().UTC(),
	}
}

// RolloverResult summarises a Rollover batch.
type RolloverResult struct {
	Year    int          `json:"year"`
	Reset   int          `json:"reset"`
	Skipped int          `json:"skipped"`
	Failed  []org.UserID `json:"failed,omitempty"`
}

// Rollover resets every active account for year. Users already reset for that
// year are skipped, so the batch may be re-run safely. Each user is handled in
// its own transaction; failures are collected and the batch continues.
func (l *Ledger) Rollover(ctx context.Context, year int) (RolloverResult, error) {
	res := RolloverResult{Year: year}
	accounts, err := l.store.Accounts(ctx)
	if err != nil {
		return res, fmt.Errorf("list accounts: %w", err)
	}

	var errs []error
	for _, user := range accounts {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		applied, err := l.rolloverUser(ctx, user, year)
		switch {
		case err != nil:
			res.Failed = append(res.Failed, user)
			errs = append(errs, fmt.Errorf("rollover %s: %w", user, err))
			l.log.Error().Err(err).Str("user_id", string(user)).Int("year", year).Msg("yearly rollover failed")
		case applied:
			res.Reset++
		default:
			res.Skipped++
		}
	}

	l.metrics.RolloverUsers(res.Reset)
	l.log.Info().
		Int("year", year).
		Int("reset", res.Reset).
		Int("skipped", res.Skipped).
		Int("failed", len(res.Failed)).
		Msg("yearly rollover finished")
	return res, errors.Join(errs...)
}

func (l *Ledger) rolloverUser(ctx context.Context, user org.UserID, year int) (bool, error) {
	key := ResetKey(user, year)
	applied := false
	err := l.store.WithBalanceTx(ctx, func(s Store) error {
		exists, err := s.EntryExists(ctx, key)
		if err != nil || exists {
			return err
		}
		before, err := s.Balance(ctx, user)
		if err != nil {
			return err
		}
		if err := s.ApplyEntry(ctx, l.resetEntry(user, before, fmt.Sprint(year), key)); err != nil {
			if errors.Is(err, ErrDuplicateKey) {
				return nil
			}
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// =============================================================================
// ADJUSTMENT
// =============================================================================

// Adjust applies an administrative correction to the user's balance. A reason is
// required so the journal stays explainable.
func (l *Ledger) Adjust(ctx context.Context, user org.UserID, carryoverDelta, currentDelta int, reason string) (Entry, error) {
	if reason == "" {
		return Entry{}, fmt.Errorf("adjust: reason is required")
	}
	if carryoverDelta == 0 && currentDelta == 0 {
		return Entry{}, fmt.Errorf("adjust: nothing to change")
	}
	var entry Entry
	err := l.store.WithBalanceTx(ctx, func(s Store) error {
		before, err := s.Balance(ctx, user)
		if err != nil {
			return err
		}
		after, err := Adjust(before, carryoverDelta, currentDelta)
		if err != nil {
			return err
		}
		entry = Entry{
			ID:        uuid.NewString(),
			UserID:    user,
			Kind:      EntryAdjustment,
			Days:      carryoverDelta + currentDelta,
			Before:    before.Normalize(),
			After:     after,
			Reason:    reason,
			CreatedAt: l.now().UTC(),
		}
		return s.ApplyEntry(ctx, entry)
	})
	if err != nil {
		return Entry{}, err
	}
	l.log.Info().
		Str("user_id", string(user)).
		Int("carryover_delta", carryoverDelta).
		Int("current_delta", currentDelta).
		Str("reason", reason).
		Msg("balance adjusted")
	return entry, nil
}
