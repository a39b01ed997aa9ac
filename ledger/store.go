/*
store.go - Journal entries and the persistence contract

PURPOSE:
  Defines what the ledger needs from storage. Balances are stored as the four
  user columns; every change to them is paired with an append-only journal
  Entry written in the same transaction.

APPEND-ONLY CONTRACT:
  - ApplyEntry is the ONLY write: it inserts the entry and sets the user's
    balance to entry.After
  - Entries are never updated or deleted; corrections are new adjustment entries

IDEMPOTENCY:
  An entry with a non-empty IdempotencyKey may exist at most once. ApplyEntry
  returns ErrDuplicateKey for a key that is already present and changes
  nothing. Keys used by this package:

    deduct:<request-id>        one deduction per completed request
    reset:<user-id>:<year>     one rollover per user per year

IMPLEMENTATIONS:
  - store/memory: In-memory for tests and development
  - store/sqlite: SQLite (mattn/go-sqlite3)
  - store/postgres: PostgreSQL (jackc/pgx)

SEE ALSO:
  - ledger.go: Service built on TxStore
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/apettas/adeies/org"
)

// =============================================================================
// ENTRY - Journal row
// =============================================================================

type EntryKind string

const (
	EntryDeduction   EntryKind = "deduction"
	EntryYearlyReset EntryKind = "yearly-reset"
	EntryAdjustment  EntryKind = "adjustment"
)

// Entry records one balance mutation with the balance before and after.
type Entry struct {
	ID             string     `json:"id"`
	UserID         org.UserID `json:"user_id"`
	Kind           EntryKind  `json:"kind"`
	Days           int        `json:"days"`
	Before         Balance    `json:"before"`
	After          Balance    `json:"after"`
	ReferenceID    string     `json:"reference_id,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func DeductionKey(requestID string) string {
	return "deduct:" + requestID
}

func ResetKey(user org.UserID, year int) string {
	return fmt.Sprintf("reset:%s:%d", user, year)
}

// =============================================================================
// STORE
// =============================================================================

// Store is the persistence contract for balances and the journal.
type Store interface {
	// Balance returns the user's current balance, or ErrAccountNotFound.
	Balance(ctx context.Context, user org.UserID) (Balance, error)

	// ApplyEntry appends e and sets the user's balance to e.After.
	// Returns ErrDuplicateKey if e.IdempotencyKey already exists.
	ApplyEntry(ctx context.Context, e Entry) error

	// EntryExists reports whether an entry with the idempotency key exists.
	EntryExists(ctx context.Context, idempotencyKey string) (bool, error)

	// Entries returns the user's journal, oldest first.
	Entries(ctx context.Context, user org.UserID) ([]Entry, error)

	// Accounts returns the ids of every active user, ordered by id.
	Accounts(ctx context.Context) ([]org.UserID, error)
}

// TxStore adds transactions. If fn returns an error nothing it wrote persists.
// Store implementations provide this next to workflow.TxStore.WithTx.
type TxStore interface {
	Store
	WithBalanceTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// ROLLOVER RUNS
// =============================================================================

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run records one execution of the yearly rollover batch.
type Run struct {
	ID          string     `json:"id"`
	Year        int        `json:"year"`
	Status      RunStatus  `json:"status"`
	Reset       int        `json:"reset"`
	Skipped     int        `json:"skipped"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RunStore persists rollover runs for the scheduler.
type RunStore interface {
	SaveRun(ctx context.Context, r Run) error
	Runs(ctx context.Context, year int) ([]Run, error) // year 0 = all
}
