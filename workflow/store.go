package workflow

import (
	"context"

	"github.com/apettas/adeies/ledger"
	"github.com/apettas/adeies/org"
)

// Filter selects requests for listings. Zero fields do not filter.
type Filter struct {
	OwnerIDs []org.UserID `json:"owner_ids,omitempty"`
	Statuses []Status     `json:"statuses,omitempty"`

	// Actionable keeps only requests the viewer can act on. Applied by the
	// engine, not the store.
	Actionable bool `json:"actionable,omitempty"`

	Limit int `json:"limit,omitempty"`
}

// Store persists leave requests and leave types.
type Store interface {
	CreateRequest(ctx context.Context, r LeaveRequest) error

	// GetRequest returns ErrRequestNotFound for an unknown id.
	GetRequest(ctx context.Context, id RequestID) (LeaveRequest, error)

	// ListRequests returns matching requests, newest first.
	ListRequests(ctx context.Context, f Filter) ([]LeaveRequest, error)

	// SwapRequest replaces the stored request with next only if the stored one
	// still has expectedStatus and expectedVersion. Otherwise it returns ErrStale
	// and writes nothing.
	SwapRequest(ctx context.Context, next LeaveRequest, expectedStatus Status, expectedVersion int) error

	LeaveType(ctx context.Context, id LeaveTypeID) (LeaveType, error)
	LeaveTypes(ctx context.Context) ([]LeaveType, error)
}

// Tx is the view of the store inside a transaction: requests plus the ledger,
// so complete can deduct days atomically with the status change.
type Tx interface {
	Store
	ledger.Store
}

// TxStore runs fn in one transaction. If fn returns an error nothing it wrote
// persists.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Tx) error) error
}
