// Package store defines the combined persistence contract implemented by the
// memory, sqlite and postgres backends.
package store

import (
	"context"

	"github.com/apettas/adeies/ledger"
	"github.com/apettas/adeies/org"
	"github.com/apettas/adeies/workflow"
)

// Seeder writes reference data: departments, users and leave types. Saving an
// existing id replaces the record.
type Seeder interface {
	SaveDepartment(ctx context.Context, d org.Department) error
	SaveUser(ctx context.Context, u org.User) error
	SaveLeaveType(ctx context.Context, lt workflow.LeaveType) error
}

// Store is everything the server needs from a backend.
type Store interface {
	org.Directory
	ledger.TxStore
	ledger.RunStore
	workflow.TxStore
	Seeder

	// Reset deletes all data.
	Reset(ctx context.Context) error
	Close() error
}
