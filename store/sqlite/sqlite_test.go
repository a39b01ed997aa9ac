package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apettas/adeies/ledger"
	"github.com/apettas/adeies/org/orgtest"
	"github.com/apettas/adeies/store"
	"github.com/apettas/adeies/store/sqlite"
	"github.com/apettas/adeies/store/storetest"
)

func open(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return open(t) })
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	// GIVEN: A file database with a deduction applied
	// WHEN: The database is closed and reopened
	// THEN: The balance and the idempotency key are still there

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "leave.db")

	s, err := sqlite.New(path)
	require.NoError(t, err)
	storetest.Seed(t, s)
	l := ledger.New(s)
	_, applied, err := l.Deduct(ctx, orgtest.AEmployee, 3, "req-1")
	require.NoError(t, err)
	require.True(t, applied)
	require.NoError(t, s.Close())

	s, err = sqlite.New(path)
	require.NoError(t, err)
	defer s.Close()

	b, err := s.Balance(ctx, orgtest.AEmployee)
	require.NoError(t, err)
	assert.Equal(t, ledger.NewBalance(25, 2, 25), b)

	_, applied, err = ledger.New(s).Deduct(ctx, orgtest.AEmployee, 3, "req-1")
	require.NoError(t, err)
	assert.False(t, applied)
}
