// Package memory provides an in-memory implementation of every store
// interface, for tests and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/apettas/adeies/ledger"
	"github.com/apettas/adeies/org"
	"github.com/apettas/adeies/store"
	"github.com/apettas/adeies/workflow"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Store implements org.Directory, ledger.TxStore, ledger.RunStore and
// workflow.TxStore. Transactions run on a copy of the state that replaces the
// live state on success.
type Store struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	departments map[org.DepartmentID]org.Department
	users       map[org.UserID]org.User
	leaveTypes  map[workflow.LeaveTypeID]workflow.LeaveType
	requests    map[workflow.RequestID]workflow.LeaveRequest
	entries     []ledger.Entry
	keys        map[string]bool
	runs        []ledger.Run
}

func newState() *state {
	return &state{
		departments: make(map[org.DepartmentID]org.Department),
		users:       make(map[org.UserID]org.User),
		leaveTypes:  make(map[workflow.LeaveTypeID]workflow.LeaveType),
		requests:    make(map[workflow.RequestID]workflow.LeaveRequest),
		keys:        make(map[string]bool),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.departments {
		c.departments[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.leaveTypes {
		c.leaveTypes[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v.Clone()
	}
	c.entries = append([]ledger.Entry(nil), s.entries...)
	for k, v := range s.keys {
		c.keys[k] = v
	}
	c.runs = append([]ledger.Run(nil), s.runs...)
	return c
}

func New() *Store {
	return &Store{st: newState()}
}

// Reset clears all data.
func (m *Store) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

func (m *Store) Close() error { return nil }

// =============================================================================
// DIRECTORY (org.Directory + seeding)
// =============================================================================

func (m *Store) SaveDepartment(_ context.Context, d org.Department) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.departments[d.ID] = d
	return nil
}

func (m *Store) SaveUser(_ context.Context, u org.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.TotalBalance = u.CarryoverDays + u.CurrentYearDays
	m.st.users[u.ID] = u
	return nil
}

func (m *Store) SaveLeaveType(_ context.Context, lt workflow.LeaveType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.leaveTypes[lt.ID] = lt
	return nil
}

func (m *Store) Departments(context.Context) ([]org.Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]org.Department, 0, len(m.st.departments))
	for _, d := range m.st.departments {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) Users(context.Context) ([]org.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]org.User, 0, len(m.st.users))
	for _, u := range m.st.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// STATE OPERATIONS (caller holds the lock)
// =============================================================================

func (s *state) balance(user org.UserID) (ledger.Balance, error) {
	u, ok := s.users[user]
	if !ok {
		return ledger.Balance{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, user)
	}
	return ledger.NewBalance(u.AnnualEntitlement, u.CarryoverDays, u.CurrentYearDays), nil
}

func (s *state) applyEntry(e ledger.Entry) error {
	u, ok := s.users[e.UserID]
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, e.UserID)
	}
	if e.IdempotencyKey != "" && s.keys[e.IdempotencyKey] {
		return ledger.ErrDuplicateKey
	}
	after := e.After.Normalize()
	u.AnnualEntitlement = after.Entitlement
	u.CarryoverDays = after.Carryover
	u.CurrentYearDays = after.CurrentYear
	u.TotalBalance = after.Total
	s.users[e.UserID] = u
	s.entries = append(s.entries, e)
	if e.IdempotencyKey != "" {
		s.keys[e.IdempotencyKey] = true
	}
	return nil
}

func (s *state) userEntries(user org.UserID) []ledger.Entry {
	var out []ledger.Entry
	for _, e := range s.entries {
		if e.UserID == user {
			out = append(out, e)
		}
	}
	return out
}

func (s *state) accounts() []org.UserID {
	var out []org.UserID
	for id, u := range s.users {
		if u.Active {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *state) createRequest(r workflow.LeaveRequest) error {
	if _, exists := s.requests[r.ID]; exists {
		return fmt.Errorf("leave request %s already exists", r.ID)
	}
	s.requests[r.ID] = r.Clone()
	return nil
}

func (s *state) getRequest(id workflow.RequestID) (workflow.LeaveRequest, error) {
	r, ok := s.requests[id]
	if !ok {
		return workflow.LeaveRequest{}, fmt.Errorf("%w: %s", workflow.ErrRequestNotFound, id)
	}
	return r.Clone(), nil
}

func (s *state) listRequests(f workflow.Filter) []workflow.LeaveRequest {
	owners := make(map[org.UserID]bool, len(f.OwnerIDs))
	for _, id := range f.OwnerIDs {
		owners[id] = true
	}
	statuses := make(map[workflow.Status]bool, len(f.Statuses))
	for _, st := range f.Statuses {
		statuses[st] = true
	}

	var out []workflow.LeaveRequest
	for _, r := range s.requests {
		if len(owners) > 0 && !owners[r.OwnerID] {
			continue
		}
		if len(statuses) > 0 && !statuses[r.Status] {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func (s *state) swapRequest(next workflow.LeaveRequest, status workflow.Status, version int) error {
	cur, ok := s.requests[next.ID]
	if !ok {
		return fmt.Errorf("%w: %s", workflow.ErrRequestNotFound, next.ID)
	}
	if cur.Status != status || cur.Version != version {
		return workflow.ErrStale
	}
	s.requests[next.ID] = next.Clone()
	return nil
}

func (s *state) leaveType(id workflow.LeaveTypeID) (workflow.LeaveType, error) {
	lt, ok := s.leaveTypes[id]
	if !ok {
		return workflow.LeaveType{}, fmt.Errorf("%w: %s", workflow.ErrLeaveTypeNotFound, id)
	}
	return lt, nil
}

func (s *state) allLeaveTypes() []workflow.LeaveType {
	out := make([]workflow.LeaveType, 0, len(s.leaveTypes))
	for _, lt := range s.leaveTypes {
		out = append(out, lt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (m *Store) Balance(_ context.Context, user org.UserID) (ledger.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.balance(user)
}

func (m *Store) ApplyEntry(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.applyEntry(e)
}

func (m *Store) EntryExists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.keys[key], nil
}

func (m *Store) Entries(_ context.Context, user org.UserID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.userEntries(user), nil
}

func (m *Store) Accounts(context.Context) ([]org.UserID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.accounts(), nil
}

func (m *Store) SaveRun(_ context.Context, r ledger.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.st.runs {
		if m.st.runs[i].ID == r.ID {
			m.st.runs[i] = r
			return nil
		}
	}
	m.st.runs = append(m.st.runs, r)
	return nil
}

func (m *Store) Runs(_ context.Context, year int) ([]ledger.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Run
	for i := len(m.st.runs) - 1; i >= 0; i-- {
		if r := m.st.runs[i]; year == 0 || r.Year == year {
			out = append(out, r)
		}
	}
	return out, nil
}

// =============================================================================
// WORKFLOW STORE
// =============================================================================

func (m *Store) CreateRequest(_ context.Context, r workflow.LeaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createRequest(r)
}

func (m *Store) GetRequest(_ context.Context, id workflow.RequestID) (workflow.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getRequest(id)
}

func (m *Store) ListRequests(_ context.Context, f workflow.Filter) ([]workflow.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listRequests(f), nil
}

func (m *Store) SwapRequest(_ context.Context, next workflow.LeaveRequest, status workflow.Status, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.swapRequest(next, status, version)
}

func (m *Store) LeaveType(_ context.Context, id workflow.LeaveTypeID) (workflow.LeaveType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.leaveType(id)
}

func (m *Store) LeaveTypes(context.Context) ([]workflow.LeaveType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.allLeaveTypes(), nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against a copy of the state and installs the copy if fn
// succeeds. Transactions are serialised by the store lock.
func (m *Store) WithTx(ctx context.Context, fn func(workflow.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.st.clone()
	if err := fn(&txView{st: work}); err != nil {
		return err
	}
	m.st = work
	return nil
}

// WithBalanceTx is WithTx for the ledger.
func (m *Store) WithBalanceTx(ctx context.Context, fn func(ledger.Store) error) error {
	return m.WithTx(ctx, func(tx workflow.Tx) error { return fn(tx) })
}

type txView struct {
	st *state
}

func (v *txView) Balance(_ context.Context, user org.UserID) (ledger.Balance, error) {
	return v.st.balance(user)
}

func (v *txView) ApplyEntry(_ context.Context, e ledger.Entry) error {
	return v.st.applyEntry(e)
}

func (v *txView) EntryExists(_ context.Context, key string) (bool, error) {
	return v.st.keys[key], nil
}

func (v *txView) Entries(_ context.Context, user org.UserID) ([]ledger.Entry, error) {
	return v.st.userEntries(user), nil
}

func (v *txView) Accounts(context.Context) ([]org.UserID, error) {
	return v.st.accounts(), nil
}

func (v *txView) CreateRequest(_ context.Context, r workflow.LeaveRequest) error {
	return v.st.createRequest(r)
}

func (v *txView) GetRequest(_ context.Context, id workflow.RequestID) (workflow.LeaveRequest, error) {
	return v.st.getRequest(id)
}

func (v *txView) ListRequests(_ context.Context, f workflow.Filter) ([]workflow.LeaveRequest, error) {
	return v.st.listRequests(f), nil
}

func (v *txView) SwapRequest(_ context.Context, next workflow.LeaveRequest, status workflow.Status, version int) error {
	return v.st.swapRequest(next, status, version)
}

func (v *txView) LeaveType(_ context.Context, id workflow.LeaveTypeID) (workflow.LeaveType, error) {
	return v.st.leaveType(id)
}

func (v *txView) LeaveTypes(context.Context) ([]workflow.LeaveType, error) {
	return v.st.allLeaveTypes(), nil
}

var (
	_ store.Store      = (*Store)(nil)
	_ org.Directory    = (*Store)(nil)
	_ ledger.TxStore   = (*Store)(nil)
	_ ledger.RunStore  = (*Store)(nil)
	_ workflow.TxStore = (*Store)(nil)
	_ workflow.Tx      = (*txView)(nil)
)
