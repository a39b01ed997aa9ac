/*
Package sqlite provides a SQLite-backed implementation of store.Store.

PURPOSE:
  Persists the organisation directory, leave types, leave requests, the leave
  ledger and rollover runs in one SQLite file. The PostgreSQL backend in
  store/postgres follows the same schema with dialect changes only.

INTERFACES IMPLEMENTED:
  org.Directory:     Departments and users for the resolver
  ledger.TxStore:    Balances and the append-only journal
  ledger.RunStore:   Rollover run history
  workflow.TxStore:  Leave requests with compare-and-set updates

KEY TABLES:
  departments:     Org tree (parent_id NULL at the root)
  users:           Users with roles and the four balance columns
  leave_types:     Reference data
  leave_requests:  Workflow aggregate; periods and stamps as JSON
  ledger_entries:  Immutable journal; UNIQUE(idempotency_key)
  rollover_runs:   One row per rollover batch

APPEND-ONLY ENFORCEMENT:
  A trigger aborts any UPDATE on ledger_entries. Balance corrections are new
  adjustment entries.

COMPARE-AND-SET:
  SwapRequest is
    UPDATE leave_requests SET ... WHERE id = ? AND status = ? AND version = ?
  and zero affected rows means another writer got there first.

CONCURRENCY:
  A single connection plus sync.RWMutex. WithTx holds the write lock for the
  whole transaction, so two WithTx calls never interleave.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - store/store.go: Combined interface
  - store/memory: In-memory implementation for tests
  - store/storetest: Contract suite shared by all backends
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/apettas/adeies/ledger"
	"github.com/apettas/adeies/org"
	"github.com/apettas/adeies/store"
	"github.com/apettas/adeies/workflow"
)

// timeLayout is fixed width so that text columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements store.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per connection, and SQLite
	// allows a single writer anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS departments (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		parent_id TEXT,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_departments_parent
		ON departments(parent_id);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		department_id TEXT,
		roles TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		annual_entitlement INTEGER NOT NULL DEFAULT 0,
		carryover_days INTEGER NOT NULL DEFAULT 0 CHECK (carryover_days >= 0),
		current_year_days INTEGER NOT NULL DEFAULT 0 CHECK (current_year_days >= 0),
		total_balance INTEGER NOT NULL DEFAULT 0,
		CHECK (total_balance = carryover_days + current_year_days)
	);

	CREATE INDEX IF NOT EXISTS idx_users_department
		ON users(department_id);

	CREATE TABLE IF NOT EXISTS leave_types (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		deductible INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(id),
		leave_type_id TEXT NOT NULL REFERENCES leave_types(id),
		justification TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		periods_json TEXT NOT NULL,
		stamps_json TEXT NOT NULL,
		cancelled_by_owner INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leave_requests_owner
		ON leave_requests(owner_id);
	CREATE INDEX IF NOT EXISTS idx_leave_requests_status
		ON leave_requests(status);
	CREATE INDEX IF NOT EXISTS idx_leave_requests_created
		ON leave_requests(created_at DESC);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		kind TEXT NOT NULL,
		days INTEGER NOT NULL,
		before_json TEXT NOT NULL,
		after_json TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_user
		ON ledger_entries(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_reference
		ON ledger_entries(reference_id) WHERE reference_id IS NOT NULL;

	CREATE TRIGGER IF NOT EXISTS trg_ledger_entries_append_only
		BEFORE UPDATE ON ledger_entries
		BEGIN
			SELECT RAISE(ABORT, 'ledger entries are append-only');
		END;

	CREATE TABLE IF NOT EXISTS rollover_runs (
		id TEXT PRIMARY KEY,
		year INTEGER NOT NULL,
		status TEXT NOT NULL,
		reset INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_rollover_runs_year
		ON rollover_runs(year);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// DIRECTORY (org.Directory + seeding)
// =============================================================================

// SaveDepartment inserts or replaces a department.
func (s *Store) SaveDepartment(ctx context.Context, d org.Department) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO departments (id, name, category, parent_id, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			parent_id = excluded.parent_id,
			active = excluded.active
	`
	var parent sql.NullString
	if d.ParentID != nil {
		parent = sql.NullString{String: string(*d.ParentID), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query, d.ID, d.Name, d.Category, parent, d.Active)
	if err != nil {
		return fmt.Errorf("failed to save department %s: %w", d.ID, err)
	}
	return nil
}

// SaveUser inserts or replaces a user. The total balance is recomputed.
func (s *Store) SaveUser(ctx context.Context, u org.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO users (id, name, email, department_id, roles, active,
			annual_entitlement, carryover_days, current_year_days, total_balance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			department_id = excluded.department_id,
			roles = excluded.roles,
			active = excluded.active,
			annual_entitlement = excluded.annual_entitlement,
			carryover_days = excluded.carryover_days,
			current_year_days = excluded.current_year_days,
			total_balance = excluded.total_balance
	`
	var dept sql.NullString
	if u.DepartmentID != nil {
		dept = sql.NullString{String: string(*u.DepartmentID), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		u.ID, u.Name, u.Email, dept, strings.Join(u.Roles.Codes(), ","), u.Active,
		u.AnnualEntitlement, u.CarryoverDays, u.CurrentYearDays, u.CarryoverDays+u.CurrentYearDays,
	)
	if err != nil {
		return fmt.Errorf("failed to save user %s: %w", u.ID, err)
	}
	return nil
}

// SaveLeaveType inserts or replaces a leave type.
func (s *Store) SaveLeaveType(ctx context.Context, lt workflow.LeaveType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO leave_types (id, code, name, deductible, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			deductible = excluded.deductible,
			active = excluded.active
	`
	_, err := s.db.ExecContext(ctx, query, lt.ID, lt.Code, lt.Name, lt.Deductible, lt.Active)
	if err != nil {
		return fmt.Errorf("failed to save leave type %s: %w", lt.ID, err)
	}
	return nil
}

// Departments returns every department ordered by id.
func (s *Store) Departments(ctx context.Context) ([]org.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, parent_id, active
		FROM departments ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query departments: %w", err)
	}
	defer rows.Close()

	var out []org.Department
	for rows.Next() {
		var (
			d      org.Department
			parent sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.Name, &d.Category, &parent, &d.Active); err != nil {
			return nil, fmt.Errorf("failed to scan department: %w", err)
		}
		if parent.Valid {
			d.ParentID = org.DeptPtr(org.DepartmentID(parent.String))
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Users returns every user, active or not, ordered by id.
func (s *Store) Users(ctx context.Context) ([]org.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, department_id, roles, active,
			annual_entitlement, carryover_days, current_year_days, total_balance
		FROM users ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var out []org.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUser(row scanner) (org.User, error) {
	var (
		u     org.User
		dept  sql.NullString
		roles string
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &dept, &roles, &u.Active,
		&u.AnnualEntitlement, &u.CarryoverDays, &u.CurrentYearDays, &u.TotalBalance)
	if err != nil {
		return u, fmt.Errorf("failed to scan user: %w", err)
	}
	if dept.Valid {
		u.DepartmentID = org.DeptPtr(org.DepartmentID(dept.String))
	}
	if roles != "" {
		set, err := org.ParseRoleSet(strings.Split(roles, ","))
		if err != nil {
			return u, fmt.Errorf("user %s: %w", u.ID, err)
		}
		u.Roles = set
	}
	return u, nil
}

// =============================================================================
// LEDGER (ledger.Store)
// =============================================================================

func (s *Store) Balance(ctx context.Context, user org.UserID) (ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return balance(ctx, s.db, user)
}

// ApplyEntry runs in its own transaction so a failed insert leaves the balance alone.
func (s *Store) ApplyEntry(ctx context.Context, e ledger.Entry) error {
	return s.WithBalanceTx(ctx, func(ls ledger.Store) error { return ls.ApplyEntry(ctx, e) })
}

func (s *Store) EntryExists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entryExists(ctx, s.db, key)
}

func (s *Store) Entries(ctx context.Context, user org.UserID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entries(ctx, s.db, user)
}

func (s *Store) Accounts(ctx context.Context) ([]org.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return accounts(ctx, s.db)
}

func balance(ctx context.Context, q querier, user org.UserID) (ledger.Balance, error) {
	var ent, carry, cur int
	err := q.QueryRowContext(ctx,
		"SELECT annual_entitlement, carryover_days, current_year_days FROM users WHERE id = ?",
		user,
	).Scan(&ent, &carry, &cur)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Balance{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, user)
	}
	if err != nil {
		return ledger.Balance{}, fmt.Errorf("failed to load balance: %w", err)
	}
	return ledger.NewBalance(ent, carry, cur), nil
}

// applyEntry must run inside a transaction.
func applyEntry(ctx context.Context, q querier, e ledger.Entry) error {
	if _, err := balance(ctx, q, e.UserID); err != nil {
		return err
	}

	before, _ := json.Marshal(e.Before)
	after, _ := json.Marshal(e.After)
	_, err := q.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, user_id, kind, days, before_json, after_json, reference_id, reason, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.UserID, e.Kind, e.Days, string(before), string(after),
		nullString(e.ReferenceID), nullString(e.Reason), nullString(e.IdempotencyKey),
		formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) && e.IdempotencyKey != "" && strings.Contains(err.Error(), "idempotency_key") {
			return ledger.ErrDuplicateKey
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	b := e.After.Normalize()
	_, err = q.ExecContext(ctx, `
		UPDATE users SET annual_entitlement = ?, carryover_days = ?, current_year_days = ?, total_balance = ?
		WHERE id = ?
	`, b.Entitlement, b.Carryover, b.CurrentYear, b.Total, e.UserID)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return nil
}

func entryExists(ctx context.Context, q querier, key string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_entries WHERE idempotency_key = ?",
		key,
	).Scan(&count)
	return count > 0, err
}

func entries(ctx context.Context, q querier, user org.UserID) ([]ledger.Entry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, kind, days, before_json, after_json, reference_id, reason, idempotency_key, created_at
		FROM ledger_entries
		WHERE user_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, user)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var (
			e                          ledger.Entry
			before, after, createdAt   string
			reference, reason, idemKey sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.Days, &before, &after,
			&reference, &reason, &idemKey, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		if err := json.Unmarshal([]byte(before), &e.Before); err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(after), &e.After); err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		e.ReferenceID = reference.String
		e.Reason = reason.String
		e.IdempotencyKey = idemKey.String
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func accounts(ctx context.Context, q querier) ([]org.UserID, error) {
	rows, err := q.QueryContext(ctx, "SELECT id FROM users WHERE active = 1 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var out []org.UserID
	for rows.Next() {
		var id org.UserID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// =============================================================================
// ROLLOVER RUNS (ledger.RunStore)
// =============================================================================

// SaveRun inserts or updates a run by id.
func (s *Store) SaveRun(ctx context.Context, r ledger.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO rollover_runs (id, year, status, reset, skipped, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			reset = excluded.reset,
			skipped = excluded.skipped,
			error = excluded.error,
			completed_at = excluded.completed_at
	`
	var completedAt sql.NullString
	if r.CompletedAt != nil {
		completedAt = sql.NullString{String: formatTime(*r.CompletedAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Year, r.Status, r.Reset, r.Skipped, nullString(r.Error),
		formatTime(r.StartedAt), completedAt,
	)
	return err
}

// Runs returns runs for year (all years when 0), newest first.
func (s *Store) Runs(ctx context.Context, year int) ([]ledger.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, year, status, reset, skipped, error, started_at, completed_at
		FROM rollover_runs
	`
	var args []any
	if year != 0 {
		query += " WHERE year = ?"
		args = append(args, year)
	}
	query += " ORDER BY started_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ledger.Run
	for rows.Next() {
		var (
			r           ledger.Run
			errText     sql.NullString
			startedAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Year, &r.Status, &r.Reset, &r.Skipped,
			&errText, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		r.Error = errText.String
		r.StartedAt = parseTime(startedAt)
		if completedAt.Valid {
			t := parseTime(completedAt.String)
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// LEAVE REQUESTS (workflow.Store)
// =============================================================================

// stamps is the JSON shape of the stamps_json column.
type stamps struct {
	Submitted       *workflow.Stamp `json:"submitted,omitempty"`
	ManagerDecision *workflow.Stamp `json:"manager_decision,omitempty"`
	Protocol        *workflow.Stamp `json:"protocol,omitempty"`
	Processing      *workflow.Stamp `json:"processing,omitempty"`
	HandlerDecision *workflow.Stamp `json:"handler_decision,omitempty"`
	Completed       *workflow.Stamp `json:"completed,omitempty"`
}

func encodeRequest(r workflow.LeaveRequest) (periods, st string, err error) {
	p, err := json.Marshal(r.Periods)
	if err != nil {
		return "", "", fmt.Errorf("encode periods: %w", err)
	}
	sj, err := json.Marshal(stamps{
		Submitted:       r.Submitted,
		ManagerDecision: r.ManagerDecision,
		Protocol:        r.Protocol,
		Processing:      r.Processing,
		HandlerDecision: r.HandlerDecision,
		Completed:       r.Completed,
	})
	if err != nil {
		return "", "", fmt.Errorf("encode stamps: %w", err)
	}
	return string(p), string(sj), nil
}

const requestColumns = `id, owner_id, leave_type_id, justification, status, periods_json, stamps_json,
	cancelled_by_owner, version, created_at, updated_at`

func scanRequest(row scanner) (workflow.LeaveRequest, error) {
	var (
		r                    workflow.LeaveRequest
		periods, st          string
		createdAt, updatedAt string
	)
	err := row.Scan(&r.ID, &r.OwnerID, &r.LeaveTypeID, &r.Justification, &r.Status,
		&periods, &st, &r.CancelledByOwner, &r.Version, &createdAt, &updatedAt)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(periods), &r.Periods); err != nil {
		return r, fmt.Errorf("request %s periods: %w", r.ID, err)
	}
	var sj stamps
	if err := json.Unmarshal([]byte(st), &sj); err != nil {
		return r, fmt.Errorf("request %s stamps: %w", r.ID, err)
	}
	r.Submitted = sj.Submitted
	r.ManagerDecision = sj.ManagerDecision
	r.Protocol = sj.Protocol
	r.Processing = sj.Processing
	r.HandlerDecision = sj.HandlerDecision
	r.Completed = sj.Completed
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

func (s *Store) CreateRequest(ctx context.Context, r workflow.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createRequest(ctx, s.db, r)
}

func (s *Store) GetRequest(ctx context.Context, id workflow.RequestID) (workflow.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRequest(ctx, s.db, id)
}

func (s *Store) ListRequests(ctx context.Context, f workflow.Filter) ([]workflow.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRequests(ctx, s.db, f)
}

func (s *Store) SwapRequest(ctx context.Context, next workflow.LeaveRequest, status workflow.Status, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return swapRequest(ctx, s.db, next, status, version)
}

func (s *Store) LeaveType(ctx context.Context, id workflow.LeaveTypeID) (workflow.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return leaveType(ctx, s.db, id)
}

func (s *Store) LeaveTypes(ctx context.Context) ([]workflow.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, code, name, deductible, active FROM leave_types ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query leave types: %w", err)
	}
	defer rows.Close()

	var out []workflow.LeaveType
	for rows.Next() {
		var lt workflow.LeaveType
		if err := rows.Scan(&lt.ID, &lt.Code, &lt.Name, &lt.Deductible, &lt.Active); err != nil {
			return nil, err
		}
		out = append(out, lt)
	}
	return out, rows.Err()
}

func createRequest(ctx context.Context, q querier, r workflow.LeaveRequest) error {
	periods, st, err := encodeRequest(r)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO leave_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OwnerID, r.LeaveTypeID, r.Justification, r.Status, periods, st,
		r.CancelledByOwner, r.Version, formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert leave request %s: %w", r.ID, err)
	}
	return nil
}

func getRequest(ctx context.Context, q querier, id workflow.RequestID) (workflow.LeaveRequest, error) {
	row := q.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM leave_requests WHERE id = ?", id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.LeaveRequest{}, fmt.Errorf("%w: %s", workflow.ErrRequestNotFound, id)
	}
	if err != nil {
		return workflow.LeaveRequest{}, fmt.Errorf("failed to load leave request: %w", err)
	}
	return r, nil
}

func listRequests(ctx context.Context, q querier, f workflow.Filter) ([]workflow.LeaveRequest, error) {
	var (
		where []string
		args  []any
	)
	if len(f.OwnerIDs) > 0 {
		where = append(where, "owner_id IN ("+placeholders(len(f.OwnerIDs))+")")
		for _, id := range f.OwnerIDs {
			args = append(args, id)
		}
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	}

	query := "SELECT " + requestColumns + " FROM leave_requests"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leave requests: %w", err)
	}
	defer rows.Close()

	var out []workflow.LeaveRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func swapRequest(ctx context.Context, q querier, next workflow.LeaveRequest, status workflow.Status, version int) error {
	periods, st, err := encodeRequest(next)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		UPDATE leave_requests SET
			justification = ?, status = ?, periods_json = ?, stamps_json = ?,
			cancelled_by_owner = ?, version = ?, updated_at = ?
		WHERE id = ? AND status = ? AND version = ?
	`,
		next.Justification, next.Status, periods, st,
		next.CancelledByOwner, next.Version, formatTime(next.UpdatedAt),
		next.ID, status, version,
	)
	if err != nil {
		return fmt.Errorf("failed to update leave request %s: %w", next.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = q.QueryRowContext(ctx, "SELECT COUNT(*) FROM leave_requests WHERE id = ?", next.ID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", workflow.ErrRequestNotFound, next.ID)
	}
	return workflow.ErrStale
}

func leaveType(ctx context.Context, q querier, id workflow.LeaveTypeID) (workflow.LeaveType, error) {
	var lt workflow.LeaveType
	err := q.QueryRowContext(ctx,
		"SELECT id, code, name, deductible, active FROM leave_types WHERE id = ?", id,
	).Scan(&lt.ID, &lt.Code, &lt.Name, &lt.Deductible, &lt.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return lt, fmt.Errorf("%w: %s", workflow.ErrLeaveTypeNotFound, id)
	}
	return lt, err
}

// =============================================================================
// TRANSACTIONS (workflow.TxStore + ledger.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(workflow.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// WithBalanceTx is WithTx for the ledger.
func (s *Store) WithBalanceTx(ctx context.Context, fn func(ledger.Store) error) error {
	return s.WithTx(ctx, func(tx workflow.Tx) error { return fn(tx) })
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Balance(ctx context.Context, user org.UserID) (ledger.Balance, error) {
	return balance(ctx, ts.tx, user)
}

func (ts *txStore) ApplyEntry(ctx context.Context, e ledger.Entry) error {
	return applyEntry(ctx, ts.tx, e)
}

func (ts *txStore) EntryExists(ctx context.Context, key string) (bool, error) {
	return entryExists(ctx, ts.tx, key)
}

func (ts *txStore) Entries(ctx context.Context, user org.UserID) ([]ledger.Entry, error) {
	return entries(ctx, ts.tx, user)
}

func (ts *txStore) Accounts(ctx context.Context) ([]org.UserID, error) {
	return accounts(ctx, ts.tx)
}

func (ts *txStore) CreateRequest(ctx context.Context, r workflow.LeaveRequest) error {
	return createRequest(ctx, ts.tx, r)
}

func (ts *txStore) GetRequest(ctx context.Context, id workflow.RequestID) (workflow.LeaveRequest, error) {
	return getRequest(ctx, ts.tx, id)
}

func (ts *txStore) ListRequests(ctx context.Context, f workflow.Filter) ([]workflow.LeaveRequest, error) {
	return listRequests(ctx, ts.tx, f)
}

func (ts *txStore) SwapRequest(ctx context.Context, next workflow.LeaveRequest, status workflow.Status, version int) error {
	return swapRequest(ctx, ts.tx, next, status, version)
}

func (ts *txStore) LeaveType(ctx context.Context, id workflow.LeaveTypeID) (workflow.LeaveType, error) {
	return leaveType(ctx, ts.tx, id)
}

func (ts *txStore) LeaveTypes(ctx context.Context) ([]workflow.LeaveType, error) {
	rows, err := ts.tx.QueryContext(ctx, "SELECT id, code, name, deductible, active FROM leave_types ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []workflow.LeaveType
	for rows.Next() {
		var lt workflow.LeaveType
		if err := rows.Scan(&lt.ID, &lt.Code, &lt.Name, &lt.Deductible, &lt.Active); err != nil {
			return nil, err
		}
		out = append(out, lt)
	}
	return out, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"leave_requests", "ledger_entries", "rollover_runs", "users", "leave_types", "departments"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

var (
	_ store.Store = (*Store)(nil)
	_ workflow.Tx = (*txStore)(nil)
)
