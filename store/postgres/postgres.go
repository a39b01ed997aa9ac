/*
Package postgres provides a PostgreSQL implementation of store.Store on pgx.

PURPOSE:
  Same schema and contract as store/sqlite, for multi-instance deployments.
  Differences from the SQLite backend:
  - Native TIMESTAMPTZ, BOOLEAN, TEXT[] and JSONB columns
  - Row locks (SELECT ... FOR UPDATE) on the user's balance inside
    transactions instead of a process-wide mutex
  - Ledger inserts use ON CONFLICT (idempotency_key) DO NOTHING so a
    duplicate key does not abort the surrounding transaction

COMPARE-AND-SET:
  UPDATE leave_requests SET ... WHERE id = $1 AND status = $2 AND version = $3
  Zero affected rows means another writer won.

SEE ALSO:
  - store/sqlite/sqlite.go: Reference schema and documentation
  - store/storetest: Contract suite
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apettas/adeies/ledger"
	"github.com/apettas/adeies/org"
	"github.com/apettas/adeies/store"
	"github.com/apettas/adeies/workflow"
)

// Store implements store.Store using a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn and migrates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConns = 10
	cfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS departments (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		parent_id TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_departments_parent ON departments(parent_id);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		department_id TEXT,
		roles TEXT[] NOT NULL DEFAULT '{}',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		annual_entitlement INTEGER NOT NULL DEFAULT 0,
		carryover_days INTEGER NOT NULL DEFAULT 0 CHECK (carryover_days >= 0),
		current_year_days INTEGER NOT NULL DEFAULT 0 CHECK (current_year_days >= 0),
		total_balance INTEGER NOT NULL DEFAULT 0,
		CHECK (total_balance = carryover_days + current_year_days)
	);

	CREATE INDEX IF NOT EXISTS idx_users_department ON users(department_id);

	CREATE TABLE IF NOT EXISTS leave_types (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		deductible BOOLEAN NOT NULL DEFAULT FALSE,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(id),
		leave_type_id TEXT NOT NULL REFERENCES leave_types(id),
		justification TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		periods JSONB NOT NULL,
		stamps JSONB NOT NULL,
		cancelled_by_owner BOOLEAN NOT NULL DEFAULT FALSE,
		version INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leave_requests_owner ON leave_requests(owner_id);
	CREATE INDEX IF NOT EXISTS idx_leave_requests_status ON leave_requests(status);
	CREATE INDEX IF NOT EXISTS idx_leave_requests_created ON leave_requests(created_at DESC);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq BIGSERIAL UNIQUE,
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		kind TEXT NOT NULL,
		days INTEGER NOT NULL,
		before_balance JSONB NOT NULL,
		after_balance JSONB NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_user ON ledger_entries(user_id, created_at);

	CREATE OR REPLACE FUNCTION ledger_entries_append_only() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'ledger entries are append-only';
	END;
	$$ LANGUAGE plpgsql;

	DROP TRIGGER IF EXISTS trg_ledger_entries_append_only ON ledger_entries;
	CREATE TRIGGER trg_ledger_entries_append_only
		BEFORE UPDATE ON ledger_entries
		FOR EACH ROW EXECUTE FUNCTION ledger_entries_append_only();

	CREATE TABLE IF NOT EXISTS rollover_runs (
		id TEXT PRIMARY KEY,
		year INTEGER NOT NULL,
		status TEXT NOT NULL,
		reset_count INTEGER NOT NULL DEFAULT 0,
		skipped_count INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_rollover_runs_year ON rollover_runs(year);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// =============================================================================
// DIRECTORY (org.Directory + seeding)
// =============================================================================

func (s *Store) SaveDepartment(ctx context.Context, d org.Department) error {
	var parent *string
	if d.ParentID != nil {
		p := string(*d.ParentID)
		parent = &p
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO departments (id, name, category, parent_id, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			parent_id = EXCLUDED.parent_id,
			active = EXCLUDED.active
	`, string(d.ID), d.Name, string(d.Category), parent, d.Active)
	if err != nil {
		return fmt.Errorf("failed to save department %s: %w", d.ID, err)
	}
	return nil
}

func (s *Store) SaveUser(ctx context.Context, u org.User) error {
	var dept *string
	if u.DepartmentID != nil {
		d := string(*u.DepartmentID)
		dept = &d
	}
	roles := u.Roles.Codes()
	if roles == nil {
		roles = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name, email, department_id, roles, active,
			annual_entitlement, carryover_days, current_year_days, total_balance)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			department_id = EXCLUDED.department_id,
			roles = EXCLUDED.roles,
			active = EXCLUDED.active,
			annual_entitlement = EXCLUDED.annual_entitlement,
			carryover_days = EXCLUDED.carryover_days,
			current_year_days = EXCLUDED.current_year_days,
			total_balance = EXCLUDED.total_balance
	`, string(u.ID), u.Name, u.Email, dept, roles, u.Active,
		u.AnnualEntitlement, u.CarryoverDays, u.CurrentYearDays, u.CarryoverDays+u.CurrentYearDays)
	if err != nil {
		return fmt.Errorf("failed to save user %s: %w", u.ID, err)
	}
	return nil
}

func (s *Store) SaveLeaveType(ctx context.Context, lt workflow.LeaveType) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO leave_types (id, code, name, deductible, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code,
			name = EXCLUDED.name,
			deductible = EXCLUDED.deductible,
			active = EXCLUDED.active
	`, string(lt.ID), lt.Code, lt.Name, lt.Deductible, lt.Active)
	if err != nil {
		return fmt.Errorf("failed to save leave type %s: %w", lt.ID, err)
	}
	return nil
}

func (s *Store) Departments(ctx context.Context) ([]org.Department, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, name, category, parent_id, active FROM departments ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query departments: %w", err)
	}
	defer rows.Close()

	var out []org.Department
	for rows.Next() {
		var (
			id, name, category string
			parent             *string
			active             bool
		)
		if err := rows.Scan(&id, &name, &category, &parent, &active); err != nil {
			return nil, fmt.Errorf("failed to scan department: %w", err)
		}
		d := org.Department{ID: org.DepartmentID(id), Name: name, Category: org.Category(category), Active: active}
		if parent != nil {
			d.ParentID = org.DeptPtr(org.DepartmentID(*parent))
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) Users(ctx context.Context) ([]org.User, error) {
	rows, err := s.pool.Query(ctx, `
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
		var (
			u        org.User
			id       string
			dept     *string
			roles    []string
			ent, cur int
			car, tot int
		)
		if err := rows.Scan(&id, &u.Name, &u.Email, &dept, &roles, &u.Active, &ent, &car, &cur, &tot); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.ID = org.UserID(id)
		if dept != nil {
			u.DepartmentID = org.DeptPtr(org.DepartmentID(*dept))
		}
		set, err := org.ParseRoleSet(roles)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", id, err)
		}
		u.Roles = set
		u.AnnualEntitlement, u.CarryoverDays, u.CurrentYearDays, u.TotalBalance = ent, car, cur, tot
		out = append(out, u)
	}
	return out, rows.Err()
}

// =============================================================================
// LEDGER (ledger.Store)
// =============================================================================

func (s *Store) Balance(ctx context.Context, user org.UserID) (ledger.Balance, error) {
	return balance(ctx, s.pool, user, false)
}

func (s *Store) ApplyEntry(ctx context.Context, e ledger.Entry) error {
	return s.WithBalanceTx(ctx, func(ls ledger.Store) error { return ls.ApplyEntry(ctx, e) })
}

func (s *Store) EntryExists(ctx context.Context, key string) (bool, error) {
	return entryExists(ctx, s.pool, key)
}

func (s *Store) Entries(ctx context.Context, user org.UserID) ([]ledger.Entry, error) {
	return entries(ctx, s.pool, user)
}

func (s *Store) Accounts(ctx context.Context) ([]org.UserID, error) {
	return accounts(ctx, s.pool)
}

func balance(ctx context.Context, q querier, user org.UserID, lock bool) (ledger.Balance, error) {
	query := "SELECT annual_entitlement, carryover_days, current_year_days FROM users WHERE id = $1"
	if lock {
		query += " FOR UPDATE"
	}
	var ent, carry, cur int
	err := q.QueryRow(ctx, query, string(user)).Scan(&ent, &carry, &cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Balance{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, user)
	}
	if err != nil {
		return ledger.Balance{}, fmt.Errorf("failed to load balance: %w", err)
	}
	return ledger.NewBalance(ent, carry, cur), nil
}

func applyEntry(ctx context.Context, q querier, e ledger.Entry) error {
	if _, err := balance(ctx, q, e.UserID, true); err != nil {
		return err
	}

	before, _ := json.Marshal(e.Before)
	after, _ := json.Marshal(e.After)
	tag, err := q.Exec(ctx, `
		INSERT INTO ledger_entries
		(id, user_id, kind, days, before_balance, after_balance, reference_id, reason, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, e.ID, string(e.UserID), string(e.Kind), e.Days, before, after,
		nullable(e.ReferenceID), nullable(e.Reason), nullable(e.IdempotencyKey), e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrDuplicateKey
	}

	b := e.After.Normalize()
	_, err = q.Exec(ctx, `
		UPDATE users SET annual_entitlement = $1, carryover_days = $2, current_year_days = $3, total_balance = $4
		WHERE id = $5
	`, b.Entitlement, b.Carryover, b.CurrentYear, b.Total, string(e.UserID))
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return nil
}

func entryExists(ctx context.Context, q querier, key string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE idempotency_key = $1)", key).Scan(&exists)
	return exists, err
}

func entries(ctx context.Context, q querier, user org.UserID) ([]ledger.Entry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, user_id, kind, days, before_balance, after_balance, reference_id, reason, idempotency_key, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at ASC, seq ASC
	`, string(user))
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var (
			e                          ledger.Entry
			userID, kind               string
			before, after              []byte
			reference, reason, idemKey *string
		)
		if err := rows.Scan(&e.ID, &userID, &kind, &e.Days, &before, &after,
			&reference, &reason, &idemKey, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		if err := json.Unmarshal(before, &e.Before); err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		if err := json.Unmarshal(after, &e.After); err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		e.UserID = org.UserID(userID)
		e.Kind = ledger.EntryKind(kind)
		e.ReferenceID = deref(reference)
		e.Reason = deref(reason)
		e.IdempotencyKey = deref(idemKey)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func accounts(ctx context.Context, q querier) ([]org.UserID, error) {
	rows, err := q.Query(ctx, "SELECT id FROM users WHERE active ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var out []org.UserID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, org.UserID(id))
	}
	return out, rows.Err()
}

// =============================================================================
// ROLLOVER RUNS (ledger.RunStore)
// =============================================================================

func (s *Store) SaveRun(ctx context.Context, r ledger.Run) error {
	var completed *time.Time
	if r.CompletedAt != nil {
		t := r.CompletedAt.UTC()
		completed = &t
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rollover_runs (id, year, status, reset_count, skipped_count, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			reset_count = EXCLUDED.reset_count,
			skipped_count = EXCLUDED.skipped_count,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at
	`, r.ID, r.Year, string(r.Status), r.Reset, r.Skipped, nullable(r.Error), r.StartedAt.UTC(), completed)
	return err
}

func (s *Store) Runs(ctx context.Context, year int) ([]ledger.Run, error) {
	query := "SELECT id, year, status, reset_count, skipped_count, error, started_at, completed_at FROM rollover_runs"
	var args []any
	if year != 0 {
		query += " WHERE year = $1"
		args = append(args, year)
	}
	query += " ORDER BY started_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ledger.Run
	for rows.Next() {
		var (
			r         ledger.Run
			status    string
			errText   *string
			completed *time.Time
		)
		if err := rows.Scan(&r.ID, &r.Year, &status, &r.Reset, &r.Skipped, &errText, &r.StartedAt, &completed); err != nil {
			return nil, err
		}
		r.Status = ledger.RunStatus(status)
		r.Error = deref(errText)
		r.StartedAt = r.StartedAt.UTC()
		if completed != nil {
			t := completed.UTC()
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// LEAVE REQUESTS (workflow.Store)
// =============================================================================

type stamps struct {
	Submitted       *workflow.Stamp `json:"submitted,omitempty"`
	ManagerDecision *workflow.Stamp `json:"manager_decision,omitempty"`
	Protocol        *workflow.Stamp `json:"protocol,omitempty"`
	Processing      *workflow.Stamp `json:"processing,omitempty"`
	HandlerDecision *workflow.Stamp `json:"handler_decision,omitempty"`
	Completed       *workflow.Stamp `json:"completed,omitempty"`
}

func encodeRequest(r workflow.LeaveRequest) (periods, st []byte, err error) {
	periods, err = json.Marshal(r.Periods)
	if err != nil {
		return nil, nil, fmt.Errorf("encode periods: %w", err)
	}
	st, err = json.Marshal(stamps{r.Submitted, r.ManagerDecision, r.Protocol, r.Processing, r.HandlerDecision, r.Completed})
	if err != nil {
		return nil, nil, fmt.Errorf("encode stamps: %w", err)
	}
	return periods, st, nil
}

const requestColumns = `id, owner_id, leave_type_id, justification, status, periods, stamps,
	cancelled_by_owner, version, created_at, updated_at`

func scanRequest(row pgx.Row) (workflow.LeaveRequest, error) {
	var (
		r                     workflow.LeaveRequest
		id, owner, lt, status string
		periods, st           []byte
	)
	err := row.Scan(&id, &owner, &lt, &r.Justification, &status, &periods, &st,
		&r.CancelledByOwner, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return r, err
	}
	r.ID = workflow.RequestID(id)
	r.OwnerID = org.UserID(owner)
	r.LeaveTypeID = workflow.LeaveTypeID(lt)
	r.Status = workflow.Status(status)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	if err := json.Unmarshal(periods, &r.Periods); err != nil {
		return r, fmt.Errorf("request %s periods: %w", id, err)
	}
	var sj stamps
	if err := json.Unmarshal(st, &sj); err != nil {
		return r, fmt.Errorf("request %s stamps: %w", id, err)
	}
	r.Submitted, r.ManagerDecision, r.Protocol = sj.Submitted, sj.ManagerDecision, sj.Protocol
	r.Processing, r.HandlerDecision, r.Completed = sj.Processing, sj.HandlerDecision, sj.Completed
	return r, nil
}

func (s *Store) CreateRequest(ctx context.Context, r workflow.LeaveRequest) error {
	return createRequest(ctx, s.pool, r)
}

func (s *Store) GetRequest(ctx context.Context, id workflow.RequestID) (workflow.LeaveRequest, error) {
	return getRequest(ctx, s.pool, id)
}

func (s *Store) ListRequests(ctx context.Context, f workflow.Filter) ([]workflow.LeaveRequest, error) {
	return listRequests(ctx, s.pool, f)
}

func (s *Store) SwapRequest(ctx context.Context, next workflow.LeaveRequest, status workflow.Status, version int) error {
	return swapRequest(ctx, s.pool, next, status, version)
}

func (s *Store) LeaveType(ctx context.Context, id workflow.LeaveTypeID) (workflow.LeaveType, error) {
	return leaveType(ctx, s.pool, id)
}

func (s *Store) LeaveTypes(ctx context.Context) ([]workflow.LeaveType, error) {
	return leaveTypes(ctx, s.pool)
}

func createRequest(ctx context.Context, q querier, r workflow.LeaveRequest) error {
	periods, st, err := encodeRequest(r)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `INSERT INTO leave_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		string(r.ID), string(r.OwnerID), string(r.LeaveTypeID), r.Justification, string(r.Status),
		periods, st, r.CancelledByOwner, r.Version, r.CreatedAt.UTC(), r.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return fmt.Errorf("leave request %s already exists: %w", r.ID, err)
	}
	if err != nil {
		return fmt.Errorf("failed to insert leave request %s: %w", r.ID, err)
	}
	return nil
}

func getRequest(ctx context.Context, q querier, id workflow.RequestID) (workflow.LeaveRequest, error) {
	r, err := scanRequest(q.QueryRow(ctx, "SELECT "+requestColumns+" FROM leave_requests WHERE id = $1", string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
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
		ids := make([]string, len(f.OwnerIDs))
		for i, id := range f.OwnerIDs {
			ids[i] = string(id)
		}
		args = append(args, ids)
		where = append(where, fmt.Sprintf("owner_id = ANY($%d)", len(args)))
	}
	if len(f.Statuses) > 0 {
		sts := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			sts[i] = string(st)
		}
		args = append(args, sts)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	query := "SELECT " + requestColumns + " FROM leave_requests"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := q.Query(ctx, query, args...)
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
	tag, err := q.Exec(ctx, `
		UPDATE leave_requests SET
			justification = $1, status = $2, periods = $3, stamps = $4,
			cancelled_by_owner = $5, version = $6, updated_at = $7
		WHERE id = $8 AND status = $9 AND version = $10
	`, next.Justification, string(next.Status), periods, st,
		next.CancelledByOwner, next.Version, next.UpdatedAt.UTC(),
		string(next.ID), string(status), version)
	if err != nil {
		return fmt.Errorf("failed to update leave request %s: %w", next.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM leave_requests WHERE id = $1)", string(next.ID)).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", workflow.ErrRequestNotFound, next.ID)
	}
	return workflow.ErrStale
}

func leaveType(ctx context.Context, q querier, id workflow.LeaveTypeID) (workflow.LeaveType, error) {
	var (
		lt  workflow.LeaveType
		lid string
	)
	err := q.QueryRow(ctx, "SELECT id, code, name, deductible, active FROM leave_types WHERE id = $1", string(id)).
		Scan(&lid, &lt.Code, &lt.Name, &lt.Deductible, &lt.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return lt, fmt.Errorf("%w: %s", workflow.ErrLeaveTypeNotFound, id)
	}
	lt.ID = workflow.LeaveTypeID(lid)
	return lt, err
}

func leaveTypes(ctx context.Context, q querier) ([]workflow.LeaveType, error) {
	rows, err := q.Query(ctx, "SELECT id, code, name, deductible, active FROM leave_types ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query leave types: %w", err)
	}
	defer rows.Close()

	var out []workflow.LeaveType
	for rows.Next() {
		var (
			lt workflow.LeaveType
			id string
		)
		if err := rows.Scan(&id, &lt.Code, &lt.Name, &lt.Deductible, &lt.Active); err != nil {
			return nil, err
		}
		lt.ID = workflow.LeaveTypeID(id)
		out = append(out, lt)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn in a READ COMMITTED transaction. Balance reads inside it
// lock the user row.
func (s *Store) WithTx(ctx context.Context, fn func(workflow.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) WithBalanceTx(ctx context.Context, fn func(ledger.Store) error) error {
	return s.WithTx(ctx, func(tx workflow.Tx) error { return fn(tx) })
}

type txStore struct {
	tx pgx.Tx
}

func (ts *txStore) Balance(ctx context.Context, user org.UserID) (ledger.Balance, error) {
	return balance(ctx, ts.tx, user, true)
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
	return leaveTypes(ctx, ts.tx)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE leave_requests, ledger_entries, rollover_runs, users, leave_types, departments`)
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var (
	_ store.Store = (*Store)(nil)
	_ workflow.Tx = (*txStore)(nil)
)
