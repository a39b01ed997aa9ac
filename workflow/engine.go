/*
engine.go - Transactional workflow service

PURPOSE:
  Engine is the sole mutation entry point for leave requests. Apply loads the
  request inside a store transaction, runs the pure Transition, performs the
  ledger side effects, and writes the result with a compare-and-set on
  (id, status, version).

APPLY FLOW:
  1. Snapshot the organisation (cached, read-mostly)
  2. BEGIN
  3. Load request + leave type
  4. Transition(...)                 → guards, next state
  5. submit:   deductible type must be affordable
     complete: deductible type deducts once, keyed on the request id
  6. SwapRequest(next, status, version) → ErrStale means another writer won
  7. COMMIT
  8. Notify owner and next actor; failures are logged only

CONCURRENCY:
  Two actors racing on the same request both pass step 4 only if they read the
  same version; exactly one SwapRequest succeeds and the other gets
  invalid_transition. A retried complete finds the deduction key and does not
  deduct again.

SEE ALSO:
  - guards.go: Transition
  - ledger/ledger.go: ApplyDeduction
  - store/sqlite/sqlite.go: SQL compare-and-set
*/
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/apettas/adeies/ledger"
	"github.com/apettas/adeies/org"
)

// OrgSource provides the current organisation snapshot. *org.Cache implements it.
type OrgSource interface {
	Resolver(ctx context.Context) (*org.Resolver, error)
}

// Metrics receives workflow counters. telemetry.Metrics implements it.
type Metrics interface {
	Transition(event, from, to string)
	TransitionFailed(event, kind string)
	DaysDeducted(days int)
}

type nopMetrics struct{}

func (nopMetrics) Transition(string, string, string) {}
func (nopMetrics) TransitionFailed(string, string)   {}
func (nopMetrics) DaysDeducted(int)                  {}

type Engine struct {
	store    TxStore
	org      OrgSource
	now      func() time.Time
	newID    func() RequestID
	notifier Notifier
	log      zerolog.Logger
	metrics  Metrics
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }
func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }
func WithLogger(log zerolog.Logger) Option { return func(e *Engine) { e.log = log } }
func WithMetrics(m Metrics) Option { return func(e *Engine) { e.metrics = m } }
func WithIDs(newID func() RequestID) Option { return func(e *Engine) { e.newID = newID } }

func NewEngine(store TxStore, orgs OrgSource, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		org:      orgs,
		now:      time.Now,
		newID:    func() RequestID { return RequestID(uuid.NewString()) },
		notifier: nopNotifier{},
		log:      zerolog.Nop(),
		metrics:  nopMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// actor resolves a user id, mapping unknown ids to unauthorized.
func (e *Engine) actor(res *org.Resolver, id org.UserID, event Event) (org.User, error) {
	u, err := res.User(id)
	if err != nil {
		return org.User{}, &TransitionError{Kind: KindUnauthorized, Event: event, Message: fmt.Sprintf("unknown user %s", id), Err: err}
	}
	return u, nil
}

// =============================================================================
// CREATE
// =============================================================================

// Draft is the input for Create.
type Draft struct {
	LeaveTypeID   LeaveTypeID `json:"leave_type_id"`
	Justification string      `json:"justification"`
	Periods       Periods     `json:"periods"`
}

// Create stores a new Draft request owned by ownerID.
func (e *Engine) Create(ctx context.Context, ownerID org.UserID, d Draft) (LeaveRequest, error) {
	res, err := e.org.Resolver(ctx)
	if err != nil {
		return LeaveRequest{}, err
	}
	owner, err := e.actor(res, ownerID, "")
	if err != nil {
		return LeaveRequest{}, err
	}
	if !owner.Active {
		return LeaveRequest{}, newError(KindUnauthorized, "", "", "user %s is not active", owner.ID)
	}
	if !res.CanRequestLeave(owner) {
		return LeaveRequest{}, newError(KindNoApprover, "", "", "the head of the organisation cannot request leave")
	}

	lt, err := e.store.LeaveType(ctx, d.LeaveTypeID)
	if err != nil {
		if errors.Is(err, ErrLeaveTypeNotFound) {
			return LeaveRequest{}, &TransitionError{Kind: KindValidationFailed, Message: fmt.Sprintf("unknown leave type %q", d.LeaveTypeID), Err: err}
		}
		return LeaveRequest{}, err
	}
	if !lt.Active {
		return LeaveRequest{}, newError(KindValidationFailed, "", "", "leave type %s is not active", lt.Code)
	}
	if err := d.Periods.Validate(); err != nil {
		return LeaveRequest{}, validation("", "", err)
	}

	now := e.now().UTC()
	req := LeaveRequest{
		ID:            e.newID(),
		OwnerID:       owner.ID,
		LeaveTypeID:   lt.ID,
		Justification: strings.TrimSpace(d.Justification),
		Status:        StatusDraft,
		Periods:       normalize(d.Periods),
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.CreateRequest(ctx, req); err != nil {
		return LeaveRequest{}, fmt.Errorf("create request: %w", err)
	}

	e.log.Info().
		Str("request_id", string(req.ID)).
		Str("user_id", string(owner.ID)).
		Str("leave_type", lt.Code).
		Int("days", req.TotalDays()).
		Msg("leave request created")
	return req, nil
}

// =============================================================================
// APPLY
// =============================================================================

// Apply fires event on request id as actorID. It is the only way to change a
// request's status.
func (e *Engine) Apply(ctx context.Context, id RequestID, event Event, actorID org.UserID, p Payload) (LeaveRequest, error) {
	res, err := e.org.Resolver(ctx)
	if err != nil {
		return LeaveRequest{}, err
	}
	actor, err := e.actor(res, actorID, event)
	if err != nil {
		e.fail(event, err)
		return LeaveRequest{}, err
	}

	var (
		before, after LeaveRequest
		deducted      int
	)
	now := e.now()

	err = e.store.WithTx(ctx, func(tx Tx) error {
		req, err := tx.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		before = req

		next, err := Transition(res, req, event, actor, p, now)
		if err != nil {
			return err
		}

		// A submitted request edited with new periods is checked like a submit.
		resubmit := event == EventEdit && req.Status == StatusSubmitted && p.Periods != nil
		if event == EventSubmit || event == EventComplete || resubmit {
			lt, err := tx.LeaveType(ctx, req.LeaveTypeID)
			if err != nil {
				return err
			}
			days := next.TotalDays()
			switch {
			case !lt.Deductible:
			case event != EventComplete:
				if err := checkAffordable(ctx, tx, req.OwnerID, days, event, req.Status); err != nil {
					return err
				}
			default:
				_, applied, err := ledger.ApplyDeduction(ctx, tx, req.OwnerID, days, string(req.ID), now)
				if err != nil {
					return balanceError(err, event, req.Status)
				}
				if applied {
					deducted = days
				}
			}
		}

		if err := tx.SwapRequest(ctx, next, req.Status, req.Version); err != nil {
			if errors.Is(err, ErrStale) {
				return &TransitionError{Kind: KindInvalidTransition, Event: event, From: req.Status, Message: "request changed concurrently", Err: err}
			}
			return err
		}
		after = next
		return nil
	})
	if err != nil {
		e.fail(event, err)
		logEvt := e.log.Warn()
		if KindOf(err) == "" && !IsNotFound(err) {
			logEvt = e.log.Error()
		}
		logEvt.Err(err).
			Str("request_id", string(id)).
			Str("event", string(event)).
			Str("actor", string(actorID)).
			Msg("transition refused")
		return LeaveRequest{}, err
	}

	e.metrics.Transition(string(event), string(before.Status), string(after.Status))
	if deducted > 0 {
		e.metrics.DaysDeducted(deducted)
	}
	e.log.Info().
		Str("request_id", string(id)).
		Str("event", string(event)).
		Str("actor", string(actorID)).
		Str("from", string(before.Status)).
		Str("to", string(after.Status)).
		Int("deducted", deducted).
		Msg("transition applied")

	e.notify(ctx, res, before, after, event, actorID, p.Reason)
	return after, nil
}

func checkAffordable(ctx context.Context, tx Tx, owner org.UserID, days int, event Event, from Status) error {
	b, err := tx.Balance(ctx, owner)
	if err != nil {
		return err
	}
	if !ledger.CanAfford(b, days) {
		return balanceError(&ledger.InsufficientBalanceError{UserID: owner, Available: b.Normalize().Total, Requested: days}, event, from)
	}
	return nil
}

func balanceError(err error, event Event, from Status) error {
	var ib *ledger.InsufficientBalanceError
	if errors.As(err, &ib) {
		return &TransitionError{
			Kind:    KindInsufficientBalance,
			Event:   event,
			From:    from,
			Message: fmt.Sprintf("requested %d days but only %d are available", ib.Requested, ib.Available),
			Err:     err,
		}
	}
	if errors.Is(err, ledger.ErrInvalidDays) {
		return &TransitionError{Kind: KindValidationFailed, Event: event, From: from, Message: err.Error(), Err: err}
	}
	return err
}

func (e *Engine) fail(event Event, err error) {
	kind := KindOf(err)
	switch {
	case kind != "":
	case IsNotFound(err):
		kind = "not_found"
	default:
		kind = "internal"
	}
	e.metrics.TransitionFailed(string(event), string(kind))
}

func (e *Engine) notify(ctx context.Context, res *org.Resolver, before, after LeaveRequest, event Event, actor org.UserID, reason string) {
	n := Notification{
		RequestID: after.ID,
		Event:     event,
		From:      before.Status,
		To:        after.Status,
		Actor:     actor,
		OwnerID:   after.OwnerID,
		Reason:    reason,
	}
	var next *org.User
	if after.Status == StatusSubmitted && event == EventSubmit {
		if owner, err := res.User(after.OwnerID); err == nil {
			next, _ = res.ResolveApprover(owner)
		}
	}
	for _, to := range recipients(n, next) {
		if err := e.notifier.Notify(ctx, to, n); err != nil {
			e.log.Warn().Err(err).
				Str("request_id", string(after.ID)).
				Str("recipient", string(to)).
				Msg("notification failed")
		}
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns the request if viewerID may see it.
func (e *Engine) Get(ctx context.Context, viewerID org.UserID, id RequestID) (LeaveRequest, error) {
	res, viewer, err := e.viewer(ctx, viewerID)
	if err != nil {
		return LeaveRequest{}, err
	}
	req, err := e.store.GetRequest(ctx, id)
	if err != nil {
		return LeaveRequest{}, err
	}
	if !CanView(res, req, viewer) {
		return LeaveRequest{}, newError(KindUnauthorized, "", req.Status, "%s may not view request %s", viewerID, id)
	}
	return req, nil
}

// Actions returns the events viewerID may fire on request id now.
func (e *Engine) Actions(ctx context.Context, viewerID org.UserID, id RequestID) ([]Action, error) {
	res, viewer, err := e.viewer(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	req, err := e.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanView(res, req, viewer) {
		return nil, newError(KindUnauthorized, "", req.Status, "%s may not view request %s", viewerID, id)
	}
	return NextActions(res, req, viewer), nil
}

// List returns the requests matching f that viewerID may see.
func (e *Engine) List(ctx context.Context, viewerID org.UserID, f Filter) ([]LeaveRequest, error) {
	res, viewer, err := e.viewer(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	limit := f.Limit
	f.Limit = 0
	all, err := e.store.ListRequests(ctx, f)
	if err != nil {
		return nil, err
	}

	out := make([]LeaveRequest, 0, len(all))
	for _, req := range all {
		if !CanView(res, req, viewer) {
			continue
		}
		if f.Actionable && len(NextActions(res, req, viewer)) == 0 {
			continue
		}
		out = append(out, req)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (e *Engine) viewer(ctx context.Context, id org.UserID) (*org.Resolver, org.User, error) {
	res, err := e.org.Resolver(ctx)
	if err != nil {
		return nil, org.User{}, err
	}
	u, err := e.actor(res, id, "")
	if err != nil {
		return nil, org.User{}, err
	}
	return res, u, nil
}
