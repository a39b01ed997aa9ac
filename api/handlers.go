/*
handlers.go - HTTP API handlers for the leave approval service

PURPOSE:
  Exposes the workflow engine, the approver resolver and the leave ledger
  via REST API. Handles HTTP request/response, JSON serialization, and
  delegates every decision to the domain packages.

ENDPOINTS:
  Organisation:
    GET    /api/users/{id}/approver       Approver and escalation chain
    GET    /api/users/{id}/subordinates   Users the manager sees
    GET    /api/users/{id}/balance        Leave-day breakdown
    GET    /api/users/{id}/ledger         Balance journal

  Requests:
    POST   /api/requests                  Create draft
    GET    /api/requests                  List visible requests
    GET    /api/requests/{id}             Get request
    POST   /api/requests/{id}/transitions Fire an event
    GET    /api/requests/{id}/actions     Events the caller may fire

  Admin (administrator role):
    POST   /api/admin/users/{id}/yearly-reset
    POST   /api/admin/users/{id}/adjustments
    POST   /api/admin/rollover
    GET    /api/admin/rollover/runs
    POST   /api/admin/org/reload

ERROR HANDLING:
  Errors are returned as ErrorResponse with a stable code:
  - 400 bad_request, validation_failed
  - 401 unauthenticated (auth.go)
  - 403 unauthorized
  - 404 not_found
  - 409 invalid_transition
  - 422 insufficient_balance, no_approver
  - 500 integrity_fault, internal

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/apettas/adeies/ledger"
	"github.com/apettas/adeies/org"
	"github.com/apettas/adeies/store"
	"github.com/apettas/adeies/workflow"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Deps are the collaborators a Handler needs.
type Deps struct {
	Store     store.Store
	Org       *org.Cache
	Engine    *workflow.Engine
	Ledger    *ledger.Ledger
	Rollover  *RolloverScheduler
	JWTSecret string
	Log       zerolog.Logger
	Now       func() time.Time
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Deps

	mu              sync.Mutex
	currentScenario string
}

func NewHandler(d Deps) *Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Handler{Deps: d}
}

var errBadRequest = errors.New("bad request")

// =============================================================================
// ORGANISATION HANDLERS
// =============================================================================

// GetApprover returns who decides the user's next request.
func (h *Handler) GetApprover(w http.ResponseWriter, r *http.Request) {
	res, _, target, ok := h.userContext(w, r)
	if !ok {
		return
	}
	approver, err := res.ResolveApprover(target)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	chain, err := res.ApprovalChain(target)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := ApproverResponse{
		UserID:          string(target.ID),
		Chain:           toUserDTOs(chain),
		CanRequestLeave: res.CanRequestLeave(target),
	}
	if approver != nil {
		dto := toUserDTO(*approver)
		resp.Approver = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSubordinates lists the users {id} sees as a manager.
func (h *Handler) GetSubordinates(w http.ResponseWriter, r *http.Request) {
	res, _, target, ok := h.userContext(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toUserDTOs(res.Subordinates(target)))
}

// GetBalance returns the user's carryover, current-year and total days.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	_, _, target, ok := h.userContext(w, r)
	if !ok {
		return
	}
	b, err := h.Ledger.Breakdown(r.Context(), target.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(target.ID, b))
}

// GetLedger returns the user's balance journal, oldest first.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	_, _, target, ok := h.userContext(w, r)
	if !ok {
		return
	}
	entries, err := h.Ledger.Entries(r.Context(), target.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// userContext resolves the caller and the {id} user and checks the caller may
// see the target's personal data.
func (h *Handler) userContext(w http.ResponseWriter, r *http.Request) (*org.Resolver, org.User, org.User, bool) {
	res, viewer, ok := h.caller(w, r)
	if !ok {
		return nil, org.User{}, org.User{}, false
	}
	target, err := res.User(org.UserID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return nil, org.User{}, org.User{}, false
	}
	if !canSeeUser(res, viewer, target) {
		h.writeError(w, r, fmt.Errorf("%w: %s may not view user %s", workflow.ErrUnauthorized, viewer.ID, target.ID))
		return nil, org.User{}, org.User{}, false
	}
	return res, viewer, target, true
}

// canSeeUser: self, administrators, leave handlers, the user's department
// manager and the user's resolved approver.
func canSeeUser(res *org.Resolver, viewer, target org.User) bool {
	if viewer.ID == target.ID || viewer.Has(org.RoleAdministrator) || viewer.Has(org.RoleLeaveHandler) {
		return true
	}
	if res.IsDirectManager(viewer, target) {
		return true
	}
	approver, err := res.ResolveApprover(target)
	return err == nil && approver != nil && approver.ID == viewer.ID
}

// caller returns the authenticated user from the current snapshot.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (*org.Resolver, org.User, bool) {
	actorID, ok := ActorFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: errMissingToken.Error(), Code: "unauthenticated"})
		return nil, org.User{}, false
	}
	res, err := h.Org.Resolver(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return nil, org.User{}, false
	}
	viewer, err := res.User(actorID)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: unknown user %s", workflow.ErrUnauthorized, actorID))
		return nil, org.User{}, false
	}
	return res, viewer, true
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// CreateRequest stores a new draft owned by the caller.
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	actorID, _ := ActorFrom(r.Context())

	var body CreateRequestRequest
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	periods, err := parsePeriods(body.Periods)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}

	req, err := h.Engine.Create(r.Context(), actorID, workflow.Draft{
		LeaveTypeID:   workflow.LeaveTypeID(body.LeaveTypeID),
		Justification: body.Justification,
		Periods:       periods,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(req))
}

// GetRequest returns one request the caller may view.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	actorID, _ := ActorFrom(r.Context())
	req, err := h.Engine.Get(r.Context(), actorID, workflow.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// ListRequests returns visible requests, newest first.
//
// Query: owner (repeatable or comma separated), status (same), actionable=true,
// limit.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	actorID, _ := ActorFrom(r.Context())
	q := r.URL.Query()

	var f workflow.Filter
	for _, id := range queryList(q["owner"]) {
		f.OwnerIDs = append(f.OwnerIDs, org.UserID(id))
	}
	for _, code := range queryList(q["status"]) {
		s, ok := workflow.ParseStatus(code)
		if !ok {
			h.writeError(w, r, fmt.Errorf("%w: unknown status %q", errBadRequest, code))
			return
		}
		f.Statuses = append(f.Statuses, s)
	}
	if v := q.Get("actionable"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: actionable: %w", errBadRequest, err))
			return
		}
		f.Actionable = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, r, fmt.Errorf("%w: limit must be a non-negative integer", errBadRequest))
			return
		}
		f.Limit = n
	}

	reqs, err := h.Engine.List(r.Context(), actorID, f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(reqs))
}

// Transition fires one event on a request as the caller.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	actorID, _ := ActorFrom(r.Context())

	var body TransitionRequest
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	event := workflow.Event(strings.TrimSpace(body.Event))
	if !event.Valid() {
		h.writeError(w, r, fmt.Errorf("%w: unknown event %q", errBadRequest, body.Event))
		return
	}
	periods, err := parsePeriods(body.Periods)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}

	req, err := h.Engine.Apply(r.Context(), workflow.RequestID(chi.URLParam(r, "id")), event, actorID, workflow.Payload{
		Reason:         body.Reason,
		ProtocolNumber: body.ProtocolNumber,
		Periods:        periods,
		Justification:  body.Justification,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// GetActions lists the events the caller may fire on the request now.
func (h *Handler) GetActions(w http.ResponseWriter, r *http.Request) {
	actorID, _ := ActorFrom(r.Context())
	actions, err := h.Engine.Actions(r.Context(), actorID, workflow.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toActionDTOs(actions))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// YearlyReset applies one reset to a user. Not idempotent; the scheduled
// rollover is.
func (h *Handler) YearlyReset(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireRole(w, r, org.RoleAdministrator); !ok {
		return
	}
	entry, err := h.Ledger.YearlyReset(r.Context(), org.UserID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// CreateAdjustment applies a manual balance correction.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireRole(w, r, org.RoleAdministrator); !ok {
		return
	}
	var body AdjustmentRequest
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(body.Reason) == "" {
		h.writeError(w, r, fmt.Errorf("%w: reason is required", errBadRequest))
		return
	}
	if body.CarryoverDelta == 0 && body.CurrentDelta == 0 {
		h.writeError(w, r, fmt.Errorf("%w: nothing to change", errBadRequest))
		return
	}

	entry, err := h.Ledger.Adjust(r.Context(), org.UserID(chi.URLParam(r, "id")), body.CarryoverDelta, body.CurrentDelta, body.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// TriggerRollover runs the yearly rollover now. Safe to repeat.
func (h *Handler) TriggerRollover(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireRole(w, r, org.RoleAdministrator); !ok {
		return
	}
	var body RolloverRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	year := body.Year
	if year == 0 {
		year = h.Now().Year()
	}

	run, err := h.Rollover.RunYear(r.Context(), year)
	if err != nil {
		if run.Status == ledger.RunFailed {
			h.Log.Error().Err(err).Int("year", year).Msg("rollover finished with failures")
			writeJSON(w, http.StatusInternalServerError, toRunDTO(run))
			return
		}
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

// ListRolloverRuns returns recorded rollover runs, newest first.
func (h *Handler) ListRolloverRuns(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireRole(w, r, org.RoleAdministrator); !ok {
		return
	}
	year := 0
	if v := r.URL.Query().Get("year"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: year: %w", errBadRequest, err))
			return
		}
		year = n
	}
	runs, err := h.Rollover.Runs(r.Context(), year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ReloadOrg rebuilds the organisation snapshot from the store.
func (h *Handler) ReloadOrg(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireRole(w, r, org.RoleAdministrator); !ok {
		return
	}
	res, err := h.Org.Reload(r.Context(), nil)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"departments": res.Tree().Len(),
		"users":       res.Roster().Len(),
	})
}

func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, role org.Role) (org.User, bool) {
	_, viewer, ok := h.caller(w, r)
	if !ok {
		return org.User{}, false
	}
	if !viewer.Active || !viewer.Has(role) {
		h.writeError(w, r, fmt.Errorf("%w: %s role required", workflow.ErrUnauthorized, role))
		return org.User{}, false
	}
	return viewer, true
}

// Healthz reports whether the organisation snapshot can be built.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Org.Resolver(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %w", errBadRequest, err)
	}
	return nil
}

func queryList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// errorStatus maps a domain error to its HTTP status and code.
func errorStatus(err error) (int, string) {
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest, "bad_request"
	}
	switch workflow.KindOf(err) {
	case workflow.KindValidationFailed:
		return http.StatusBadRequest, string(workflow.KindValidationFailed)
	case workflow.KindUnauthorized:
		return http.StatusForbidden, string(workflow.KindUnauthorized)
	case workflow.KindInvalidTransition:
		return http.StatusConflict, string(workflow.KindInvalidTransition)
	case workflow.KindInsufficientBalance:
		return http.StatusUnprocessableEntity, string(workflow.KindInsufficientBalance)
	case workflow.KindNoApprover:
		return http.StatusUnprocessableEntity, string(workflow.KindNoApprover)
	}
	switch {
	case ledger.IsClientError(err):
		return http.StatusBadRequest, string(workflow.KindValidationFailed)
	case workflow.IsNotFound(err),
		errors.Is(err, org.ErrUserNotFound),
		errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound, "not_found"
	case org.IsIntegrityFault(err):
		return http.StatusInternalServerError, "integrity_fault"
	}
	return http.StatusInternalServerError, "internal"
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	resp := ErrorResponse{Error: http.StatusText(status), Code: code, Details: err.Error()}

	var ib *ledger.InsufficientBalanceError
	if errors.As(err, &ib) {
		resp.Available = &ib.Available
		resp.Requested = &ib.Requested
	}

	if status >= http.StatusInternalServerError {
		h.Log.Error().Err(err).
			Str("code", code).
			Str("http_request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeJSON(w, status, resp)
}
