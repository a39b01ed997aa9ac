/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the workflow and ledger types from the external contract: dates travel as
  YYYY-MM-DD strings, timestamps as RFC3339, roles as codes.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Parsing (dates, event names) happens in the to* helpers below; business
  validation is the workflow's job.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/apettas/adeies/ledger"
	"github.com/apettas/adeies/org"
	"github.com/apettas/adeies/workflow"
)

// =============================================================================
// USERS
// =============================================================================

type UserDTO struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Email        string   `json:"email,omitempty"`
	DepartmentID string   `json:"department_id,omitempty"`
	Roles        []string `json:"roles"`
	Active       bool     `json:"active"`
}

func toUserDTO(u org.User) UserDTO {
	dto := UserDTO{
		ID:     string(u.ID),
		Name:   u.Name,
		Email:  u.Email,
		Roles:  u.Roles.Codes(),
		Active: u.Active,
	}
	if u.DepartmentID != nil {
		dto.DepartmentID = string(*u.DepartmentID)
	}
	if dto.Roles == nil {
		dto.Roles = []string{}
	}
	return dto
}

func toUserDTOs(users []org.User) []UserDTO {
	out := make([]UserDTO, len(users))
	for i, u := range users {
		out[i] = toUserDTO(u)
	}
	return out
}

// ApproverResponse names who decides the user's next request. Approver is
// null when nobody can; Chain is the full escalation path.
type ApproverResponse struct {
	UserID          string    `json:"user_id"`
	Approver        *UserDTO  `json:"approver"`
	Chain           []UserDTO `json:"chain"`
	CanRequestLeave bool      `json:"can_request_leave"`
}

// =============================================================================
// BALANCE & LEDGER
// =============================================================================

type BalanceDTO struct {
	UserID            string `json:"user_id"`
	AnnualEntitlement int    `json:"annual_entitlement"`
	CarryoverDays     int    `json:"carryover_days"`
	CurrentYearDays   int    `json:"current_year_days"`
	TotalBalance      int    `json:"total_balance"`
}

func toBalanceDTO(user org.UserID, b ledger.Balance) BalanceDTO {
	return BalanceDTO{
		UserID:            string(user),
		AnnualEntitlement: b.Entitlement,
		CarryoverDays:     b.Carryover,
		CurrentYearDays:   b.CurrentYear,
		TotalBalance:      b.Total,
	}
}

type EntryDTO struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Days        int        `json:"days"`
	Before      BalanceDTO `json:"before"`
	After       BalanceDTO `json:"after"`
	ReferenceID string     `json:"reference_id,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	CreatedAt   string     `json:"created_at"`
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:          e.ID,
		Kind:        string(e.Kind),
		Days:        e.Days,
		Before:      toBalanceDTO(e.UserID, e.Before),
		After:       toBalanceDTO(e.UserID, e.After),
		ReferenceID: e.ReferenceID,
		Reason:      e.Reason,
		CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type AdjustmentRequest struct {
	CarryoverDelta int    `json:"carryover_delta"`
	CurrentDelta   int    `json:"current_delta"`
	Reason         string `json:"reason"`
}

type RolloverRequest struct {
	Year int `json:"year,omitempty"` // 0 = current year
}

type RunDTO struct {
	ID          string  `json:"id"`
	Year        int     `json:"year"`
	Status      string  `json:"status"`
	Reset       int     `json:"reset"`
	Skipped     int     `json:"skipped"`
	Error       string  `json:"error,omitempty"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

func toRunDTO(r ledger.Run) RunDTO {
	dto := RunDTO{
		ID:        r.ID,
		Year:      r.Year,
		Status:    string(r.Status),
		Reset:     r.Reset,
		Skipped:   r.Skipped,
		Error:     r.Error,
		StartedAt: r.StartedAt.UTC().Format(time.RFC3339),
	}
	if r.CompletedAt != nil {
		s := r.CompletedAt.UTC().Format(time.RFC3339)
		dto.CompletedAt = &s
	}
	return dto
}

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

type PeriodDTO struct {
	Start string `json:"start"` // YYYY-MM-DD
	End   string `json:"end"`
	Days  int    `json:"days,omitempty"`
}

type StampDTO struct {
	By     string `json:"by"`
	At     string `json:"at"`
	Reason string `json:"reason,omitempty"`
	Number string `json:"number,omitempty"`
}

type RequestDTO struct {
	ID               string      `json:"id"`
	OwnerID          string      `json:"owner_id"`
	LeaveTypeID      string      `json:"leave_type_id"`
	Justification    string      `json:"justification"`
	Status           string      `json:"status"`
	Periods          []PeriodDTO `json:"periods"`
	TotalDays        int         `json:"total_days"`
	Submitted        *StampDTO   `json:"submitted,omitempty"`
	ManagerDecision  *StampDTO   `json:"manager_decision,omitempty"`
	Protocol         *StampDTO   `json:"protocol,omitempty"`
	Processing       *StampDTO   `json:"processing,omitempty"`
	HandlerDecision  *StampDTO   `json:"handler_decision,omitempty"`
	Completed        *StampDTO   `json:"completed,omitempty"`
	CancelledByOwner bool        `json:"cancelled_by_owner"`
	Version          int         `json:"version"`
	CreatedAt        string      `json:"created_at"`
	UpdatedAt        string      `json:"updated_at"`
}

func toStampDTO(s *workflow.Stamp) *StampDTO {
	if s == nil {
		return nil
	}
	return &StampDTO{
		By:     string(s.By),
		At:     s.At.UTC().Format(time.RFC3339),
		Reason: s.Reason,
		Number: s.Number,
	}
}

func toRequestDTO(r workflow.LeaveRequest) RequestDTO {
	periods := make([]PeriodDTO, len(r.Periods))
	for i, p := range r.Periods {
		periods[i] = PeriodDTO{
			Start: p.Start.Format(time.DateOnly),
			End:   p.End.Format(time.DateOnly),
			Days:  p.Days(),
		}
	}
	return RequestDTO{
		ID:               string(r.ID),
		OwnerID:          string(r.OwnerID),
		LeaveTypeID:      string(r.LeaveTypeID),
		Justification:    r.Justification,
		Status:           string(r.Status),
		Periods:          periods,
		TotalDays:        r.TotalDays(),
		Submitted:        toStampDTO(r.Submitted),
		ManagerDecision:  toStampDTO(r.ManagerDecision),
		Protocol:         toStampDTO(r.Protocol),
		Processing:       toStampDTO(r.Processing),
		HandlerDecision:  toStampDTO(r.HandlerDecision),
		Completed:        toStampDTO(r.Completed),
		CancelledByOwner: r.CancelledByOwner,
		Version:          r.Version,
		CreatedAt:        r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toRequestDTOs(rs []workflow.LeaveRequest) []RequestDTO {
	out := make([]RequestDTO, len(rs))
	for i, r := range rs {
		out[i] = toRequestDTO(r)
	}
	return out
}

// parsePeriods converts wire periods. nil stays nil so edit can tell "keep"
// from "clear".
func parsePeriods(in []PeriodDTO) (workflow.Periods, error) {
	if in == nil {
		return nil, nil
	}
	out := make(workflow.Periods, 0, len(in))
	for i, p := range in {
		start, err := time.Parse(time.DateOnly, strings.TrimSpace(p.Start))
		if err != nil {
			return nil, fmt.Errorf("period %d start: %w", i+1, err)
		}
		end, err := time.Parse(time.DateOnly, strings.TrimSpace(p.End))
		if err != nil {
			return nil, fmt.Errorf("period %d end: %w", i+1, err)
		}
		out = append(out, workflow.NewPeriod(start, end))
	}
	return out, nil
}

type CreateRequestRequest struct {
	LeaveTypeID   string      `json:"leave_type_id"`
	Justification string      `json:"justification"`
	Periods       []PeriodDTO `json:"periods"`
}

// TransitionRequest fires one event. Periods and Justification apply to edit.
type TransitionRequest struct {
	Event          string      `json:"event"`
	Reason         string      `json:"reason,omitempty"`
	ProtocolNumber string      `json:"protocol_number,omitempty"`
	Periods        []PeriodDTO `json:"periods,omitempty"`
	Justification  *string     `json:"justification,omitempty"`
}

type ActionDTO struct {
	Event            string `json:"event"`
	RequiresReason   bool   `json:"requires_reason"`
	RequiresProtocol bool   `json:"requires_protocol"`
}

func toActionDTOs(actions []workflow.Action) []ActionDTO {
	out := make([]ActionDTO, len(actions))
	for i, a := range actions {
		out[i] = ActionDTO{
			Event:            string(a.Event),
			RequiresReason:   a.RequiresReason,
			RequiresProtocol: a.RequiresProtocol,
		}
	}
	return out
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// LoadScenarioResponse carries a bearer token per loaded user so a demo client
// can act as anyone.
type LoadScenarioResponse struct {
	ScenarioID string            `json:"scenario_id"`
	Users      []UserDTO         `json:"users"`
	Tokens     map[string]string `json:"tokens"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Details   string `json:"details,omitempty"`
	Available *int   `json:"available,omitempty"`
	Requested *int   `json:"requested,omitempty"`
}
