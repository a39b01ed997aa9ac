package workflow

import (
	"fmt"
	"sort"
	"time"

	"github.com/apettas/adeies/org"
)

// MaxRequestDays caps the total days of one request.
const MaxRequestDays = 365

type RequestID string
type LeaveTypeID string

// LeaveType is reference data. Only deductible types consume balance.
type LeaveType struct {
	ID         LeaveTypeID `json:"id"`
	Code       string      `json:"code"`
	Name       string      `json:"name"`
	Deductible bool        `json:"deductible"`
	Active     bool        `json:"active"`
}

// =============================================================================
// PERIODS
// =============================================================================

// Period is an inclusive range of calendar days. Times are truncated to the
// UTC date.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewPeriod(start, end time.Time) Period {
	return Period{Start: Date(start), End: Date(end)}
}

// Date truncates t to midnight UTC of its calendar day.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Days returns End-Start+1, or 0 when End is before Start.
func (p Period) Days() int {
	start, end := Date(p.Start), Date(p.End)
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Hours()/24) + 1
}

func (p Period) overlaps(o Period) bool {
	return !Date(p.End).Before(Date(o.Start)) && !Date(o.End).Before(Date(p.Start))
}

type Periods []Period

func (ps Periods) TotalDays() int {
	total := 0
	for _, p := range ps {
		total += p.Days()
	}
	return total
}

// Validate checks the shape of the periods: every period ends on or after its
// start and no two overlap. An empty list is valid for drafts.
func (ps Periods) Validate() error {
	for i, p := range ps {
		if p.Start.IsZero() || p.End.IsZero() {
			return fmt.Errorf("%w: period %d is missing a date", ErrValidationFailed, i+1)
		}
		if Date(p.End).Before(Date(p.Start)) {
			return fmt.Errorf("%w: period %d ends before it starts", ErrValidationFailed, i+1)
		}
	}
	sorted := append(Periods(nil), ps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].overlaps(sorted[i]) {
			return fmt.Errorf("%w: periods %s..%s and %s..%s overlap", ErrValidationFailed,
				dateString(sorted[i-1].Start), dateString(sorted[i-1].End),
				dateString(sorted[i].Start), dateString(sorted[i].End))
		}
	}
	return nil
}

// ValidateForSubmit adds the submission rules: at least one period and a total
// between 1 and MaxRequestDays.
func (ps Periods) ValidateForSubmit() error {
	if len(ps) == 0 {
		return fmt.Errorf("%w: at least one period is required", ErrValidationFailed)
	}
	if err := ps.Validate(); err != nil {
		return err
	}
	total := ps.TotalDays()
	if total <= 0 {
		return fmt.Errorf("%w: total days must be positive", ErrValidationFailed)
	}
	if total > MaxRequestDays {
		return fmt.Errorf("%w: %d days exceeds the %d day limit", ErrValidationFailed, total, MaxRequestDays)
	}
	return nil
}

func dateString(t time.Time) string { return t.Format(time.DateOnly) }

// =============================================================================
// LEAVE REQUEST
// =============================================================================

// Stamp records who performed a transition and when. Reason is set on
// rejections and cancellation, Number on protocol steps.
type Stamp struct {
	By     org.UserID `json:"by"`
	At     time.Time  `json:"at"`
	Reason string     `json:"reason,omitempty"`
	Number string     `json:"number,omitempty"`
}

// LeaveRequest is the workflow aggregate. Status is the single source of truth;
// the stamps only record who moved it there.
type LeaveRequest struct {
	ID            RequestID   `json:"id"`
	OwnerID       org.UserID  `json:"owner_id"`
	LeaveTypeID   LeaveTypeID `json:"leave_type_id"`
	Justification string      `json:"justification"`
	Status        Status      `json:"status"`
	Periods       Periods     `json:"periods"`

	Submitted       *Stamp `json:"submitted,omitempty"`
	ManagerDecision *Stamp `json:"manager_decision,omitempty"`
	Protocol        *Stamp `json:"protocol,omitempty"`
	Processing      *Stamp `json:"processing,omitempty"`
	HandlerDecision *Stamp `json:"handler_decision,omitempty"`
	Completed       *Stamp `json:"completed,omitempty"`

	CancelledByOwner bool `json:"cancelled_by_owner"`

	// Version increases by one on every change; stores compare it on write.
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r LeaveRequest) TotalDays() int { return r.Periods.TotalDays() }

// Clone returns a deep copy, so a proposed next state never aliases the stored one.
func (r LeaveRequest) Clone() LeaveRequest {
	c := r
	c.Periods = append(Periods(nil), r.Periods...)
	c.Submitted = cloneStamp(r.Submitted)
	c.ManagerDecision = cloneStamp(r.ManagerDecision)
	c.Protocol = cloneStamp(r.Protocol)
	c.Processing = cloneStamp(r.Processing)
	c.HandlerDecision = cloneStamp(r.HandlerDecision)
	c.Completed = cloneStamp(r.Completed)
	return c
}

func cloneStamp(s *Stamp) *Stamp {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
