/*
Package ledger maintains per-user leave-day balances.

PURPOSE:
  Every user carries two balances: days carried over from the prior year and
  the current year's allotment. Consumption depletes carryover first. The total
  is derived and is always carryover + current year.

KEY CONCEPTS IN THIS FILE (balance.go):
  - Balance:     The four balance integers for one user
  - CanAfford:   Whether a deduction would succeed
  - Deduct:      Carryover-first consumption, refused (never clamped) on shortfall
  - YearlyReset: carryover ← current year, current year ← entitlement

  All of these are pure functions. Persistence, idempotency and the journal
  live in ledger.go and store.go.

EXAMPLE:
  b := NewBalance(25, 5, 25)   // entitlement 25, carryover 5, current 25
  b, _ = Deduct(b, 8)          // carryover 0, current 22, total 22
  b = YearlyReset(b)           // carryover 22, current 25, total 47

SEE ALSO:
  - ledger.go: Transactional service with exactly-once deduction
  - store.go: Entry, the journal row recorded for every mutation
*/
package ledger

import "fmt"

// Balance is a user's leave-day position. Use NewBalance or one of the
// operations below; Total is kept equal to Carryover + CurrentYear.
type Balance struct {
	Entitlement int `json:"annual_entitlement"`
	Carryover   int `json:"carryover_days"`
	CurrentYear int `json:"current_year_days"`
	Total       int `json:"total_balance"`
}

func NewBalance(entitlement, carryover, currentYear int) Balance {
	return Balance{
		Entitlement: entitlement,
		Carryover:   carryover,
		CurrentYear: currentYear,
		Total:       carryover + currentYear,
	}
}

// Normalize recomputes Total from its components.
func (b Balance) Normalize() Balance {
	b.Total = b.Carryover + b.CurrentYear
	return b
}

// Consistent reports whether Total matches its components and nothing is
// negative.
func (b Balance) Consistent() bool {
	return b.Total == b.Carryover+b.CurrentYear &&
		b.Carryover >= 0 && b.CurrentYear >= 0 && b.Entitlement >= 0
}

func (b Balance) String() string {
	return fmt.Sprintf("carryover=%d current=%d total=%d entitlement=%d",
		b.Carryover, b.CurrentYear, b.Total, b.Entitlement)
}

// CanAfford reports whether days can be deducted from b.
func CanAfford(b Balance, days int) bool {
	return days > 0 && days <= b.Carryover+b.CurrentYear
}

// Deduct consumes days from carryover first, then from the current year. A
// shortfall returns *InsufficientBalanceError and leaves b unchanged.
func Deduct(b Balance, days int) (Balance, error) {
	if days <= 0 {
		return b, fmt.Errorf("%w: %d", ErrInvalidDays, days)
	}
	b = b.Normalize()
	if days > b.Total {
		return b, &InsufficientBalanceError{Available: b.Total, Requested: days}
	}

	fromCarry := min(days, b.Carryover)
	b.Carryover -= fromCarry
	b.CurrentYear -= days - fromCarry
	return b.Normalize(), nil
}

// YearlyReset rolls the year over: whatever is left of the current year becomes
// carryover and the current year restarts at the entitlement. The previous
// carryover is forfeited. It is a pure function of the prior state.
func YearlyReset(b Balance) Balance {
	b.Carryover = b.CurrentYear
	b.CurrentYear = b.Entitlement
	return b.Normalize()
}

// Adjust applies an administrative correction. The result must not go negative.
func Adjust(b Balance, carryoverDelta, currentDelta int) (Balance, error) {
	next := b
	next.Carryover += carryoverDelta
	next.CurrentYear += currentDelta
	next = next.Normalize()
	if next.Carryover < 0 || next.CurrentYear < 0 {
		return b, fmt.Errorf("%w: adjustment %+d/%+d on %s", ErrNegativeBalance, carryoverDelta, currentDelta, b)
	}
	return next, nil
}
