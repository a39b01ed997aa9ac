package ledger

import (
	"errors"
	"fmt"

	"github.com/apettas/adeies/org"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientBalance is returned when a deduction exceeds the total balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidDays is returned for a deduction of zero or fewer days.
	ErrInvalidDays = errors.New("days must be positive")

	// ErrNegativeBalance is returned when an adjustment would make a component negative.
	ErrNegativeBalance = errors.New("adjustment would make balance negative")

	// ErrDuplicateKey is returned when an entry with the same idempotency key
	// already exists. Expected on retries.
	ErrDuplicateKey = errors.New("duplicate idempotency key")

	// ErrAccountNotFound is returned when the user has no balance record.
	ErrAccountNotFound = errors.New("balance account not found")
)

// InsufficientBalanceError carries the shortfall details.
type InsufficientBalanceError struct {
	UserID    org.UserID
	Available int
	Requested int
}

func (e *InsufficientBalanceError) Error() string {
	if e.UserID == "" {
		return fmt.Sprintf("insufficient balance: available %d, requested %d days", e.Available, e.Requested)
	}
	return fmt.Sprintf("insufficient balance for %s: available %d, requested %d days", e.UserID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Shortfall is the number of days missing.
func (e *InsufficientBalanceError) Shortfall() int { return e.Requested - e.Available }

// IsClientError reports whether err is caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidDays) ||
		errors.Is(err, ErrNegativeBalance)
}
