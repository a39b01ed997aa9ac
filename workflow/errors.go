/*
errors.go - Transition error kinds

PURPOSE:
  Every failure of Apply is a *TransitionError carrying a Kind. Each kind
  unwraps to a sentinel so callers can use errors.Is, and the HTTP layer maps
  kinds to status codes.

ERROR KINDS:
  invalid_transition:   Event not legal from the current status, or lost a race
  unauthorized:         Actor fails the event's guard
  validation_failed:    Missing reason/protocol number, malformed periods, > 365 days
  insufficient_balance: Deductible request larger than the owner's balance
  no_approver:          Owner has nobody to approve their request

  None of these are fatal. Integrity faults from the org package (cycles,
  unknown categories) pass through unchanged and abort the operation.

SEE ALSO:
  - guards.go: Produces most of these
  - api/handlers.go: Maps kinds to HTTP status codes
*/
package workflow

import (
	"errors"
	"fmt"

	"github.com/apettas/adeies/ledger"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrValidationFailed  = errors.New("validation failed")
	ErrNoApprover        = errors.New("no approver")

	// ErrInsufficientBalance aliases the ledger sentinel.
	ErrInsufficientBalance = ledger.ErrInsufficientBalance

	ErrRequestNotFound   = errors.New("leave request not found")
	ErrLeaveTypeNotFound = errors.New("leave type not found")

	// ErrStale is returned by Store.SwapRequest when the stored status or
	// version no longer matches. The engine reports it as invalid_transition.
	ErrStale = errors.New("leave request changed concurrently")
)

type Kind string

const (
	KindInvalidTransition   Kind = "invalid_transition"
	KindUnauthorized        Kind = "unauthorized"
	KindValidationFailed    Kind = "validation_failed"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindNoApprover          Kind = "no_approver"
)

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidTransition:
		return ErrInvalidTransition
	case KindUnauthorized:
		return ErrUnauthorized
	case KindValidationFailed:
		return ErrValidationFailed
	case KindInsufficientBalance:
		return ErrInsufficientBalance
	case KindNoApprover:
		return ErrNoApprover
	}
	return nil
}

// =============================================================================
// STRUCTURED ERROR
// =============================================================================

// TransitionError describes why an event was refused.
type TransitionError struct {
	Kind    Kind
	Event   Event
	From    Status
	Message string
	Err     error // underlying cause, e.g. *ledger.InsufficientBalanceError
}

func (e *TransitionError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s from %s: %s: %s", e.Event, e.From, e.Kind, e.Message)
}

func (e *TransitionError) Unwrap() []error {
	errs := []error{e.Kind.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newError(kind Kind, event Event, from Status, format string, args ...any) *TransitionError {
	return &TransitionError{Kind: kind, Event: event, From: from, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of a workflow error, or "" for anything else.
func KindOf(err error) Kind {
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Kind
	}
	switch {
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrStale):
		return KindInvalidTransition
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrValidationFailed):
		return KindValidationFailed
	case errors.Is(err, ErrInsufficientBalance):
		return KindInsufficientBalance
	case errors.Is(err, ErrNoApprover):
		return KindNoApprover
	}
	return ""
}

func IsInvalidTransition(err error) bool { return errors.Is(err, ErrInvalidTransition) }
func IsUnauthorized(err error) bool      { return errors.Is(err, ErrUnauthorized) }

// IsNotFound reports whether err names a missing request or leave type.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRequestNotFound) || errors.Is(err, ErrLeaveTypeNotFound)
}
