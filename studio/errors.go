/*
errors.go - Centralized error taxonomy for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Service packages (ledger, booking) return these; the API layer maps
  them to HTTP status codes without string matching.

ERROR CATEGORIES:
  1. Conflict errors     - A booking would double-use a resource
  2. Funds errors        - A transfer/refund would drive a balance negative
  3. Not-found errors    - Referenced account/booking/transaction missing
  4. Validation errors   - Malformed input, rejected before any write
  5. Cascade errors      - Partial completion of a non-atomic batch delete

USAGE:
  Callers use errors.Is for sentinels and errors.As for the structured
  types that carry context:

    var conflict *studio.ConflictError
    if errors.As(err, &conflict) {
        show(conflict.WithClient, conflict.WithStart)
    }
*/
package studio

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrBookingConflict is returned when a proposed booking overlaps another
	// on the same resource and date. Nothing is persisted.
	ErrBookingConflict = errors.New("booking conflict")

	// ErrInsufficientFunds is returned when a transfer or refund would drive
	// an account balance negative. Checked against the freshly-read balance
	// inside the atomic block, never against a stale caller-side read.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountNotFound is returned when a referenced account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrBookingNotFound is returned when a referenced booking doesn't exist.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrPackageNotFound is returned when a referenced package doesn't exist.
	ErrPackageNotFound = errors.New("package not found")

	// ErrInvalidInput is the base of every ValidationError.
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConflictError reports the booking the candidate collided with, so callers
// can surface the conflicting party's name and time.
type ConflictError struct {
	Resource   string
	Date       string
	WithID     string
	WithClient string
	WithStart  string // "15:04"
	// WithEndMinute is the conflicting window's end in minutes from midnight,
	// buffer included.
	WithEndMinute int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("booking conflict on %s %s: overlaps booking %s (%s, starts %s)",
		e.Resource, e.Date, e.WithID, e.WithClient, e.WithStart)
}

func (e *ConflictError) Unwrap() error { return ErrBookingConflict }

// InsufficientFundsError reports the shortfall of a rejected transfer/refund.
type InsufficientFundsError struct {
	AccountID string
	Available Money
	Requested Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on account %s: available %d, requested %d",
		e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// ValidationError reports a malformed input field. Returned before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// CascadeError reports partial completion of a booking cascade delete.
// The delete is a batch, not an atomic transaction: some documents may be
// gone while others remain. Callers must treat this as a recoverable
// inconsistency (re-run the delete), never ignore it.
type CascadeError struct {
	BookingID    string
	DeletedTxIDs []string
	RemainingIDs []string
	Err          error
}

func (e *CascadeError) Error() string {
	return fmt.Sprintf("cascade delete of booking %s incomplete: %d transaction(s) remain: %v",
		e.BookingID, len(e.RemainingIDs), e.Err)
}

func (e *CascadeError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrBookingNotFound) ||
		errors.Is(err, ErrPackageNotFound)
}

// IsClientError returns true if the error is due to invalid client input
// rather than an engine/store failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrBookingConflict) ||
		errors.Is(err, ErrInsufficientFunds)
}
