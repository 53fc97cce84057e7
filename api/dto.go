/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response wrappers returned to clients

VALIDATION:
  Structural validation (required fields, parseability) happens in the
  handlers; business validation lives in the core packages and surfaces as
  studio.ValidationError.
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/studio-engine/booking"
	"github.com/warp/studio-engine/studio"
)

// =============================================================================
// BOOKINGS
// =============================================================================

// CreateBookingRequest wraps a booking with an optional initial deposit.
type CreateBookingRequest struct {
	Booking studio.Booking  `json:"booking"`
	Payment *PaymentRequest `json:"payment,omitempty"`
}

type PaymentRequest struct {
	AccountID   string       `json:"account_id"`
	Amount      studio.Money `json:"amount"`
	Description string       `json:"description,omitempty"`
}

// BookingResponse returns a booking together with its derived totals, so
// every client renders money from the same calculation.
type BookingResponse struct {
	Booking studio.Booking `json:"booking"`
	Totals  studio.Totals  `json:"totals"`
	Settled bool           `json:"settled"`
}

// ConflictCheckResponse reports the conflicting booking, if any.
type ConflictCheckResponse struct {
	Conflict bool            `json:"conflict"`
	With     *studio.Booking `json:"with,omitempty"`
}

// EventDTO mirrors booking.Event for update responses.
type EventDTO struct {
	Kind       booking.EventKind    `json:"kind"`
	BookingID  string               `json:"booking_id"`
	PaidAmount studio.Money         `json:"paid_amount,omitempty"`
	Tasks      []studio.BookingTask `json:"tasks,omitempty"`
}

// UpdateBookingResponse returns the saved booking plus emitted events the
// client may act on (e.g. a refund prompt after cancellation).
type UpdateBookingResponse struct {
	Booking studio.Booking `json:"booking"`
	Events  []EventDTO     `json:"events,omitempty"`
}

// =============================================================================
// LEDGER
// =============================================================================

type CreateAccountRequest struct {
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
}

type SettleRequest struct {
	// Amount is signed: positive = payment, negative = refund.
	Amount    studio.Money `json:"amount"`
	AccountID string       `json:"account_id"`
}

type TransferRequest struct {
	FromAccountID string       `json:"from_account_id"`
	ToAccountID   string       `json:"to_account_id"`
	Amount        studio.Money `json:"amount"`
}

type ExpenseRequest struct {
	AccountID   string       `json:"account_id"`
	Amount      studio.Money `json:"amount"`
	Description string       `json:"description,omitempty"`
	Category    string       `json:"category,omitempty"`
	OwnerID     string       `json:"owner_id,omitempty"`
}

// =============================================================================
// INVOICE
// =============================================================================

// InvoiceResponse is the shared money view of a booking.
type InvoiceResponse struct {
	BookingID  string          `json:"booking_id"`
	Totals     studio.Totals   `json:"totals"`
	TaxRate    decimal.Decimal `json:"tax_rate_percent"`
	PaidAmount studio.Money    `json:"paid_amount"`
	Settled    bool            `json:"settled"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
