/*
Package studio provides the core scheduling and financial ledger engine.

PURPOSE:
  This package contains the domain types and pure algorithms for running a
  studio operation: bookings that reserve a physical resource for a time
  window, accounts holding money, the immutable transaction history behind
  every balance, and the automation rules that inject tasks on status change.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: integer minor currency units (no floats in stored amounts)
  - Booking: a reservation of a resource for a dated time window
  - Account/Transaction: balance plus the signed history that explains it
  - Package: a product template that seeds a booking's items and tasks
  - AutomationRule: status -> task titles mapping

DESIGN PRINCIPLES:
  1. Stored amounts are integers; fractional math (discounts, tax) happens
     in decimal.Decimal and is rounded back to a whole minor unit.
  2. Transactions are immutable once written; the only mutation is deletion
     when their booking is deleted (cascade).
  3. An account balance always equals the signed sum of its transactions,
     maintained by construction in the ledger package.

SEE ALSO:
  - invoice.go:  subtotal/discount/tax/total derivation
  - conflict.go: time-window overlap detection
  - workflow.go: status-triggered task generation
  - errors.go:   error taxonomy
*/
package studio

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Integer minor currency units
// =============================================================================

// Money is an amount in minor currency units (cents, tiyn, ...).
// The engine never stores fractional money; percentage math rounds
// half-away-from-zero back to a whole minor unit.
type Money int64

// Decimal converts to decimal.Decimal for rate arithmetic.
func (m Money) Decimal() decimal.Decimal { return decimal.NewFromInt(int64(m)) }

// MoneyFromDecimal rounds a decimal amount to a whole minor unit.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money(d.Round(0).IntPart())
}

// =============================================================================
// COLLECTIONS - Document store collection names
// =============================================================================

const (
	CollectionBookings     = "bookings"
	CollectionAccounts     = "accounts"
	CollectionTransactions = "transactions"
	CollectionPackages     = "packages"
	CollectionRules        = "automation_rules"
)

// =============================================================================
// BOOKING STATUS - Linear pipeline, unrestricted transitions
// =============================================================================

type Status string

const (
	StatusInquiry   Status = "INQUIRY"
	StatusBooked    Status = "BOOKED"
	StatusShooting  Status = "SHOOTING"
	StatusCulling   Status = "CULLING"
	StatusEditing   Status = "EDITING"
	StatusReview    Status = "REVIEW"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// AllStatuses lists every valid status in pipeline order.
var AllStatuses = []Status{
	StatusInquiry, StatusBooked, StatusShooting, StatusCulling,
	StatusEditing, StatusReview, StatusCompleted, StatusCancelled,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether automation stops firing once s is reached.
// Terminal bookings stay editable; only status-triggered automation stops.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// =============================================================================
// BOOKING - A reservation of a resource for a time window
// =============================================================================

type DiscountKind string

const (
	DiscountFixed   DiscountKind = "FIXED"
	DiscountPercent DiscountKind = "PERCENT"
)

// Discount is either a fixed amount in minor units or a percentage of the
// subtotal. Value carries both (minor units for FIXED, percent for PERCENT).
type Discount struct {
	Kind  DiscountKind    `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

// LineItem is one row of a booking's invoice.
type LineItem struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   Money  `json:"unit_price"`
	Total       Money  `json:"total"`
}

// BookingTask is a checklist item owned by exactly one booking.
// Tasks are append-only: automation adds, nothing removes.
type BookingTask struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// ActivityEntry records a human-readable event on a booking's timeline.
type ActivityEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// Booking reserves a resource (a studio room) for a dated time window.
//
// INVARIANTS:
//   - PaidAmount >= 0, adjusted only via ledger settlements
//   - Date is "2006-01-02", TimeStart is "15:04" (24h clock)
//   - The window must not cross midnight (rejected at validation)
type Booking struct {
	ID            string `json:"id"`
	OwnerID       string `json:"owner_id"`
	Resource      string `json:"resource"`
	Date          string `json:"date"`
	TimeStart     string `json:"time_start"`
	DurationHours float64 `json:"duration_hours"`
	Status        Status  `json:"status"`

	ClientID   string `json:"client_id,omitempty"`
	ClientName string `json:"client_name,omitempty"`
	PackageID  string `json:"package_id,omitempty"`

	Items    []LineItem `json:"items,omitempty"`
	Discount *Discount  `json:"discount,omitempty"`

	// TaxRateSnapshot is the percent rate captured at creation, so historical
	// invoices do not change when the studio-wide rate changes. Nil means
	// "use the current configured rate".
	TaxRateSnapshot *decimal.Decimal `json:"tax_rate_snapshot,omitempty"`

	// PackagePrice is the legacy flat price fallback used as the subtotal
	// when a booking carries no line items.
	PackagePrice Money `json:"package_price,omitempty"`

	PaidAmount Money `json:"paid_amount"`

	Tasks    []BookingTask   `json:"tasks,omitempty"`
	Activity []ActivityEntry `json:"activity,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// =============================================================================
// ACCOUNT & TRANSACTION - Balance and the history that explains it
// =============================================================================

// Account holds money in minor units.
//
// INVARIANT: Balance equals the signed sum of all transactions referencing
// this account. Every mutation writes the balance and the transaction record
// in the same atomic unit - never one without the other.
type Account struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Name    string `json:"name"`
	Balance Money  `json:"balance"`
}

type TxKind string

const (
	TxIncome   TxKind = "INCOME"
	TxExpense  TxKind = "EXPENSE"
	TxTransfer TxKind = "TRANSFER"
)

// Transaction is an immutable record of a balance change. Amount is always a
// positive magnitude; Kind carries the direction. The only mutation ever
// applied to a transaction is deletion when its booking is deleted.
type Transaction struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	At          time.Time `json:"at"`
	Description string    `json:"description"`
	Amount      Money     `json:"amount"`
	Kind        TxKind    `json:"kind"`
	AccountID   string    `json:"account_id"`
	Category    string    `json:"category,omitempty"`

	// CounterAccountID is the receiving account of a TRANSFER.
	CounterAccountID string `json:"counter_account_id,omitempty"`

	// BookingID ties deposits/settlements/refunds to a booking. Transactions
	// carrying a booking id are cascade-deleted with the booking.
	BookingID string `json:"booking_id,omitempty"`
}

// SignedFor returns the balance delta this transaction applied to the given
// account. A TRANSFER is negative for the sending account and positive for
// the receiving one; every other kind references a single account.
func (t Transaction) SignedFor(accountID string) Money {
	switch t.Kind {
	case TxIncome:
		return t.Amount
	case TxExpense:
		return -t.Amount
	case TxTransfer:
		if accountID == t.CounterAccountID {
			return t.Amount
		}
		return -t.Amount
	}
	return 0
}

// =============================================================================
// PACKAGE - Product template seeding bookings
// =============================================================================

type Package struct {
	ID                string   `json:"id"`
	OwnerID           string   `json:"owner_id"`
	Name              string   `json:"name"`
	Price             Money    `json:"price"`
	DurationHours     float64  `json:"duration_hours"`
	DefaultTaskTitles []string `json:"default_task_titles,omitempty"`
}

// =============================================================================
// AUTOMATION RULE - Status -> task titles
// =============================================================================

// AutomationRule maps a booking status to the task titles generated when a
// booking enters that status. Owner-configurable.
type AutomationRule struct {
	ID         string   `json:"id"`
	OwnerID    string   `json:"owner_id"`
	Trigger    Status   `json:"trigger"`
	TaskTitles []string `json:"task_titles"`
}
