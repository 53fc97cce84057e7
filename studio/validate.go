/*
validate.go - Input validation

PURPOSE:
  Explicit guards for malformed inputs: negative amounts, zero/negative
  durations, unparsable dates/times, cross-midnight windows. Each check
  returns a ValidationError naming the offending field, and runs before
  any write.
*/
package studio

import (
	"fmt"
	"time"
)

// DateLayout is the stored booking date format.
const DateLayout = "2006-01-02"

// ValidateBooking checks a booking's scheduling and financial fields.
// Cross-midnight windows are rejected here: the conflict detector's
// minute arithmetic does not model them.
func ValidateBooking(b Booking) error {
	if b.Resource == "" {
		return &ValidationError{Field: "resource", Reason: "must not be empty"}
	}
	if _, err := time.Parse(DateLayout, b.Date); err != nil {
		return &ValidationError{Field: "date", Reason: "want YYYY-MM-DD"}
	}
	start, err := ParseClock(b.TimeStart)
	if err != nil {
		return &ValidationError{Field: "time_start", Reason: err.Error()}
	}
	if b.DurationHours <= 0 {
		return &ValidationError{Field: "duration_hours", Reason: "must be positive"}
	}
	if start+DurationMinutes(b.DurationHours) > minutesPerDay {
		return &ValidationError{Field: "duration_hours", Reason: "booking must end by midnight"}
	}
	if !b.Status.Valid() {
		return &ValidationError{Field: "status", Reason: "unknown status"}
	}
	if b.PaidAmount < 0 {
		return &ValidationError{Field: "paid_amount", Reason: "must not be negative"}
	}
	if b.PackagePrice < 0 {
		return &ValidationError{Field: "package_price", Reason: "must not be negative"}
	}
	for i, item := range b.Items {
		if item.Quantity < 0 {
			return &ValidationError{Field: "items", Reason: itemField(i, "quantity must not be negative")}
		}
		if item.UnitPrice < 0 || item.Total < 0 {
			return &ValidationError{Field: "items", Reason: itemField(i, "price must not be negative")}
		}
	}
	if b.Discount != nil {
		if b.Discount.Kind != DiscountFixed && b.Discount.Kind != DiscountPercent {
			return &ValidationError{Field: "discount", Reason: "kind must be FIXED or PERCENT"}
		}
		if b.Discount.Value.IsNegative() {
			return &ValidationError{Field: "discount", Reason: "value must not be negative"}
		}
	}
	if b.TaxRateSnapshot != nil && b.TaxRateSnapshot.IsNegative() {
		return &ValidationError{Field: "tax_rate_snapshot", Reason: "must not be negative"}
	}
	return nil
}

func itemField(i int, reason string) string {
	return fmt.Sprintf("item %d: %s", i, reason)
}

// ValidateAmount guards ledger amounts: magnitudes must be strictly positive.
func ValidateAmount(amount Money) error {
	if amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	return nil
}
