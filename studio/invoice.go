/*
invoice.go - Deterministic invoice math

PURPOSE:
  Derives subtotal, discount, tax, total and balance due from a booking's
  line items and a tax rate. Pure functions: no I/O, no clock, no state.

WHY ONE FUNCTION:
  Every surface that displays or acts on money (booking drawer, invoice
  document, client statement, settle/refund buttons) must call ComputeTotals.
  Divergent reimplementations of this math are a correctness risk: two
  screens disagreeing on whether a booking is paid is a support ticket.

ROUNDING:
  Percentage math runs in decimal.Decimal and rounds half-away-from-zero
  back to a whole minor unit at each derived amount (discount, tax). Stored
  money is always integral.

TOLERANCE:
  A booking is "fully paid" when balanceDue <= tolerance. The tolerance
  (default 100 minor units) absorbs historical rounding noise and must be
  applied everywhere balance due gates a decision.
*/
package studio

import "github.com/shopspring/decimal"

// DefaultSettledTolerance is the balance-due slack, in minor units, under
// which a booking counts as fully paid.
const DefaultSettledTolerance Money = 100

var hundred = decimal.NewFromInt(100)

// Totals is the derived financial state of a booking.
type Totals struct {
	Subtotal       Money `json:"subtotal"`
	DiscountAmount Money `json:"discount_amount"`
	TaxAmount      Money `json:"tax_amount"`
	Total          Money `json:"total"`
	BalanceDue     Money `json:"balance_due"`
}

// SettledWithin reports whether the booking is fully paid under the given
// tolerance. BalanceDue may be slightly negative (overpayment within noise);
// that still counts as settled.
func (t Totals) SettledWithin(tolerance Money) bool {
	return t.BalanceDue <= tolerance
}

// Settled applies the default tolerance.
func (t Totals) Settled() bool { return t.SettledWithin(DefaultSettledTolerance) }

// ComputeTotals derives the invoice amounts for a booking.
//
//   - subtotal: sum of line-item totals, or the flat package price when the
//     booking has no items (legacy single-line fallback)
//   - discount: FIXED value, or PERCENT of the subtotal; the post-discount
//     subtotal is clamped to >= 0
//   - tax: (subtotal - discount) * rate/100, rate taken from the booking's
//     snapshot when present, else fallbackTaxRate (the studio-wide rate)
//   - balanceDue: total - paidAmount (may be negative on overpayment)
//
// Calling it twice with identical input yields identical output.
func ComputeTotals(b Booking, fallbackTaxRate decimal.Decimal) Totals {
	subtotal := b.PackagePrice
	if len(b.Items) > 0 {
		subtotal = 0
		for _, item := range b.Items {
			subtotal += item.Total
		}
	}

	var discount Money
	if b.Discount != nil {
		switch b.Discount.Kind {
		case DiscountFixed:
			discount = MoneyFromDecimal(b.Discount.Value)
		case DiscountPercent:
			discount = MoneyFromDecimal(subtotal.Decimal().Mul(b.Discount.Value).Div(hundred))
		}
		// Clamp: a discount never drives the taxable base below zero.
		if discount > subtotal {
			discount = subtotal
		}
	}

	rate := fallbackTaxRate
	if b.TaxRateSnapshot != nil {
		rate = *b.TaxRateSnapshot
	}

	taxable := subtotal - discount
	tax := MoneyFromDecimal(taxable.Decimal().Mul(rate).Div(hundred))

	total := taxable + tax
	return Totals{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TaxAmount:      tax,
		Total:          total,
		BalanceDue:     total - b.PaidAmount,
	}
}
