package money

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Line is anything that contributes unitPrice x quantity to a subtotal.
type Line interface {
	LineTotal() decimal.Decimal
}

// Totals is the priced summary of a line-item set.
type Totals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountValue  decimal.Decimal `json:"discount_value"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	Total          decimal.Decimal `json:"total"`
}

// Tax is the flat-rate tax configuration of a business.
type Tax struct {
	RatePercent decimal.Decimal
	Enabled     bool
}

// Round2 rounds half away from zero to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Subtotal sums unitPrice x quantity without rounding.
func Subtotal[L Line](lines []L) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.LineTotal())
	}
	return sum
}

// ComputeTotals prices a line-item set.
//
// The discount is a flat amount. A negative discount is ignored and a
// discount above the subtotal is clamped to it, so
// Total == Subtotal - DiscountAmount + TaxAmount always holds and the amount
// before tax never drops below zero. Tax is rounded to two places on its own;
// Total is rounded for persistence.
func ComputeTotals[L Line](lines []L, discountValue decimal.Decimal, tax Tax) Totals {
	subtotal := Subtotal(lines)

	discount := discountValue
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	afterDiscount := subtotal.Sub(discount)
	if afterDiscount.IsNegative() {
		afterDiscount = decimal.Zero
	}

	taxAmount := decimal.Zero
	if tax.Enabled && tax.RatePercent.IsPositive() {
		taxAmount = Round2(afterDiscount.Mul(tax.RatePercent).Div(hundred))
	}

	return Totals{
		Subtotal:       subtotal,
		DiscountValue:  discountValue,
		DiscountAmount: discount,
		TaxAmount:      taxAmount,
		Total:          Round2(afterDiscount.Add(taxAmount)),
	}
}

// Rounded returns a copy with every amount at two decimal places, the form
// stored and displayed.
func (t Totals) Rounded() Totals {
	return Totals{
		Subtotal:       Round2(t.Subtotal),
		DiscountValue:  Round2(t.DiscountValue),
		DiscountAmount: Round2(t.DiscountAmount),
		TaxAmount:      Round2(t.TaxAmount),
		Total:          Round2(t.Total),
	}
}
