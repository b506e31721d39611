package payment

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type Type string

const (
	TypeCash Type = "cash"
	TypeDue  Type = "due"
)

type Status string

const (
	StatusPaid    Status = "paid"
	StatusPartial Status = "partial"
	StatusUnpaid  Status = "unpaid"
)

var (
	ErrUnknownType        = errors.New("unknown payment type")
	ErrNegativeAmount     = errors.New("payment amount cannot be negative")
	ErrNonPositive        = errors.New("payment amount must be greater than zero")
	ErrExceedsDue         = errors.New("payment exceeds due amount")
	ErrNothingOutstanding = errors.New("bill has no outstanding due")
)

func (t Type) Valid() bool { return t == TypeCash || t == TypeDue }

// Settlement is the payment state of a completed bill.
// PaidAmount + DueAmount == total always.
type Settlement struct {
	Type       Type            `json:"payment_type"`
	Status     Status          `json:"payment_status"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	DueAmount  decimal.Decimal `json:"due_amount"`
}

// Resolve derives the settlement for a bill of the given total.
// Cash is always fully paid. For due, paid defaults to zero and is capped at
// total, so an overpayment resolves to paid with nothing due.
func Resolve(t Type, total, paid decimal.Decimal) (Settlement, error) {
	total = total.Round(2)
	switch t {
	case TypeCash:
		return Settlement{Type: TypeCash, Status: StatusPaid, PaidAmount: total, DueAmount: decimal.Zero}, nil
	case TypeDue:
		if paid.IsNegative() {
			return Settlement{}, ErrNegativeAmount
		}
		paid = paid.Round(2)
		if paid.GreaterThan(total) {
			paid = total
		}
		due := total.Sub(paid)
		if due.IsNegative() {
			due = decimal.Zero
		}
		return Settlement{Type: TypeDue, Status: statusFor(paid, due), PaidAmount: paid, DueAmount: due}, nil
	default:
		return Settlement{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

func statusFor(paid, due decimal.Decimal) Status {
	switch {
	case !due.IsPositive():
		return StatusPaid
	case paid.IsPositive():
		return StatusPartial
	default:
		return StatusUnpaid
	}
}

// Settle records a later payment against an already completed bill and
// re-derives due and status the same way Resolve does.
func Settle(current Settlement, total, amount decimal.Decimal) (Settlement, error) {
	if !amount.IsPositive() {
		return Settlement{}, ErrNonPositive
	}
	if !current.DueAmount.IsPositive() {
		return Settlement{}, ErrNothingOutstanding
	}
	amount = amount.Round(2)
	if amount.GreaterThan(current.DueAmount) {
		return Settlement{}, fmt.Errorf("%w: due is %s", ErrExceedsDue, current.DueAmount.StringFixed(2))
	}
	next, err := Resolve(TypeDue, total, current.PaidAmount.Add(amount))
	if err != nil {
		return Settlement{}, err
	}
	// the bill keeps the type it was sold under
	next.Type = current.Type
	return next, nil
}
