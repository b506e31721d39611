package orders

import (
	"errors"
	"fmt"

	"github.com/ariefcatur/go-pos-orders/internal/billno"
	"github.com/ariefcatur/go-pos-orders/internal/payment"
	"github.com/ariefcatur/go-pos-orders/internal/stock"
)

// Error kinds. Every *Error matches exactly one of these with errors.Is.
var (
	// ErrValidation: refused before anything was written; local state stands.
	ErrValidation = errors.New("validation failed")
	// ErrConflict: the authoritative check at the store failed; refetch.
	ErrConflict = errors.New("conflict")
	// ErrIntegrity: stored counters disagree with the bill; nothing applied.
	ErrIntegrity = errors.New("integrity violation")
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)

// Error carries a kind, a message fit for display and the underlying cause.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

func validationf(cause error, format string, args ...any) *Error {
	return newError(ErrValidation, cause, format, args...)
}

func conflictf(cause error, format string, args ...any) *Error {
	return newError(ErrConflict, cause, format, args...)
}

func integrityf(format string, args ...any) *Error {
	return newError(ErrIntegrity, nil, format, args...)
}

func notFoundf(format string, args ...any) *Error {
	return newError(ErrNotFound, nil, format, args...)
}

func forbiddenf(format string, args ...any) *Error {
	return newError(ErrForbidden, nil, format, args...)
}

// Exported constructors for Store implementations outside this package.

func NotFound(what, id string) error { return notFoundf("%s %s not found.", what, id) }

func StockConflict(le *stock.LimitError) error { return conflictf(le, "%s", le.Error()) }

// StockRejected maps an oracle error raised at the store: a limit is a
// conflict, a bad quantity is validation.
func StockRejected(err error) error {
	var le *stock.LimitError
	if errors.As(err, &le) {
		return StockConflict(le)
	}
	return validationf(err, "%s", err.Error())
}

func StaleDraft(billNo string) error {
	return conflictf(nil, "Bill %s was changed by someone else. Reload it and try again.", billNo)
}

func TransitionConflict(billNo string, from, to Status) error {
	return conflictf(nil, "Bill %s is %s and cannot become %s.", billNo, from, to)
}

func Integrity(format string, args ...any) error { return integrityf(format, args...) }

func PaymentRejected(err error) error { return validationf(err, "%s", err.Error()) }

// Kind returns the kind sentinel err matches, or nil.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrConflict, ErrIntegrity, ErrNotFound, ErrForbidden} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// KindName is a short label for logs and metrics.
func KindName(err error) string {
	switch Kind(err) {
	case nil:
		if err == nil {
			return "ok"
		}
		return "error"
	case ErrValidation:
		return "validation"
	case ErrConflict:
		return "conflict"
	case ErrIntegrity:
		return "integrity"
	case ErrNotFound:
		return "not_found"
	default:
		return "forbidden"
	}
}

// classify turns store and helper errors into the taxonomy at the
// controller boundary. Unknown errors pass through wrapped.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	var le *stock.LimitError
	switch {
	case errors.As(err, &le):
		return StockConflict(le)
	case errors.Is(err, billno.ErrExhausted):
		return conflictf(err, "Could not allocate a bill number. Please try again.")
	case errors.Is(err, payment.ErrNegativeAmount),
		errors.Is(err, payment.ErrNonPositive),
		errors.Is(err, payment.ErrExceedsDue),
		errors.Is(err, payment.ErrNothingOutstanding),
		errors.Is(err, payment.ErrUnknownType):
		return PaymentRejected(err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
