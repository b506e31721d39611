// Package stock decides how many units of a product a cart line may hold.
package stock

import (
	"errors"
	"fmt"
)

// ErrLimit is matched by every *LimitError.
var ErrLimit = errors.New("stock limit reached")

// ErrQuantity is returned for a wanted quantity below 1.
var ErrQuantity = errors.New("quantity must be at least 1")

// Level is a product's on-hand and reserved counters as last read.
type Level struct {
	OnHand   int
	Reserved int
}

// AvailableToSell is on-hand minus what open drafts hold.
func (l Level) AvailableToSell() int {
	if n := l.OnHand - l.Reserved; n > 0 {
		return n
	}
	return 0
}

// AvailableToReserve is the ceiling for a line that already holds `held`
// reserved units of the product; those units go back into the pool first.
func AvailableToReserve(l Level, held int) int {
	if held < 0 {
		held = 0
	}
	return l.AvailableToSell() + held
}

// LimitError reports a quantity the product cannot cover.
type LimitError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *LimitError) Error() string {
	if e.Available <= 0 {
		return fmt.Sprintf("%s is out of stock.", e.ProductName)
	}
	return fmt.Sprintf("Stock limit reached for %s. Only %d units available.", e.ProductName, e.Available)
}

func (e *LimitError) Is(target error) bool { return target == ErrLimit }

// CheckReserve rejects want when it exceeds AvailableToReserve. No partial
// quantity is ever suggested; the caller keeps its previous value.
func CheckReserve(productID, name string, l Level, held, want int) error {
	if want < 1 {
		return fmt.Errorf("%s: %w", name, ErrQuantity)
	}
	avail := AvailableToReserve(l, held)
	if want > avail {
		return &LimitError{ProductID: productID, ProductName: name, Requested: want, Available: avail}
	}
	return nil
}

// CheckNewLine gates a brand-new line (nothing held yet).
func CheckNewLine(productID, name string, l Level, want int) error {
	return CheckReserve(productID, name, l, 0, want)
}

// CheckFinalize verifies a draft line holding qty reserved units can still
// be sold: the reservation must still be there and on-hand must cover it.
func CheckFinalize(productID, name string, l Level, qty int) error {
	if l.OnHand < qty || l.Reserved < qty {
		avail := l.OnHand
		if l.Reserved < avail {
			avail = l.Reserved
		}
		return &LimitError{ProductID: productID, ProductName: name, Requested: qty, Available: avail}
	}
	return nil
}

// Valid reports whether the counters satisfy 0 <= reserved <= onHand.
func (l Level) Valid() bool {
	return l.Reserved >= 0 && l.Reserved <= l.OnHand
}
