// Package cart holds an order in progress before it is persisted. Every
// quantity change goes through the stock oracle and every mutation
// recomputes totals. Nothing here touches storage: dropping a Builder has
// no reservation side effect.
package cart

import (
	"errors"
	"math"

	"github.com/ariefcatur/go-pos-orders/internal/money"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/stock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownLine     = errors.New("cart line not found")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

type line struct {
	item orders.LineItem
	// held is what the persisted draft already reserves for this product.
	held int
}

type Builder struct {
	tax      money.Tax
	discount decimal.Decimal
	lines    []*line
	products map[string]orders.Product
	totals   money.Totals
}

func New(tax money.Tax) *Builder {
	return &Builder{tax: tax, products: map[string]orders.Product{}}
}

// FromDraft loads a persisted draft; its lines keep their price snapshots
// and count their reserved units as held.
func FromDraft(d orders.Draft, products map[string]orders.Product, tax money.Tax) *Builder {
	o := d.Order()
	b := New(tax)
	b.discount = o.Totals.DiscountValue
	b.Refresh(products)
	reserved := d.Reserved()
	for _, it := range o.Items {
		if l := b.find(it.ProductID); l != nil {
			l.item.Quantity += it.Quantity
			continue
		}
		b.lines = append(b.lines, &line{item: it, held: reserved[it.ProductID]})
	}
	b.recompute()
	return b
}

// Add puts qty units of p in the cart. An existing line for p grows through
// SetQuantity; a new line is gated as a fresh reservation.
func (b *Builder) Add(p orders.Product, qty int) (orders.LineItem, error) {
	if qty < 1 {
		return orders.LineItem{}, ErrInvalidQuantity
	}
	b.products[p.ID] = p
	if l := b.find(p.ID); l != nil {
		if qty > math.MaxInt-l.item.Quantity {
			return orders.LineItem{}, &stock.LimitError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Requested:   math.MaxInt,
				Available:   stock.AvailableToReserve(p.Level(), l.held),
			}
		}
		if err := b.SetQuantity(l.item.ID, l.item.Quantity+qty); err != nil {
			return orders.LineItem{}, err
		}
		return l.item, nil
	}
	if err := stock.CheckNewLine(p.ID, p.Name, p.Level(), qty); err != nil {
		return orders.LineItem{}, err
	}
	it := orders.NewLineItem(p, qty)
	it.ID = uuid.NewString()
	b.lines = append(b.lines, &line{item: it})
	b.recompute()
	return it, nil
}

// SetQuantity replaces a line's quantity. qty < 1 removes the line. On a
// stock limit the line is left as it was.
func (b *Builder) SetQuantity(lineID string, qty int) error {
	i := b.index(lineID)
	if i < 0 {
		return ErrUnknownLine
	}
	if qty < 1 {
		b.Remove(lineID)
		return nil
	}
	l := b.lines[i]
	if qty > l.item.Quantity {
		p, ok := b.products[l.item.ProductID]
		if !ok {
			return &stock.LimitError{ProductID: l.item.ProductID, ProductName: l.item.ProductName, Requested: qty}
		}
		if err := stock.CheckReserve(p.ID, l.item.ProductName, p.Level(), l.held, qty); err != nil {
			return err
		}
	}
	l.item.Quantity = qty
	b.recompute()
	return nil
}

func (b *Builder) Remove(lineID string) {
	if i := b.index(lineID); i >= 0 {
		b.lines = append(b.lines[:i], b.lines[i+1:]...)
		b.recompute()
	}
}

func (b *Builder) SetDiscount(d decimal.Decimal) {
	b.discount = d
	b.recompute()
}

// Refresh swaps in freshly read product rows for later gates.
func (b *Builder) Refresh(products map[string]orders.Product) {
	for id, p := range products {
		b.products[id] = p
	}
}

// Reset discards every line and the discount.
func (b *Builder) Reset() {
	b.lines = nil
	b.discount = decimal.Zero
	b.recompute()
}

// Line returns the line for productID.
func (b *Builder) Line(productID string) (orders.LineItem, bool) {
	if l := b.find(productID); l != nil {
		return l.item, true
	}
	return orders.LineItem{}, false
}

func (b *Builder) Items() []orders.LineItem {
	out := make([]orders.LineItem, len(b.lines))
	for i, l := range b.lines {
		out[i] = l.item
	}
	return out
}

func (b *Builder) Totals() money.Totals { return b.totals }

func (b *Builder) Discount() decimal.Decimal { return b.discount }

func (b *Builder) Len() int { return len(b.lines) }

func (b *Builder) recompute() {
	b.totals = money.ComputeTotals(b.Items(), b.discount, b.tax)
}

func (b *Builder) find(productID string) *line {
	for _, l := range b.lines {
		if l.item.ProductID == productID {
			return l
		}
	}
	return nil
}

func (b *Builder) index(lineID string) int {
	for i, l := range b.lines {
		if l.item.ID == lineID {
			return i
		}
	}
	return -1
}
