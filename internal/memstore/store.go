// Package memstore is an in-process orders.Store. One mutex serializes every
// mutation, which gives the same all-or-nothing behaviour the Postgres repo
// gets from row locks. Used for demo mode and tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/billno"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/payment"
	"github.com/ariefcatur/go-pos-orders/internal/stock"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu         sync.RWMutex
	businesses map[string]orders.Business
	collectors map[string]string
	products   map[string]orders.Product
	orders     map[string]orders.Order
	payments   []orders.PaymentRecord
}

var _ orders.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		businesses: map[string]orders.Business{},
		collectors: map[string]string{},
		products:   map[string]orders.Product{},
		orders:     map[string]orders.Order{},
	}
}

// NewSeeded returns a store with one demo business and a small catalog.
func NewSeeded() *Store {
	s := New()
	s.PutBusiness(orders.Business{
		ID:             "demo",
		Name:           "Toko Demo",
		BillPrefix:     "INV",
		TaxRatePercent: decimal.NewFromInt(11),
		TaxEnabled:     true,
	})
	s.SetCollectorCode("demo", "sales-1", "S1")
	for _, p := range []orders.Product{
		{ID: "p-coffee", Name: "Kopi Sachet", SellingPrice: decimal.RequireFromString("2600"), CostPrice: decimal.RequireFromString("1900"), StockQuantity: 120, LowStockThreshold: 20},
		{ID: "p-sugar", Name: "Gula 1kg", SellingPrice: decimal.RequireFromString("17400"), CostPrice: decimal.RequireFromString("15300"), StockQuantity: 40, LowStockThreshold: 5},
		{ID: "p-eggs", Name: "Telur 10 Butir", SellingPrice: decimal.RequireFromString("26500"), CostPrice: decimal.RequireFromString("23000"), StockQuantity: 10, LowStockThreshold: 3},
		{ID: "p-water", Name: "Air Mineral 600ml", SellingPrice: decimal.RequireFromString("3900"), CostPrice: decimal.RequireFromString("3200"), StockQuantity: 200, LowStockThreshold: 24},
	} {
		p.BusinessID = "demo"
		s.PutProduct(p)
	}
	return s
}

func (s *Store) PutBusiness(b orders.Business) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.businesses[b.ID] = b
}

func (s *Store) SetCollectorCode(businessID, userID, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collectors[businessID+"/"+userID] = code
}

func (s *Store) PutProduct(p orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.products[p.ID] = p
}

// Payments lists recorded payments for orderID, oldest first.
func (s *Store) Payments(orderID string) []orders.PaymentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []orders.PaymentRecord
	for _, p := range s.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out
}

func (s *Store) BusinessSettings(_ context.Context, businessID string) (orders.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.businesses[businessID]
	if !ok {
		return orders.Business{}, orders.NotFound("Business", businessID)
	}
	return b, nil
}

func (s *Store) CollectorCode(_ context.Context, businessID, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectors[businessID+"/"+userID], nil
}

func (s *Store) ListProducts(_ context.Context, businessID string) ([]orders.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []orders.Product
	for _, p := range s.products {
		if p.BusinessID == businessID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetProducts(_ context.Context, businessID string, ids []string) (map[string]orders.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]orders.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.BusinessID == businessID {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) LatestBillNumber(_ context.Context, businessID, stem string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := ""
	for _, o := range s.orders {
		if o.BusinessID != businessID || !strings.HasPrefix(o.BillNumber, stem) {
			continue
		}
		if len(o.BillNumber) > len(latest) || (len(o.BillNumber) == len(latest) && o.BillNumber > latest) {
			latest = o.BillNumber
		}
	}
	return latest, nil
}

func (s *Store) CreateCompletedOrder(_ context.Context, o orders.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(o, func(p *orders.Product, q int) { p.StockQuantity -= q })
}

func (s *Store) CreateDraft(_ context.Context, o orders.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(o, func(p *orders.Product, q int) { p.ReservedQuantity += q })
}

// insert checks everything before applying anything; caller holds mu.
func (s *Store) insert(o orders.Order, apply func(p *orders.Product, q int)) error {
	for _, other := range s.orders {
		if other.BusinessID == o.BusinessID && other.BillNumber == o.BillNumber {
			return fmt.Errorf("%w: %s", billno.ErrDuplicate, o.BillNumber)
		}
	}
	if err := orders.ValidateQuantities(o.Items); err != nil {
		return err
	}
	qty := o.Quantities()
	ids := orders.ProductIDs(o.Items)
	for _, pid := range ids {
		p, ok := s.products[pid]
		if !ok || p.BusinessID != o.BusinessID {
			return orders.NotFound("Product", pid)
		}
		if err := stock.CheckNewLine(pid, p.Name, p.Level(), qty[pid]); err != nil {
			return orders.StockRejected(err)
		}
	}
	s.applyEach(ids, qty, apply)
	s.orders[o.ID] = clone(o)
	return nil
}

func (s *Store) applyEach(ids []string, qty map[string]int, apply func(p *orders.Product, q int)) {
	now := time.Now().UTC()
	for _, pid := range ids {
		p := s.products[pid]
		apply(&p, qty[pid])
		p.UpdatedAt = now
		s.products[pid] = p
	}
}

func (s *Store) lockedOrder(businessID, orderID string) (orders.Order, error) {
	o, ok := s.orders[orderID]
	if !ok || o.BusinessID != businessID {
		return orders.Order{}, orders.NotFound("Bill", orderID)
	}
	return o, nil
}

func (s *Store) UpdateDraft(_ context.Context, u orders.DraftUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.lockedOrder(u.BusinessID, u.OrderID)
	if err != nil {
		return err
	}
	if !orders.CanTransition(o.Status, orders.StatusDraft) {
		return orders.TransitionConflict(o.BillNumber, o.Status, orders.StatusDraft)
	}
	old := o.Quantities()
	if !same(old, u.Previous) {
		return orders.StaleDraft(o.BillNumber)
	}

	if err := orders.ValidateQuantities(u.Items); err != nil {
		return err
	}
	next := orders.ItemQuantities(u.Items)
	delta := map[string]int{}
	var ids []string
	for pid, q := range next {
		if d := q - old[pid]; d != 0 {
			delta[pid] = d
			ids = append(ids, pid)
		}
	}
	for pid, q := range old {
		if _, ok := next[pid]; !ok {
			delta[pid] = -q
			ids = append(ids, pid)
		}
	}
	sort.Strings(ids)
	for _, pid := range ids {
		p, ok := s.products[pid]
		if !ok || p.BusinessID != u.BusinessID {
			return orders.NotFound("Product", pid)
		}
		if d := delta[pid]; d > 0 {
			if err := stock.CheckReserve(pid, p.Name, p.Level(), old[pid], next[pid]); err != nil {
				return orders.StockRejected(err)
			}
		} else if p.ReservedQuantity < -d {
			return orders.Integrity("Product %s holds %d reserved units but bill %s releases %d.", p.Name, p.ReservedQuantity, o.BillNumber, -d)
		}
	}
	s.applyEach(ids, delta, func(p *orders.Product, d int) { p.ReservedQuantity += d })

	o.CustomerID = u.CustomerID
	o.Items = append([]orders.LineItem(nil), u.Items...)
	o.Totals = u.Totals
	o.UpdatedAt = u.UpdatedAt
	s.orders[o.ID] = o
	return nil
}

func (s *Store) FinalizeDraft(_ context.Context, f orders.Finalization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.lockedOrder(f.BusinessID, f.OrderID)
	if err != nil {
		return err
	}
	if !orders.CanTransition(o.Status, orders.StatusCompleted) {
		return orders.TransitionConflict(o.BillNumber, o.Status, orders.StatusCompleted)
	}
	qty := o.Quantities()
	if !same(qty, f.Expected) || !o.Totals.Total.Equal(f.Total) {
		return orders.StaleDraft(o.BillNumber)
	}
	ids := orders.ProductIDs(o.Items)
	for _, pid := range ids {
		p, ok := s.products[pid]
		if !ok {
			return orders.NotFound("Product", pid)
		}
		if err := stock.CheckFinalize(pid, p.Name, p.Level(), qty[pid]); err != nil {
			return orders.StockRejected(err)
		}
	}
	s.applyEach(ids, qty, func(p *orders.Product, q int) {
		p.StockQuantity -= q
		p.ReservedQuantity -= q
	})

	at := f.CompletedAt
	o.Status = orders.StatusCompleted
	o.Payment = f.Payment
	o.DueDate = f.DueDate
	o.CompletedAt = &at
	o.UpdatedAt = at
	s.orders[o.ID] = o
	return nil
}

func (s *Store) CancelDraft(_ context.Context, c orders.Cancellation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.lockedOrder(c.BusinessID, c.OrderID)
	if err != nil {
		return err
	}
	if !orders.CanTransition(o.Status, orders.StatusCancelled) {
		return orders.TransitionConflict(o.BillNumber, o.Status, orders.StatusCancelled)
	}
	qty := o.Quantities()
	ids := orders.ProductIDs(o.Items)
	for _, pid := range ids {
		if p := s.products[pid]; p.ReservedQuantity < qty[pid] {
			return orders.Integrity("Product %s holds %d reserved units but bill %s releases %d.", p.Name, p.ReservedQuantity, o.BillNumber, qty[pid])
		}
	}
	s.applyEach(ids, qty, func(p *orders.Product, q int) { p.ReservedQuantity -= q })

	at := c.CancelledAt
	o.Status = orders.StatusCancelled
	o.CancelledAt = &at
	o.UpdatedAt = at
	s.orders[o.ID] = o
	return nil
}

func (s *Store) RecordPayment(_ context.Context, p orders.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.lockedOrder(p.BusinessID, p.OrderID)
	if err != nil {
		return err
	}
	if _, err := o.AsCompleted(); err != nil {
		return err
	}
	next, err := payment.Settle(o.Payment, o.Totals.Total, p.Amount)
	if err != nil {
		return orders.PaymentRejected(err)
	}
	o.Payment = next
	o.UpdatedAt = p.RecordedAt
	s.orders[o.ID] = o
	s.payments = append(s.payments, p)
	return nil
}

func (s *Store) GetOrder(_ context.Context, businessID, orderID string) (orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, err := s.lockedOrder(businessID, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	return clone(o), nil
}

func (s *Store) ListOrders(_ context.Context, businessID string, f orders.ListFilter) ([]orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []orders.Order
	for _, o := range s.orders {
		if o.BusinessID != businessID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.DueOnly && !o.Payment.DueAmount.IsPositive() {
			continue
		}
		out = append(out, clone(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(o orders.Order) orders.Order {
	o.Items = append([]orders.LineItem(nil), o.Items...)
	return o
}

func same(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

