package orders

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/billno"
	"github.com/ariefcatur/go-pos-orders/internal/money"
	"github.com/ariefcatur/go-pos-orders/internal/payment"
	"github.com/ariefcatur/go-pos-orders/internal/stock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventPublisher ships an already marshalled event; kafka.Producer
// implements it.
type EventPublisher interface {
	PublishEvent(key []byte, eventType string, value []byte)
}

// Observer receives one call per lifecycle operation.
type Observer interface {
	ObserveOperation(op string, d time.Duration, err error)
}

// Controller drives bills through draft -> completed | cancelled. It validates
// against freshly read product rows, then hands each transition to the Store
// as a single atomic step and reports success only once the Store has
// acknowledged it.
type Controller struct {
	Store   Store
	Bills   *billno.Generator
	Events  EventPublisher
	Metrics Observer
	Service string
	Now     func() time.Time
}

func NewController(store Store) *Controller {
	return &Controller{
		Store:   store,
		Bills:   &billno.Generator{Source: store},
		Service: "pos-api",
	}
}

type CheckoutInput struct {
	CustomerID  *string
	Items       []LineItem
	Discount    decimal.Decimal
	PaymentType payment.Type
	PaidAmount  decimal.Decimal
	DueDate     *time.Time
}

type DraftInput struct {
	CustomerID *string
	Items      []LineItem
	Discount   decimal.Decimal
}

type FinalizeInput struct {
	PaymentType payment.Type
	PaidAmount  decimal.Decimal
	DueDate     *time.Time
}

type traceKey struct{}

// WithTraceID tags ctx so emitted events carry the request id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	s, _ := ctx.Value(traceKey{}).(string)
	return s
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func (c *Controller) observe(op string, start time.Time, err error) {
	if c.Metrics != nil {
		c.Metrics.ObserveOperation(op, time.Since(start), err)
	}
	if err != nil && Kind(err) == nil {
		log.Printf("[orders] %s failed: %v", op, err)
	}
}

// Checkout sells a cart immediately: the bill is stored completed and
// on-hand stock is decremented, with no reservation step.
func (c *Controller) Checkout(ctx context.Context, a Actor, in CheckoutInput) (_ Completed, err error) {
	defer func(start time.Time) { c.observe("checkout", start, err) }(time.Now())

	if err = requireActor(a); err != nil {
		return Completed{}, err
	}
	if a.Role == RoleSalesman {
		return Completed{}, forbiddenf("Salesmen submit sales as drafts for approval.")
	}
	items, err := normalize(in.Items)
	if err != nil {
		return Completed{}, err
	}
	if err = checkDiscount(a, in.Discount, decimal.Zero); err != nil {
		return Completed{}, err
	}
	biz, err := c.Store.BusinessSettings(ctx, a.BusinessID)
	if err != nil {
		return Completed{}, classify("checkout", err)
	}
	products, err := c.loadProducts(ctx, a.BusinessID, ProductIDs(items))
	if err != nil {
		return Completed{}, err
	}
	if err = checkAvailability(items, products, nil); err != nil {
		return Completed{}, err
	}

	lines := price(items, products, nil)
	totals := money.ComputeTotals(lines, in.Discount, biz.Tax()).Rounded()
	settle, dueDate, err := resolvePayment(in.PaymentType, in.PaidAmount, in.DueDate, totals.Total, in.CustomerID)
	if err != nil {
		return Completed{}, err
	}

	now := c.now()
	o := Order{
		ID:          uuid.NewString(),
		BusinessID:  a.BusinessID,
		Status:      StatusCompleted,
		CustomerID:  in.CustomerID,
		CreatedBy:   a.UserID,
		Totals:      totals,
		Payment:     settle,
		DueDate:     dueDate,
		Items:       lines,
		CreatedAt:   now,
		UpdatedAt:   now,
		CompletedAt: &now,
	}
	if err = c.allocate(ctx, a, biz, &o, c.Store.CreateCompletedOrder); err != nil {
		return Completed{}, classify("checkout", err)
	}

	log.Printf("[orders] bill %s completed total=%s payment=%s", o.BillNumber, o.Totals.Total.StringFixed(2), o.Payment.Status)
	c.publish(ctx, EventBillCompleted, o, a)
	return Completed{o}, nil
}

// CreateDraft stores a draft and reserves its quantities.
func (c *Controller) CreateDraft(ctx context.Context, a Actor, in DraftInput) (_ Draft, err error) {
	defer func(start time.Time) { c.observe("create_draft", start, err) }(time.Now())

	if err = requireActor(a); err != nil {
		return Draft{}, err
	}
	items, err := normalize(in.Items)
	if err != nil {
		return Draft{}, err
	}
	if err = checkDiscount(a, in.Discount, decimal.Zero); err != nil {
		return Draft{}, err
	}
	biz, err := c.Store.BusinessSettings(ctx, a.BusinessID)
	if err != nil {
		return Draft{}, classify("create draft", err)
	}
	products, err := c.loadProducts(ctx, a.BusinessID, ProductIDs(items))
	if err != nil {
		return Draft{}, err
	}
	if err = checkAvailability(items, products, nil); err != nil {
		return Draft{}, err
	}

	lines := price(items, products, nil)
	now := c.now()
	o := Order{
		ID:         uuid.NewString(),
		BusinessID: a.BusinessID,
		Status:     StatusDraft,
		CustomerID: in.CustomerID,
		CreatedBy:  a.UserID,
		Totals:     money.ComputeTotals(lines, in.Discount, biz.Tax()).Rounded(),
		Items:      lines,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err = c.allocate(ctx, a, biz, &o, c.Store.CreateDraft); err != nil {
		return Draft{}, classify("create draft", err)
	}

	log.Printf("[orders] draft %s opened by %s items=%d", o.BillNumber, a.UserID, len(o.Items))
	c.publish(ctx, EventDraftCreated, o, a)
	return Draft{o}, nil
}

// UpdateDraft replaces the draft's items. Lines already on the draft keep
// their price snapshot; new lines take the current selling price. The store
// moves each reservation by the difference only.
func (c *Controller) UpdateDraft(ctx context.Context, a Actor, d Draft, in DraftInput) (_ Draft, err error) {
	defer func(start time.Time) { c.observe("update_draft", start, err) }(time.Now())

	cur := d.o
	if err = c.authorizeDraft(a, cur); err != nil {
		return Draft{}, err
	}
	items, err := normalize(in.Items)
	if err != nil {
		return Draft{}, err
	}
	if err = checkDiscount(a, in.Discount, cur.Totals.DiscountValue); err != nil {
		return Draft{}, err
	}
	biz, err := c.Store.BusinessSettings(ctx, a.BusinessID)
	if err != nil {
		return Draft{}, classify("update draft", err)
	}
	products, err := c.loadProducts(ctx, a.BusinessID, ProductIDs(items))
	if err != nil {
		return Draft{}, err
	}
	held := d.Reserved()
	if err = checkAvailability(items, products, held); err != nil {
		return Draft{}, err
	}

	previous := make(map[string]LineItem, len(cur.Items))
	for _, it := range cur.Items {
		if _, ok := previous[it.ProductID]; !ok {
			previous[it.ProductID] = it
		}
	}
	lines := price(items, products, previous)

	err = c.Store.UpdateDraft(ctx, DraftUpdate{
		BusinessID: cur.BusinessID,
		OrderID:    cur.ID,
		BillNumber: cur.BillNumber,
		CustomerID: in.CustomerID,
		Items:      lines,
		Totals:     money.ComputeTotals(lines, in.Discount, biz.Tax()).Rounded(),
		Previous:   held,
		UpdatedAt:  c.now(),
	})
	if err != nil {
		return Draft{}, classify("update draft", err)
	}

	o, err := c.reload(ctx, cur)
	if err != nil {
		return Draft{}, err
	}
	next, err := o.AsDraft()
	if err != nil {
		return Draft{}, Integrity("Draft %s changed state during update.", cur.BillNumber)
	}
	c.publish(ctx, EventDraftUpdated, o, a)
	return next, nil
}

// FinalizeDraft turns a draft into a completed bill: payment is resolved
// against the draft total, then the store decrements on-hand and releases
// the reservation in one step.
func (c *Controller) FinalizeDraft(ctx context.Context, a Actor, d Draft, in FinalizeInput) (_ Completed, err error) {
	defer func(start time.Time) { c.observe("finalize_draft", start, err) }(time.Now())

	cur := d.o
	if err = requireActor(a); err != nil {
		return Completed{}, err
	}
	if cur.BusinessID != a.BusinessID {
		return Completed{}, NotFound("Bill", cur.ID)
	}
	if !a.Role.Elevated() {
		return Completed{}, forbiddenf("Only an owner, admin or manager can finalize a bill.")
	}
	if len(cur.Items) == 0 {
		return Completed{}, validationf(nil, "Bill %s has no items to finalize.", cur.BillNumber)
	}

	products, err := c.loadProducts(ctx, a.BusinessID, ProductIDs(cur.Items))
	if err != nil {
		return Completed{}, err
	}
	qty := cur.Quantities()
	for _, pid := range ProductIDs(cur.Items) {
		p := products[pid]
		if err := stock.CheckFinalize(pid, p.Name, p.Level(), qty[pid]); err != nil {
			return Completed{}, validationf(err, "%s", err.Error())
		}
	}

	settle, dueDate, err := resolvePayment(in.PaymentType, in.PaidAmount, in.DueDate, cur.Totals.Total, cur.CustomerID)
	if err != nil {
		return Completed{}, err
	}

	err = c.Store.FinalizeDraft(ctx, Finalization{
		BusinessID:  cur.BusinessID,
		OrderID:     cur.ID,
		BillNumber:  cur.BillNumber,
		Expected:    qty,
		Total:       cur.Totals.Total,
		Payment:     settle,
		DueDate:     dueDate,
		CompletedAt: c.now(),
	})
	if err != nil {
		return Completed{}, classify("finalize draft", err)
	}

	o, err := c.reload(ctx, cur)
	if err != nil {
		return Completed{}, err
	}
	done, err := o.AsCompleted()
	if err != nil {
		return Completed{}, Integrity("Bill %s was not completed after finalize.", cur.BillNumber)
	}
	log.Printf("[orders] draft %s finalized by %s payment=%s due=%s", o.BillNumber, a.UserID, o.Payment.Status, o.Payment.DueAmount.StringFixed(2))
	c.publish(ctx, EventDraftFinalized, o, a)
	return done, nil
}

// CancelDraft releases the draft's reservation. Cancelling twice is refused
// by the store, so a reservation is never released twice.
func (c *Controller) CancelDraft(ctx context.Context, a Actor, d Draft) (_ Cancelled, err error) {
	defer func(start time.Time) { c.observe("cancel_draft", start, err) }(time.Now())

	cur := d.o
	if err = c.authorizeDraft(a, cur); err != nil {
		return Cancelled{}, err
	}
	err = c.Store.CancelDraft(ctx, Cancellation{
		BusinessID:  cur.BusinessID,
		OrderID:     cur.ID,
		BillNumber:  cur.BillNumber,
		CancelledAt: c.now(),
	})
	if err != nil {
		return Cancelled{}, classify("cancel draft", err)
	}

	o, err := c.reload(ctx, cur)
	if err != nil {
		return Cancelled{}, err
	}
	done, ok := o.State().(Cancelled)
	if !ok {
		return Cancelled{}, Integrity("Bill %s was not cancelled.", cur.BillNumber)
	}
	log.Printf("[orders] draft %s cancelled by %s", o.BillNumber, a.UserID)
	c.publish(ctx, EventDraftCancelled, o, a)
	return done, nil
}

// RecordPayment settles part or all of the due on a completed bill.
func (c *Controller) RecordPayment(ctx context.Context, a Actor, b Completed, amount decimal.Decimal) (_ Completed, err error) {
	defer func(start time.Time) { c.observe("record_payment", start, err) }(time.Now())

	cur := b.o
	if err = requireActor(a); err != nil {
		return Completed{}, err
	}
	if cur.BusinessID != a.BusinessID {
		return Completed{}, NotFound("Bill", cur.ID)
	}
	if !a.Role.Elevated() && a.Role != RoleCashier {
		return Completed{}, forbiddenf("Only an owner, admin, manager or cashier can record payments.")
	}
	// client-side check; the store re-derives under lock
	if _, err = payment.Settle(cur.Payment, cur.Totals.Total, amount); err != nil {
		return Completed{}, classify("record payment", err)
	}

	err = c.Store.RecordPayment(ctx, PaymentRecord{
		ID:         uuid.NewString(),
		BusinessID: cur.BusinessID,
		OrderID:    cur.ID,
		Amount:     amount,
		RecordedBy: a.UserID,
		RecordedAt: c.now(),
	})
	if err != nil {
		return Completed{}, classify("record payment", err)
	}

	o, err := c.reload(ctx, cur)
	if err != nil {
		return Completed{}, err
	}
	done, err := o.AsCompleted()
	if err != nil {
		return Completed{}, err
	}
	c.publish(ctx, EventPaymentRecorded, o, a)
	return done, nil
}

func (c *Controller) Get(ctx context.Context, a Actor, orderID string) (Order, error) {
	if err := requireActor(a); err != nil {
		return Order{}, err
	}
	o, err := c.Store.GetOrder(ctx, a.BusinessID, orderID)
	return o, classify("get order", err)
}

// ListDue lists completed bills that still have an amount due.
func (c *Controller) ListDue(ctx context.Context, a Actor, limit int) ([]Order, error) {
	if err := requireActor(a); err != nil {
		return nil, err
	}
	out, err := c.Store.ListOrders(ctx, a.BusinessID, ListFilter{Status: StatusCompleted, DueOnly: true, Limit: limit})
	return out, classify("list due bills", err)
}

func (c *Controller) Products(ctx context.Context, a Actor) ([]Product, error) {
	if err := requireActor(a); err != nil {
		return nil, err
	}
	ps, err := c.Store.ListProducts(ctx, a.BusinessID)
	return ps, classify("list products", err)
}

// ProductsByID reads current rows; a missing id is a validation error.
func (c *Controller) ProductsByID(ctx context.Context, a Actor, ids []string) (map[string]Product, error) {
	if err := requireActor(a); err != nil {
		return nil, err
	}
	return c.loadProducts(ctx, a.BusinessID, ids)
}

func (c *Controller) Business(ctx context.Context, a Actor) (Business, error) {
	if err := requireActor(a); err != nil {
		return Business{}, err
	}
	b, err := c.Store.BusinessSettings(ctx, a.BusinessID)
	return b, classify("business settings", err)
}

// ---- helpers ----

func (c *Controller) allocate(ctx context.Context, a Actor, biz Business, o *Order, insert func(context.Context, Order) error) error {
	code, err := c.Store.CollectorCode(ctx, a.BusinessID, a.UserID)
	if err != nil {
		return err
	}
	bills := c.Bills
	if bills == nil {
		bills = &billno.Generator{Source: c.Store}
	}
	_, err = bills.Allocate(ctx, a.BusinessID, billno.Prefix(biz.BillPrefix, code), func(no string) error {
		o.BillNumber = no
		return insert(ctx, *o)
	})
	return err
}

func (c *Controller) reload(ctx context.Context, cur Order) (Order, error) {
	o, err := c.Store.GetOrder(ctx, cur.BusinessID, cur.ID)
	if err != nil {
		return Order{}, classify("reload bill", err)
	}
	return o, nil
}

func (c *Controller) loadProducts(ctx context.Context, businessID string, ids []string) (map[string]Product, error) {
	products, err := c.Store.GetProducts(ctx, businessID, ids)
	if err != nil {
		return nil, classify("load products", err)
	}
	for _, id := range ids {
		if _, ok := products[id]; !ok {
			return nil, validationf(nil, "Product %s no longer exists.", id)
		}
	}
	return products, nil
}

func (c *Controller) authorizeDraft(a Actor, o Order) error {
	if err := requireActor(a); err != nil {
		return err
	}
	if o.BusinessID != a.BusinessID {
		return NotFound("Bill", o.ID)
	}
	if !a.Role.Elevated() && o.CreatedBy != a.UserID {
		return forbiddenf("Only the creator or a manager can change bill %s.", o.BillNumber)
	}
	return nil
}

func (c *Controller) publish(ctx context.Context, eventType string, o Order, a Actor) {
	if c.Events == nil {
		return
	}
	payload, err := json.Marshal(billPayload(o, a.UserID))
	if err != nil {
		log.Printf("[orders] WARN: marshal %s payload: %v", eventType, err)
		return
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    c.now(),
		Producer:      c.Service,
		TraceID:       traceID(ctx),
		CorrelationID: o.ID,
		Payload:       payload,
	}
	b, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[orders] WARN: marshal %s envelope: %v", eventType, err)
		return
	}
	c.Events.PublishEvent(PartitionKey(o.ID), eventType, b)
}

// CheckActor reports whether a is a known user with a valid role, the same
// check every controller operation starts with.
func CheckActor(a Actor) error { return requireActor(a) }

func requireActor(a Actor) error {
	if a.UserID == "" || a.BusinessID == "" || !a.Role.Valid() {
		return forbiddenf("Unknown user or role.")
	}
	return nil
}

func checkDiscount(a Actor, discount, previous decimal.Decimal) error {
	if discount.IsNegative() {
		return validationf(nil, "Discount cannot be negative.")
	}
	if !discount.IsZero() && !discount.Equal(previous) && !a.Role.Elevated() {
		return forbiddenf("Only an owner, admin or manager can apply a discount.")
	}
	return nil
}

// normalize rejects empty sets and bad quantities and merges repeated
// products into one line.
func normalize(items []LineItem) ([]LineItem, error) {
	if len(items) == 0 {
		return nil, validationf(nil, "Add at least one item.")
	}
	out := make([]LineItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, it := range items {
		if it.ProductID == "" {
			return nil, validationf(nil, "Every item needs a product.")
		}
		if it.Quantity < 1 {
			return nil, validationf(nil, "Quantity for %s must be at least 1.", displayName(it))
		}
		if i, ok := index[it.ProductID]; ok {
			if it.Quantity > math.MaxInt-out[i].Quantity {
				return nil, validationf(nil, "Quantity for %s is too large.", displayName(it))
			}
			out[i].Quantity += it.Quantity
			continue
		}
		index[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out, nil
}

func displayName(it LineItem) string {
	if it.ProductName != "" {
		return it.ProductName
	}
	return it.ProductID
}

// checkAvailability runs every product's total quantity through the oracle.
// held is what the draft being edited already reserves.
func checkAvailability(items []LineItem, products map[string]Product, held map[string]int) error {
	qty := quantities(items)
	for _, pid := range ProductIDs(items) {
		p := products[pid]
		if err := stock.CheckReserve(pid, p.Name, p.Level(), held[pid], qty[pid]); err != nil {
			return validationf(err, "%s", err.Error())
		}
	}
	return nil
}

// price snapshots name and prices: from previous when the draft already had
// the product, else from the current product row.
func price(items []LineItem, products map[string]Product, previous map[string]LineItem) []LineItem {
	out := make([]LineItem, 0, len(items))
	for _, it := range items {
		var line LineItem
		if prev, ok := previous[it.ProductID]; ok {
			line = prev
			line.Quantity = it.Quantity
		} else {
			line = NewLineItem(products[it.ProductID], it.Quantity)
		}
		if line.ID == "" {
			line.ID = uuid.NewString()
		}
		out = append(out, line)
	}
	return out
}

func resolvePayment(t payment.Type, paid decimal.Decimal, dueDate *time.Time, total decimal.Decimal, customerID *string) (payment.Settlement, *time.Time, error) {
	if !t.Valid() {
		return payment.Settlement{}, nil, validationf(nil, "Choose cash or due as the payment type.")
	}
	s, err := payment.Resolve(t, total, paid)
	if err != nil {
		return payment.Settlement{}, nil, classify("resolve payment", err)
	}
	if t == payment.TypeCash {
		return s, nil, nil
	}
	if customerID == nil || *customerID == "" {
		return payment.Settlement{}, nil, validationf(nil, "A due bill needs a customer.")
	}
	if s.DueAmount.IsPositive() && dueDate == nil {
		return payment.Settlement{}, nil, validationf(nil, "Due date is required when an amount is left due.")
	}
	return s, dueDate, nil
}
