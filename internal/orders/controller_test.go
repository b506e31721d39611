package orders_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/billno"
	"github.com/ariefcatur/go-pos-orders/internal/memstore"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/payment"
	"github.com/ariefcatur/go-pos-orders/internal/stock"
	"github.com/shopspring/decimal"
)

var fixed = time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)

var (
	manager  = orders.Actor{UserID: "m1", Role: orders.RoleManager, BusinessID: "b1"}
	cashier  = orders.Actor{UserID: "c1", Role: orders.RoleCashier, BusinessID: "b1"}
	salesman = orders.Actor{UserID: "s1", Role: orders.RoleSalesman, BusinessID: "b1"}
	other    = orders.Actor{UserID: "s2", Role: orders.RoleSalesman, BusinessID: "b1"}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recorder struct {
	mu     sync.Mutex
	events []orders.Envelope
}

func (r *recorder) PublishEvent(_ []byte, _ string, value []byte) {
	var ev orders.Envelope
	if err := json.Unmarshal(value, &ev); err != nil {
		panic(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

func setup(t *testing.T) (*orders.Controller, *memstore.Store, *recorder) {
	t.Helper()
	s := memstore.New()
	s.PutBusiness(orders.Business{ID: "b1", Name: "Shop", BillPrefix: "INV", TaxRatePercent: dec("5"), TaxEnabled: true})
	s.PutProduct(orders.Product{ID: "p1", BusinessID: "b1", Name: "Widget", SellingPrice: dec("50.00"), CostPrice: dec("30.00"), StockQuantity: 10, LowStockThreshold: 2})
	s.PutProduct(orders.Product{ID: "p2", BusinessID: "b1", Name: "Gadget", SellingPrice: dec("12.50"), StockQuantity: 100})

	rec := &recorder{}
	c := orders.NewController(s)
	c.Now = func() time.Time { return fixed }
	c.Bills.Now = c.Now
	c.Events = rec
	return c, s, rec
}

func items(pairs ...any) []orders.LineItem {
	var out []orders.LineItem
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, orders.LineItem{ProductID: pairs[i].(string), Quantity: pairs[i+1].(int)})
	}
	return out
}

func level(t *testing.T, s *memstore.Store, id string) stock.Level {
	t.Helper()
	ps, err := s.GetProducts(context.Background(), "b1", []string{id})
	if err != nil {
		t.Fatal(err)
	}
	return ps[id].Level()
}

func customer(id string) *string { return &id }

func TestCheckoutOverStockIsRejected(t *testing.T) {
	c, s, rec := setup(t)
	_, err := c.Checkout(context.Background(), cashier, orders.CheckoutInput{Items: items("p1", 12), PaymentType: payment.TypeCash})
	if !errors.Is(err, orders.ErrValidation) || !errors.Is(err, stock.ErrLimit) {
		t.Fatalf("err = %v, want stock-limit validation", err)
	}
	if err.Error() != "Stock limit reached for Widget. Only 10 units available." {
		t.Fatalf("message = %q", err.Error())
	}
	if l := level(t, s, "p1"); l.OnHand != 10 || l.Reserved != 0 {
		t.Fatalf("counters moved: %+v", l)
	}
	if len(rec.types()) != 0 {
		t.Fatalf("events on failure: %v", rec.types())
	}
}

func TestCheckoutDecrementsStockWithoutReservation(t *testing.T) {
	c, s, rec := setup(t)
	done, err := c.Checkout(context.Background(), cashier, orders.CheckoutInput{Items: items("p1", 3, "p2", 2), PaymentType: payment.TypeCash})
	if err != nil {
		t.Fatal(err)
	}
	o := done.Order()
	if o.BillNumber != "INV03050001" {
		t.Fatalf("bill number = %q", o.BillNumber)
	}
	// 150 + 25 = 175, tax 8.75
	if !o.Totals.Total.Equal(dec("183.75")) || o.Payment.Status != payment.StatusPaid || !o.Payment.DueAmount.IsZero() {
		t.Fatalf("order = %+v", o)
	}
	if l := level(t, s, "p1"); l.OnHand != 7 || l.Reserved != 0 {
		t.Fatalf("p1 = %+v", l)
	}
	if got := rec.types(); len(got) != 1 || got[0] != orders.EventBillCompleted {
		t.Fatalf("events = %v", got)
	}
}

func TestSecondDraftSeesFirstReservation(t *testing.T) {
	c, s, _ := setup(t)
	ctx := context.Background()
	if _, err := c.CreateDraft(ctx, salesman, orders.DraftInput{Items: items("p1", 6)}); err != nil {
		t.Fatal(err)
	}
	_, err := c.CreateDraft(ctx, other, orders.DraftInput{Items: items("p1", 6)})
	if !errors.Is(err, stock.ErrLimit) || !strings.Contains(err.Error(), "Only 4 units") {
		t.Fatalf("err = %v", err)
	}
	if l := level(t, s, "p1"); l.Reserved != 6 {
		t.Fatalf("reserved = %d, want 6", l.Reserved)
	}
}

func TestDraftTotalsAndDueFinalize(t *testing.T) {
	c, s, rec := setup(t)
	ctx := context.Background()

	d, err := c.CreateDraft(ctx, manager, orders.DraftInput{CustomerID: customer("cust-1"), Items: items("p1", 4), Discount: dec("20")})
	if err != nil {
		t.Fatal(err)
	}
	tot := d.Order().Totals
	if !tot.Subtotal.Equal(dec("200")) || !tot.TaxAmount.Equal(dec("9")) || !tot.Total.Equal(dec("189")) {
		t.Fatalf("totals = %+v", tot)
	}
	if l := level(t, s, "p1"); l.OnHand != 10 || l.Reserved != 4 {
		t.Fatalf("after draft: %+v", l)
	}

	due := fixed.AddDate(0, 0, 14)
	done, err := c.FinalizeDraft(ctx, manager, d, orders.FinalizeInput{PaymentType: payment.TypeDue, PaidAmount: dec("100"), DueDate: &due})
	if err != nil {
		t.Fatal(err)
	}
	o := done.Order()
	if !o.Payment.DueAmount.Equal(dec("89")) || o.Payment.Status != payment.StatusPartial {
		t.Fatalf("payment = %+v", o.Payment)
	}
	if !o.Payment.PaidAmount.Add(o.Payment.DueAmount).Equal(o.Totals.Total) {
		t.Fatal("paid + due != total")
	}
	if o.CompletedAt == nil || !o.CompletedAt.Equal(fixed) {
		t.Fatalf("completed_at = %v", o.CompletedAt)
	}
	if l := level(t, s, "p1"); l.OnHand != 6 || l.Reserved != 0 {
		t.Fatalf("after finalize: %+v", l)
	}

	paid, err := c.RecordPayment(ctx, cashier, done, dec("89"))
	if err != nil {
		t.Fatal(err)
	}
	if paid.Order().Payment.Status != payment.StatusPaid || !paid.Order().Payment.DueAmount.IsZero() {
		t.Fatalf("after settlement: %+v", paid.Order().Payment)
	}
	if _, err := c.RecordPayment(ctx, cashier, paid, dec("1")); !errors.Is(err, orders.ErrValidation) {
		t.Fatalf("payment on settled bill: %v", err)
	}

	want := []string{orders.EventDraftCreated, orders.EventDraftFinalized, orders.EventPaymentRecorded}
	if got := rec.types(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestUpdateDraftAppliesDelta(t *testing.T) {
	c, s, _ := setup(t)
	ctx := context.Background()

	d, err := c.CreateDraft(ctx, salesman, orders.DraftInput{Items: items("p1", 4)})
	if err != nil {
		t.Fatal(err)
	}
	// an unrelated draft holds 3 more
	if _, err := c.CreateDraft(ctx, other, orders.DraftInput{Items: items("p1", 3)}); err != nil {
		t.Fatal(err)
	}

	d, err = c.UpdateDraft(ctx, salesman, d, orders.DraftInput{Items: items("p1", 7)})
	if err != nil {
		t.Fatalf("grow 4 -> 7: %v", err)
	}
	if l := level(t, s, "p1"); l.Reserved != 10 {
		t.Fatalf("reserved = %d, want 10", l.Reserved)
	}

	if _, err := c.UpdateDraft(ctx, salesman, d, orders.DraftInput{Items: items("p1", 8)}); !errors.Is(err, stock.ErrLimit) {
		t.Fatalf("grow past ceiling: %v", err)
	}

	d, err = c.UpdateDraft(ctx, salesman, d, orders.DraftInput{Items: items("p1", 2, "p2", 5)})
	if err != nil {
		t.Fatal(err)
	}
	if l := level(t, s, "p1"); l.Reserved != 5 {
		t.Fatalf("reserved = %d, want 5", l.Reserved)
	}
	if l := level(t, s, "p2"); l.Reserved != 5 {
		t.Fatalf("p2 reserved = %d", l.Reserved)
	}
	if d.Order().BillNumber != "INV03050001" {
		t.Fatalf("bill number changed: %s", d.Order().BillNumber)
	}
}

func TestUpdateKeepsPriceSnapshot(t *testing.T) {
	c, s, _ := setup(t)
	ctx := context.Background()
	d, err := c.CreateDraft(ctx, salesman, orders.DraftInput{Items: items("p1", 1)})
	if err != nil {
		t.Fatal(err)
	}
	s.PutProduct(orders.Product{ID: "p1", BusinessID: "b1", Name: "Widget", SellingPrice: dec("99.00"), StockQuantity: 10, ReservedQuantity: 1})

	d, err = c.UpdateDraft(ctx, salesman, d, orders.DraftInput{Items: items("p1", 2)})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Order().Items[0].UnitPrice.Equal(dec("50")) {
		t.Fatalf("unit price = %s, want snapshot 50", d.Order().Items[0].UnitPrice)
	}
}

func TestStaleDraftCannotBeFinalized(t *testing.T) {
	c, s, _ := setup(t)
	ctx := context.Background()
	d, err := c.CreateDraft(ctx, salesman, orders.DraftInput{Items: items("p1", 3)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.UpdateDraft(ctx, manager, d, orders.DraftInput{Items: items("p1", 4)}); err != nil {
		t.Fatal(err)
	}

	_, err = c.FinalizeDraft(ctx, manager, d, orders.FinalizeInput{PaymentType: payment.TypeCash})
	if !errors.Is(err, orders.ErrConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if l := level(t, s, "p1"); l.OnHand != 10 || l.Reserved != 4 {
		t.Fatalf("counters moved: %+v", l)
	}
}

func TestFinalizeRevalidatesShrunkStock(t *testing.T) {
	c, s, _ := setup(t)
	ctx := context.Background()
	d, err := c.CreateDraft(ctx, salesman, orders.DraftInput{Items: items("p1", 5)})
	if err != nil {
		t.Fatal(err)
	}
	// stock count corrected downward while the draft was open
	s.PutProduct(orders.Product{ID: "p1", BusinessID: "b1", Name: "Widget", SellingPrice: dec("50"), StockQuantity: 4, ReservedQuantity: 4})

	_, err = c.FinalizeDraft(ctx, manager, d, orders.FinalizeInput{PaymentType: payment.TypeCash})
	if !errors.Is(err, stock.ErrLimit) {
		t.Fatalf("err = %v, want stock limit", err)
	}
	got, _ := c.Get(ctx, manager, d.Order().ID)
	if got.Status != orders.StatusDraft {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestCancelReleasesOnce(t *testing.T) {
	c, s, rec := setup(t)
	ctx := context.Background()
	d, err := c.CreateDraft(ctx, salesman, orders.DraftInput{Items: items("p1", 6)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateDraft(ctx, other, orders.DraftInput{Items: items("p1", 2)}); err != nil {
		t.Fatal(err)
	}

	if _, err := c.CancelDraft(ctx, salesman, d); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CancelDraft(ctx, salesman, d); !errors.Is(err, orders.ErrConflict) {
		t.Fatalf("second cancel err = %v", err)
	}
	if l := level(t, s, "p1"); l.OnHand != 10 || l.Reserved != 2 {
		t.Fatalf("after cancel: %+v", l)
	}
	if _, err := c.FinalizeDraft(ctx, manager, d, orders.FinalizeInput{PaymentType: payment.TypeCash}); err == nil {
		t.Fatal("finalized a cancelled draft")
	}
	if l := level(t, s, "p1"); l.OnHand != 10 || l.Reserved != 2 {
		t.Fatalf("after refused finalize: %+v", l)
	}
	n := 0
	for _, ty := range rec.types() {
		if ty == orders.EventDraftCancelled {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("cancel events = %d", n)
	}
}

func TestRoleGating(t *testing.T) {
	c, _, _ := setup(t)
	ctx := context.Background()

	if _, err := c.Checkout(ctx, salesman, orders.CheckoutInput{Items: items("p1", 1), PaymentType: payment.TypeCash}); !errors.Is(err, orders.ErrForbidden) {
		t.Errorf("salesman checkout: %v", err)
	}
	if _, err := c.Checkout(ctx, cashier, orders.CheckoutInput{Items: items("p1", 1), PaymentType: payment.TypeCash, Discount: dec("5")}); !errors.Is(err, orders.ErrForbidden) {
		t.Errorf("cashier discount: %v", err)
	}
	if _, err := c.Checkout(ctx, orders.Actor{UserID: "x", BusinessID: "b1", Role: "intern"}, orders.CheckoutInput{Items: items("p1", 1)}); !errors.Is(err, orders.ErrForbidden) {
		t.Errorf("unknown role: %v", err)
	}

	d, err := c.CreateDraft(ctx, salesman, orders.DraftInput{Items: items("p1", 1)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.UpdateDraft(ctx, other, d, orders.DraftInput{Items: items("p1", 2)}); !errors.Is(err, orders.ErrForbidden) {
		t.Errorf("other salesman update: %v", err)
	}
	if _, err := c.CancelDraft(ctx, other, d); !errors.Is(err, orders.ErrForbidden) {
		t.Errorf("other salesman cancel: %v", err)
	}
	if _, err := c.FinalizeDraft(ctx, cashier, d, orders.FinalizeInput{PaymentType: payment.TypeCash}); !errors.Is(err, orders.ErrForbidden) {
		t.Errorf("cashier finalize: %v", err)
	}
	if _, err := c.Get(ctx, orders.Actor{UserID: "m9", Role: orders.RoleOwner, BusinessID: "b2"}, d.Order().ID); !errors.Is(err, orders.ErrNotFound) {
		t.Errorf("cross-business read: %v", err)
	}
}

func TestDueFinalizeRules(t *testing.T) {
	c, _, _ := setup(t)
	ctx := context.Background()

	walkIn, err := c.CreateDraft(ctx, salesman, orders.DraftInput{Items: items("p2", 1)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.FinalizeDraft(ctx, manager, walkIn, orders.FinalizeInput{PaymentType: payment.TypeDue}); !errors.Is(err, orders.ErrValidation) {
		t.Errorf("walk-in due: %v", err)
	}

	d, err := c.CreateDraft(ctx, salesman, orders.DraftInput{CustomerID: customer("cust-1"), Items: items("p2", 1)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.FinalizeDraft(ctx, manager, d, orders.FinalizeInput{PaymentType: payment.TypeDue}); !errors.Is(err, orders.ErrValidation) {
		t.Errorf("due without date: %v", err)
	}
	if _, err := c.FinalizeDraft(ctx, manager, d, orders.FinalizeInput{PaymentType: payment.TypeDue, PaidAmount: dec("-1")}); !errors.Is(err, orders.ErrValidation) {
		t.Errorf("negative paid: %v", err)
	}
	if _, err := c.FinalizeDraft(ctx, manager, d, orders.FinalizeInput{PaymentType: "card"}); !errors.Is(err, orders.ErrValidation) {
		t.Errorf("unknown type: %v", err)
	}

	// overpaying a due bill settles it without a due date
	done, err := c.FinalizeDraft(ctx, manager, d, orders.FinalizeInput{PaymentType: payment.TypeDue, PaidAmount: dec("1000")})
	if err != nil {
		t.Fatal(err)
	}
	p := done.Order().Payment
	if p.Status != payment.StatusPaid || !p.PaidAmount.Equal(done.Order().Totals.Total) {
		t.Fatalf("payment = %+v", p)
	}

	due, err := c.ListDue(ctx, manager, 0)
	if err != nil || len(due) != 0 {
		t.Fatalf("ListDue = %v, %v", due, err)
	}
}

func TestValidationOfItems(t *testing.T) {
	c, _, _ := setup(t)
	ctx := context.Background()
	cases := map[string][]orders.LineItem{
		"empty":        nil,
		"zero qty":     items("p1", 0),
		"no product":   items("", 1),
		"gone product": items("p404", 1),
	}
	for name, in := range cases {
		if _, err := c.CreateDraft(ctx, salesman, orders.DraftInput{Items: in}); !errors.Is(err, orders.ErrValidation) {
			t.Errorf("%s: err = %v", name, err)
		}
	}

	// repeated products merge into one line
	d, err := c.CreateDraft(ctx, salesman, orders.DraftInput{Items: items("p1", 2, "p1", 3)})
	if err != nil {
		t.Fatal(err)
	}
	if n := len(d.Order().Items); n != 1 || d.Order().Items[0].Quantity != 5 {
		t.Fatalf("items = %+v", d.Order().Items)
	}
}

// staleLatest hides existing bill numbers, as a concurrent writer would.
type staleLatest struct{ *memstore.Store }

func (staleLatest) LatestBillNumber(context.Context, string, string) (string, error) { return "", nil }

func TestBillNumberRetriesPastCollisions(t *testing.T) {
	c, s, _ := setup(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := c.Checkout(ctx, cashier, orders.CheckoutInput{Items: items("p2", 1), PaymentType: payment.TypeCash}); err != nil {
			t.Fatal(err)
		}
	}

	var retries []string
	c.Bills = &billno.Generator{
		Source:  staleLatest{s},
		Now:     c.Now,
		OnRetry: func(_, no string) { retries = append(retries, no) },
	}
	done, err := c.Checkout(ctx, cashier, orders.CheckoutInput{Items: items("p2", 1), PaymentType: payment.TypeCash})
	if err != nil {
		t.Fatal(err)
	}
	if got := done.Order().BillNumber; got != "INV03050003" {
		t.Fatalf("bill number = %s", got)
	}
	if strings.Join(retries, ",") != "INV03050001,INV03050002" {
		t.Fatalf("retries = %v", retries)
	}

	// a fourth number would need a fourth attempt
	_, err = c.Checkout(ctx, cashier, orders.CheckoutInput{Items: items("p2", 1), PaymentType: payment.TypeCash})
	if !errors.Is(err, orders.ErrConflict) || !errors.Is(err, billno.ErrExhausted) {
		t.Fatalf("err = %v, want exhausted conflict", err)
	}
	if l := level(t, s, "p2"); l.OnHand != 97 {
		t.Fatalf("p2 on hand = %d, want 97", l.OnHand)
	}
}

func TestCollectorCodePrefix(t *testing.T) {
	c, s, _ := setup(t)
	s.SetCollectorCode("b1", "s1", "JO")
	d, err := c.CreateDraft(context.Background(), salesman, orders.DraftInput{Items: items("p2", 1)})
	if err != nil {
		t.Fatal(err)
	}
	if got := d.Order().BillNumber; got != "JO-03050001" {
		t.Fatalf("bill number = %s", got)
	}
}

func TestEventsCarryTraceAndPayload(t *testing.T) {
	c, _, rec := setup(t)
	ctx := orders.WithTraceID(context.Background(), "req-42")
	done, err := c.Checkout(ctx, cashier, orders.CheckoutInput{Items: items("p1", 2), PaymentType: payment.TypeCash})
	if err != nil {
		t.Fatal(err)
	}
	ev := rec.events[0]
	if ev.TraceID != "req-42" || ev.CorrelationID != done.Order().ID || ev.EventVersion != 1 {
		t.Fatalf("envelope = %+v", ev)
	}
	var p orders.BillEventPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.BillNumber != done.Order().BillNumber || len(p.Items) != 1 || p.Items[0].Qty != 2 {
		t.Fatalf("payload = %+v", p)
	}
}

func TestMergedQuantityOverflowIsRejected(t *testing.T) {
	c, s, _ := setup(t)
	ctx := context.Background()
	before := level(t, s, "p1")

	_, err := c.CreateDraft(ctx, salesman, orders.DraftInput{Items: items("p1", 1, "p1", math.MaxInt)})
	if !errors.Is(err, orders.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	_, err = c.Checkout(ctx, cashier, orders.CheckoutInput{Items: items("p1", math.MaxInt, "p1", math.MaxInt), PaymentType: payment.TypeCash})
	if !errors.Is(err, orders.ErrValidation) {
		t.Fatalf("checkout err = %v, want validation", err)
	}
	if after := level(t, s, "p1"); after != before || !after.Valid() {
		t.Fatalf("level = %+v, want %+v", after, before)
	}
}
