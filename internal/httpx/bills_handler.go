package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/cart"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/payment"
	"github.com/ariefcatur/go-pos-orders/internal/redisx"
	"github.com/ariefcatur/go-pos-orders/internal/stock"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// IdempotencyStore is implemented by redisx.Idempotency.
type IdempotencyStore interface {
	Claim(ctx context.Context, businessID, key string) (orderID string, claimed bool, err error)
	Complete(ctx context.Context, businessID, key, orderID string) error
	Release(ctx context.Context, businessID, key string) error
}

// ViewCache is implemented by redisx.BillCache.
type ViewCache interface {
	Get(ctx context.Context, businessID, orderID string) ([]byte, bool, error)
	Put(ctx context.Context, businessID, orderID string, view []byte) error
}

type BillsHandler struct {
	Ctrl    *orders.Controller
	Idem    IdempotencyStore // optional
	Cache   ViewCache        // optional
	Timeout time.Duration
}

type itemReq struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type checkoutReq struct {
	CustomerID  *string         `json:"customer_id"`
	Items       []itemReq       `json:"items"`
	Discount    decimal.Decimal `json:"discount"`
	PaymentType payment.Type    `json:"payment_type"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	DueDate     *time.Time      `json:"due_date"`
}

type draftReq struct {
	CustomerID *string         `json:"customer_id"`
	Items      []itemReq       `json:"items"`
	Discount   decimal.Decimal `json:"discount"`
}

type finalizeReq struct {
	PaymentType payment.Type    `json:"payment_type"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	DueDate     *time.Time      `json:"due_date"`
}

type paymentReq struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *BillsHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(Identify)
		r.Get("/products", h.listProducts)
		r.Post("/quote", h.quote)
		r.Post("/checkout", h.checkout)
		r.Post("/drafts", h.createDraft)
		r.Put("/drafts/{id}", h.updateDraft)
		r.Post("/drafts/{id}/finalize", h.finalizeDraft)
		r.Post("/drafts/{id}/cancel", h.cancelDraft)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/bills/due", h.listDue)
		r.Post("/bills/{id}/payments", h.recordPayment)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto status codes. Unknown errors are
// logged and hidden.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	msg := err.Error()
	switch {
	case errors.Is(err, orders.ErrValidation),
		errors.Is(err, stock.ErrLimit),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrUnknownLine):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, orders.ErrConflict), errors.Is(err, redisx.ErrInFlight):
		code = http.StatusConflict
	case errors.Is(err, orders.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, orders.ErrForbidden):
		code = http.StatusForbidden
	case errors.Is(err, orders.ErrIntegrity):
		log.Printf("[httpx] integrity: %v", err)
	case errors.Is(err, context.DeadlineExceeded):
		code, msg = http.StatusGatewayTimeout, "request timed out"
	default:
		log.Printf("[httpx] unexpected: %v", err)
		msg = "internal error"
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

func (h *BillsHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	d := h.Timeout
	if d <= 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(r.Context(), d)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

// buildCart runs the requested items through a fresh cart so every line is
// gated and priced exactly as the register would.
func (h *BillsHandler) buildCart(ctx context.Context, a orders.Actor, items []itemReq, discount decimal.Decimal) (*cart.Builder, error) {
	biz, err := h.Ctrl.Business(ctx, a)
	if err != nil {
		return nil, err
	}
	products, err := h.Ctrl.ProductsByID(ctx, a, productIDs(items))
	if err != nil {
		return nil, err
	}
	b := cart.New(biz.Tax())
	for _, it := range items {
		if _, err := b.Add(products[it.ProductID], it.Quantity); err != nil {
			return nil, err
		}
	}
	b.SetDiscount(discount)
	return b, nil
}

// editDraft replays the requested quantities onto the draft's cart: lines
// not requested are removed, existing lines keep their snapshot.
func (h *BillsHandler) editDraft(ctx context.Context, a orders.Actor, d orders.Draft, items []itemReq, discount decimal.Decimal) (*cart.Builder, error) {
	biz, err := h.Ctrl.Business(ctx, a)
	if err != nil {
		return nil, err
	}
	ids := productIDs(items)
	products, err := h.Ctrl.ProductsByID(ctx, a, ids)
	if err != nil {
		return nil, err
	}
	want := map[string]int{}
	for _, it := range items {
		if it.Quantity < 1 || it.Quantity > math.MaxInt-want[it.ProductID] {
			return nil, cart.ErrInvalidQuantity
		}
		want[it.ProductID] += it.Quantity
	}

	b := cart.FromDraft(d, products, biz.Tax())
	for _, it := range b.Items() {
		if _, ok := want[it.ProductID]; !ok {
			b.Remove(it.ID)
		}
	}
	for _, id := range ids {
		if line, ok := b.Line(id); ok {
			if err := b.SetQuantity(line.ID, want[id]); err != nil {
				return nil, err
			}
			continue
		}
		if _, err := b.Add(products[id], want[id]); err != nil {
			return nil, err
		}
	}
	b.SetDiscount(discount)
	return b, nil
}

func productIDs(items []itemReq) []string {
	seen := map[string]bool{}
	var out []string
	for _, it := range items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			out = append(out, it.ProductID)
		}
	}
	return out
}

func (h *BillsHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	ps, err := h.Ctrl.Products(ctx, ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]productView, 0, len(ps))
	for _, p := range ps {
		out = append(out, product(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *BillsHandler) quote(w http.ResponseWriter, r *http.Request) {
	var req draftReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	b, err := h.buildCart(ctx, ActorFrom(r.Context()), req.Items, req.Discount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteView{Items: lines(b.Items()), Totals: totals(b.Totals().Rounded())})
}

func (h *BillsHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutReq
	if !decode(w, r, &req) {
		return
	}
	a := ActorFrom(r.Context())
	ctx, cancel := h.ctx(r)
	defer cancel()

	key := r.Header.Get("Idempotency-Key")
	if h.Idem != nil && key != "" {
		orderID, claimed, err := h.Idem.Claim(ctx, a.BusinessID, key)
		if err != nil {
			writeError(w, err)
			return
		}
		if !claimed {
			o, err := h.Ctrl.Get(ctx, a, orderID)
			if err != nil {
				writeError(w, err)
				return
			}
			w.Header().Set("Idempotent-Replayed", "true")
			writeJSON(w, http.StatusOK, bill(o))
			return
		}
	}

	done, err := h.doCheckout(ctx, a, req)
	if h.Idem != nil && key != "" {
		// the claim is settled on a fresh context so a timeout does not strand it
		bg, stop := context.WithTimeout(context.Background(), 2*time.Second)
		defer stop()
		if err != nil {
			if rerr := h.Idem.Release(bg, a.BusinessID, key); rerr != nil {
				log.Printf("[httpx] WARN: release idempotency key: %v", rerr)
			}
		} else if cerr := h.Idem.Complete(bg, a.BusinessID, key, done.Order().ID); cerr != nil {
			log.Printf("[httpx] WARN: complete idempotency key: %v", cerr)
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bill(done.Order()))
}

func (h *BillsHandler) doCheckout(ctx context.Context, a orders.Actor, req checkoutReq) (orders.Completed, error) {
	b, err := h.buildCart(ctx, a, req.Items, req.Discount)
	if err != nil {
		return orders.Completed{}, err
	}
	return h.Ctrl.Checkout(ctx, a, orders.CheckoutInput{
		CustomerID:  req.CustomerID,
		Items:       b.Items(),
		Discount:    b.Discount(),
		PaymentType: req.PaymentType,
		PaidAmount:  req.PaidAmount,
		DueDate:     req.DueDate,
	})
}

func (h *BillsHandler) createDraft(w http.ResponseWriter, r *http.Request) {
	var req draftReq
	if !decode(w, r, &req) {
		return
	}
	a := ActorFrom(r.Context())
	ctx, cancel := h.ctx(r)
	defer cancel()

	b, err := h.buildCart(ctx, a, req.Items, req.Discount)
	if err != nil {
		writeError(w, err)
		return
	}
	d, err := h.Ctrl.CreateDraft(ctx, a, orders.DraftInput{CustomerID: req.CustomerID, Items: b.Items(), Discount: b.Discount()})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bill(d.Order()))
}

func (h *BillsHandler) loadDraft(ctx context.Context, a orders.Actor, id string) (orders.Draft, error) {
	o, err := h.Ctrl.Get(ctx, a, id)
	if err != nil {
		return orders.Draft{}, err
	}
	return o.AsDraft()
}

func (h *BillsHandler) updateDraft(w http.ResponseWriter, r *http.Request) {
	var req draftReq
	if !decode(w, r, &req) {
		return
	}
	a := ActorFrom(r.Context())
	ctx, cancel := h.ctx(r)
	defer cancel()

	d, err := h.loadDraft(ctx, a, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	b, err := h.editDraft(ctx, a, d, req.Items, req.Discount)
	if err != nil {
		writeError(w, err)
		return
	}
	next, err := h.Ctrl.UpdateDraft(ctx, a, d, orders.DraftInput{CustomerID: req.CustomerID, Items: b.Items(), Discount: b.Discount()})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bill(next.Order()))
}

func (h *BillsHandler) finalizeDraft(w http.ResponseWriter, r *http.Request) {
	var req finalizeReq
	if !decode(w, r, &req) {
		return
	}
	a := ActorFrom(r.Context())
	ctx, cancel := h.ctx(r)
	defer cancel()

	d, err := h.loadDraft(ctx, a, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	done, err := h.Ctrl.FinalizeDraft(ctx, a, d, orders.FinalizeInput{PaymentType: req.PaymentType, PaidAmount: req.PaidAmount, DueDate: req.DueDate})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bill(done.Order()))
}

func (h *BillsHandler) cancelDraft(w http.ResponseWriter, r *http.Request) {
	a := ActorFrom(r.Context())
	ctx, cancel := h.ctx(r)
	defer cancel()

	d, err := h.loadDraft(ctx, a, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	done, err := h.Ctrl.CancelDraft(ctx, a, d)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bill(done.Order()))
}

func (h *BillsHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	a := ActorFrom(r.Context())
	id := chi.URLParam(r, "id")
	if err := orders.CheckActor(a); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	// 1) cache
	if h.Cache != nil {
		if b, ok, err := h.Cache.Get(ctx, a.BusinessID, id); err == nil && ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(b)
			return
		}
	}

	// 2) store
	o, err := h.Ctrl.Get(ctx, a, id)
	if err != nil {
		writeError(w, err)
		return
	}
	b, err := json.Marshal(bill(o))
	if err != nil {
		writeError(w, err)
		return
	}
	if h.Cache != nil && settled(o) {
		if err := h.Cache.Put(ctx, a.BusinessID, id, b); err != nil {
			log.Printf("[httpx] WARN: cache bill %s: %v", o.BillNumber, err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

// settled bills never change again.
func settled(o orders.Order) bool {
	switch o.Status {
	case orders.StatusCancelled:
		return true
	case orders.StatusCompleted:
		return !o.Payment.DueAmount.IsPositive()
	}
	return false
}

func (h *BillsHandler) listDue(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	ctx, cancel := h.ctx(r)
	defer cancel()

	due, err := h.Ctrl.ListDue(ctx, ActorFrom(r.Context()), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]billView, 0, len(due))
	for _, o := range due {
		out = append(out, bill(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *BillsHandler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentReq
	if !decode(w, r, &req) {
		return
	}
	a := ActorFrom(r.Context())
	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := h.Ctrl.Get(ctx, a, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	b, err := o.AsCompleted()
	if err != nil {
		writeError(w, err)
		return
	}
	done, err := h.Ctrl.RecordPayment(ctx, a, b, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bill(done.Order()))
}
