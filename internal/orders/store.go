package orders

import (
	"context"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/money"
	"github.com/ariefcatur/go-pos-orders/internal/payment"
	"github.com/shopspring/decimal"
)

// Store is the storage boundary. Each method that touches stock counters or
// order status is one atomic step: it fully applies or returns an error with
// nothing changed. Implementations: Repo (Postgres) and memstore.Store.
type Store interface {
	BusinessSettings(ctx context.Context, businessID string) (Business, error)
	// CollectorCode returns the user's personal bill prefix, or "".
	CollectorCode(ctx context.Context, businessID, userID string) (string, error)

	ListProducts(ctx context.Context, businessID string) ([]Product, error)
	GetProducts(ctx context.Context, businessID string, ids []string) (map[string]Product, error)
	LatestBillNumber(ctx context.Context, businessID, stem string) (string, error)

	// CreateCompletedOrder inserts a completed bill and decrements on-hand
	// stock; no reservation is involved.
	CreateCompletedOrder(ctx context.Context, o Order) error
	// CreateDraft inserts a draft and reserves its quantities.
	CreateDraft(ctx context.Context, o Order) error
	// UpdateDraft replaces a draft's items and totals, moving each product's
	// reservation by (new - old) only.
	UpdateDraft(ctx context.Context, u DraftUpdate) error
	// FinalizeDraft completes a draft, decrementing on-hand and releasing
	// the reservation by the same quantities.
	FinalizeDraft(ctx context.Context, f Finalization) error
	// CancelDraft releases a draft's reservation; on-hand is untouched.
	CancelDraft(ctx context.Context, c Cancellation) error
	// RecordPayment applies a due payment to a completed bill.
	RecordPayment(ctx context.Context, p PaymentRecord) error

	GetOrder(ctx context.Context, businessID, orderID string) (Order, error)
	ListOrders(ctx context.Context, businessID string, f ListFilter) ([]Order, error)
}

type DraftUpdate struct {
	BusinessID string
	OrderID    string
	BillNumber string
	CustomerID *string
	Items      []LineItem
	Totals     money.Totals
	// Previous is the per-product quantity the caller read; a mismatch with
	// the stored draft is a conflict.
	Previous  map[string]int
	UpdatedAt time.Time
}

type Finalization struct {
	BusinessID  string
	OrderID     string
	BillNumber  string
	Expected    map[string]int
	Total       decimal.Decimal
	Payment     payment.Settlement
	DueDate     *time.Time
	CompletedAt time.Time
}

type Cancellation struct {
	BusinessID  string
	OrderID     string
	BillNumber  string
	CancelledAt time.Time
}

type PaymentRecord struct {
	ID         string
	BusinessID string
	OrderID    string
	Amount     decimal.Decimal
	RecordedBy string
	RecordedAt time.Time
}

type ListFilter struct {
	Status  Status
	DueOnly bool
	Limit   int
}
