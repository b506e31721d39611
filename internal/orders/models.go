package orders

import (
	"math"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/money"
	"github.com/ariefcatur/go-pos-orders/internal/payment"
	"github.com/ariefcatur/go-pos-orders/internal/stock"
	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleOwner    Role = "owner"
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleCashier  Role = "cashier"
	RoleSalesman Role = "salesman"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleManager, RoleCashier, RoleSalesman:
		return true
	}
	return false
}

// Elevated roles may finalize drafts and apply discounts.
func (r Role) Elevated() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleManager
}

// Actor is the resolved caller: who, in what role, for which business.
type Actor struct {
	UserID     string
	Role       Role
	BusinessID string
}

type Business struct {
	ID             string
	Name           string
	BillPrefix     string
	TaxRatePercent decimal.Decimal
	TaxEnabled     bool
}

func (b Business) Tax() money.Tax {
	return money.Tax{RatePercent: b.TaxRatePercent, Enabled: b.TaxEnabled}
}

type Product struct {
	ID                string          `json:"id"`
	BusinessID        string          `json:"business_id"`
	Name              string          `json:"name"`
	SellingPrice      decimal.Decimal `json:"selling_price"`
	CostPrice         decimal.Decimal `json:"cost_price"`
	StockQuantity     int             `json:"stock_quantity"`
	ReservedQuantity  int             `json:"reserved_quantity"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (p Product) Level() stock.Level {
	return stock.Level{OnHand: p.StockQuantity, Reserved: p.ReservedQuantity}
}

func (p Product) AvailableToSell() int { return p.Level().AvailableToSell() }

func (p Product) LowStock() bool { return p.AvailableToSell() <= p.LowStockThreshold }

// LineItem is one cart or bill row. Name and prices are snapshots taken
// when the product was added; later catalog edits do not touch it.
type LineItem struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	CostPrice   decimal.Decimal `json:"cost_price"`
}

func NewLineItem(p Product, qty int) LineItem {
	return LineItem{
		ProductID:   p.ID,
		ProductName: p.Name,
		Quantity:    qty,
		UnitPrice:   p.SellingPrice,
		CostPrice:   p.CostPrice,
	}
}

func (l LineItem) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Order struct {
	ID          string             `json:"id"`
	BusinessID  string             `json:"business_id"`
	BillNumber  string             `json:"bill_number"`
	Status      Status             `json:"status"`
	CustomerID  *string            `json:"customer_id,omitempty"`
	CreatedBy   string             `json:"created_by"`
	Totals      money.Totals       `json:"totals"`
	Payment     payment.Settlement `json:"payment"`
	DueDate     *time.Time         `json:"due_date,omitempty"`
	Items       []LineItem         `json:"items"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	CancelledAt *time.Time         `json:"cancelled_at,omitempty"`
}

// WalkIn reports an order with no customer record.
func (o Order) WalkIn() bool { return o.CustomerID == nil || *o.CustomerID == "" }

// Quantities sums item quantities per product.
func (o Order) Quantities() map[string]int {
	return quantities(o.Items)
}

func quantities(items []LineItem) map[string]int {
	out := make(map[string]int, len(items))
	for _, it := range items {
		out[it.ProductID] += it.Quantity
	}
	return out
}

// ItemQuantities sums quantities per product for a line-item set.
func ItemQuantities(items []LineItem) map[string]int { return quantities(items) }

// ValidateQuantities rejects lines below 1 unit and per-product totals that
// do not fit in an int.
func ValidateQuantities(items []LineItem) error {
	sum := make(map[string]int, len(items))
	for _, it := range items {
		if it.Quantity < 1 {
			return validationf(nil, "Quantity for %s must be at least 1.", displayName(it))
		}
		if it.Quantity > math.MaxInt-sum[it.ProductID] {
			return validationf(nil, "Quantity for %s is too large.", displayName(it))
		}
		sum[it.ProductID] += it.Quantity
	}
	return nil
}

// ProductIDs lists the distinct products referenced by items, in order of
// first appearance.
func ProductIDs(items []LineItem) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			out = append(out, it.ProductID)
		}
	}
	return out
}
