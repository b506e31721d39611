package httpx

import (
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/money"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

type lineView struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	LineTotal   string `json:"line_total"`
}

type totalsView struct {
	Subtotal       string `json:"subtotal"`
	DiscountAmount string `json:"discount_amount"`
	TaxAmount      string `json:"tax_amount"`
	Total          string `json:"total"`
}

type billView struct {
	ID            string     `json:"id"`
	BillNumber    string     `json:"bill_number"`
	Status        string     `json:"status"`
	CustomerID    *string    `json:"customer_id,omitempty"`
	CreatedBy     string     `json:"created_by"`
	Items         []lineView `json:"items"`
	Totals        totalsView `json:"totals"`
	PaymentType   string     `json:"payment_type,omitempty"`
	PaymentStatus string     `json:"payment_status,omitempty"`
	PaidAmount    string     `json:"paid_amount,omitempty"`
	DueAmount     string     `json:"due_amount,omitempty"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
}

type productView struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	SellingPrice     string `json:"selling_price"`
	StockQuantity    int    `json:"stock_quantity"`
	ReservedQuantity int    `json:"reserved_quantity"`
	AvailableToSell  int    `json:"available_to_sell"`
	LowStock         bool   `json:"low_stock"`
}

type quoteView struct {
	Items  []lineView `json:"items"`
	Totals totalsView `json:"totals"`
}

func lines(items []orders.LineItem) []lineView {
	out := make([]lineView, 0, len(items))
	for _, it := range items {
		out = append(out, lineView{
			ID:          it.ID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.StringFixed(2),
			LineTotal:   it.LineTotal().StringFixed(2),
		})
	}
	return out
}

func totals(t money.Totals) totalsView {
	return totalsView{
		Subtotal:       t.Subtotal.StringFixed(2),
		DiscountAmount: t.DiscountAmount.StringFixed(2),
		TaxAmount:      t.TaxAmount.StringFixed(2),
		Total:          t.Total.StringFixed(2),
	}
}

func bill(o orders.Order) billView {
	v := billView{
		ID:          o.ID,
		BillNumber:  o.BillNumber,
		Status:      string(o.Status),
		CustomerID:  o.CustomerID,
		CreatedBy:   o.CreatedBy,
		Items:       lines(o.Items),
		Totals:      totals(o.Totals),
		CreatedAt:   o.CreatedAt,
		CompletedAt: o.CompletedAt,
		CancelledAt: o.CancelledAt,
	}
	if o.Status == orders.StatusCompleted {
		v.PaymentType = string(o.Payment.Type)
		v.PaymentStatus = string(o.Payment.Status)
		v.PaidAmount = o.Payment.PaidAmount.StringFixed(2)
		v.DueAmount = o.Payment.DueAmount.StringFixed(2)
		v.DueDate = o.DueDate
	}
	return v
}

func product(p orders.Product) productView {
	return productView{
		ID:               p.ID,
		Name:             p.Name,
		SellingPrice:     p.SellingPrice.StringFixed(2),
		StockQuantity:    p.StockQuantity,
		ReservedQuantity: p.ReservedQuantity,
		AvailableToSell:  p.AvailableToSell(),
		LowStock:         p.LowStock(),
	}
}
