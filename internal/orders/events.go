package orders

import (
	"encoding/json"
	"time"
)

const (
	EventBillCompleted   = "BillCompleted"
	EventDraftCreated    = "DraftCreated"
	EventDraftUpdated    = "DraftUpdated"
	EventDraftFinalized  = "DraftFinalized"
	EventDraftCancelled  = "DraftCancelled"
	EventPaymentRecorded = "PaymentRecorded"
	EventStockLow        = "StockLow"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads ----

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type BillEventPayload struct {
	OrderID       string    `json:"order_id"`
	BusinessID    string    `json:"business_id"`
	BillNumber    string    `json:"bill_number"`
	Status        Status    `json:"status"`
	ActorID       string    `json:"actor_id"`
	TotalAmount   string    `json:"total_amount"`
	PaidAmount    string    `json:"paid_amount,omitempty"`
	DueAmount     string    `json:"due_amount,omitempty"`
	PaymentStatus string    `json:"payment_status,omitempty"`
	Items         []ItemQty `json:"items"`
}

type StockLowPayload struct {
	BusinessID      string `json:"business_id"`
	ProductID       string `json:"product_id"`
	ProductName     string `json:"product_name"`
	AvailableToSell int    `json:"available_to_sell"`
	Threshold       int    `json:"threshold"`
}

func itemQtys(items []LineItem) []ItemQty {
	q := quantities(items)
	out := make([]ItemQty, 0, len(q))
	for _, pid := range ProductIDs(items) {
		out = append(out, ItemQty{ProductID: pid, Qty: q[pid]})
	}
	return out
}

func billPayload(o Order, actorID string) BillEventPayload {
	p := BillEventPayload{
		OrderID:     o.ID,
		BusinessID:  o.BusinessID,
		BillNumber:  o.BillNumber,
		Status:      o.Status,
		ActorID:     actorID,
		TotalAmount: o.Totals.Total.StringFixed(2),
		Items:       itemQtys(o.Items),
	}
	if o.Status == StatusCompleted {
		p.PaidAmount = o.Payment.PaidAmount.StringFixed(2)
		p.DueAmount = o.Payment.DueAmount.StringFixed(2)
		p.PaymentStatus = string(o.Payment.Status)
	}
	return p
}
