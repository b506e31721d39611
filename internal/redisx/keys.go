package redisx

import (
	"fmt"
	"time"
)

const (
	// Checkout idempotency: idem:checkout:{business_id}:{key} -> order_id
	KeyIdemCheckout = "idem:checkout:%s:%s"

	// Cached view of a bill that can no longer change: bill_view:{business_id}:{order_id} -> json
	KeyBillView = "bill_view:%s:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Products currently at or under their low-stock threshold: set of product ids
	KeyLowStock = "lowstock:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLBillView    = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)

func IdemCheckoutKey(businessID, key string) string {
	return fmt.Sprintf(KeyIdemCheckout, businessID, key)
}

func BillViewKey(businessID, orderID string) string {
	return fmt.Sprintf(KeyBillView, businessID, orderID)
}

func DedupKey(service, eventID string) string { return fmt.Sprintf(KeyDedup, service, eventID) }

func LowStockKey(businessID string) string { return fmt.Sprintf(KeyLowStock, businessID) }
