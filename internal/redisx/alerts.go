package redisx

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// StockAlerts tracks processed events and which products are flagged low.
type StockAlerts struct {
	R       *redis.Client
	Service string
}

// FirstSeen records eventID and reports whether this is its first delivery.
func (a *StockAlerts) FirstSeen(ctx context.Context, eventID string) (bool, error) {
	return a.R.SetNX(ctx, DedupKey(a.Service, eventID), 1, TTLDedup).Result()
}

// Forget undoes FirstSeen so a failed event is processed on redelivery.
func (a *StockAlerts) Forget(ctx context.Context, eventID string) error {
	return a.R.Del(ctx, DedupKey(a.Service, eventID)).Err()
}

// MarkLow flags productID and reports whether it was not flagged before.
func (a *StockAlerts) MarkLow(ctx context.Context, businessID, productID string) (bool, error) {
	n, err := a.R.SAdd(ctx, LowStockKey(businessID), productID).Result()
	return n == 1, err
}

func (a *StockAlerts) ClearLow(ctx context.Context, businessID, productID string) error {
	return a.R.SRem(ctx, LowStockKey(businessID), productID).Err()
}

func (a *StockAlerts) LowStock(ctx context.Context, businessID string) ([]string, error) {
	return a.R.SMembers(ctx, LowStockKey(businessID)).Result()
}
