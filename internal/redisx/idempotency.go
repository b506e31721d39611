package redisx

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// pending marks a key claimed by a request that has not finished yet.
const pending = "pending"

// ErrInFlight means another request holding the same key is still running.
var ErrInFlight = errors.New("request with this idempotency key is in progress")

// Idempotency remembers which order a checkout Idempotency-Key produced.
type Idempotency struct{ R *redis.Client }

// Claim reserves key for the caller. When the key already resolved to an
// order, that order id is returned with claimed=false.
func (i *Idempotency) Claim(ctx context.Context, businessID, key string) (orderID string, claimed bool, err error) {
	k := IdemCheckoutKey(businessID, key)
	ok, err := i.R.SetNX(ctx, k, pending, TTLIdempotency).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	v, err := i.R.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; try once more
		ok, err = i.R.SetNX(ctx, k, pending, TTLIdempotency).Result()
		return "", ok, err
	}
	if err != nil {
		return "", false, err
	}
	if v == pending {
		return "", false, ErrInFlight
	}
	return v, false, nil
}

// Complete binds the claimed key to orderID.
func (i *Idempotency) Complete(ctx context.Context, businessID, key, orderID string) error {
	return i.R.Set(ctx, IdemCheckoutKey(businessID, key), orderID, TTLIdempotency).Err()
}

// Release drops a claim whose request failed so the client can retry.
func (i *Idempotency) Release(ctx context.Context, businessID, key string) error {
	return i.R.Del(ctx, IdemCheckoutKey(businessID, key)).Err()
}

// BillCache holds rendered views of bills that can no longer change.
type BillCache struct{ R *redis.Client }

func (c *BillCache) Get(ctx context.Context, businessID, orderID string) ([]byte, bool, error) {
	b, err := c.R.Get(ctx, BillViewKey(businessID, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	return b, err == nil, err
}

func (c *BillCache) Put(ctx context.Context, businessID, orderID string, view []byte) error {
	return c.R.Set(ctx, BillViewKey(businessID, orderID), view, TTLBillView).Err()
}
