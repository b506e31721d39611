// Package stockwatch consumes bill lifecycle events and flags products whose
// available-to-sell count has dropped to their low-stock threshold.
package stockwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	kafkax "github.com/ariefcatur/go-pos-orders/internal/kafka"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

type ProductReader interface {
	GetProducts(ctx context.Context, businessID string, ids []string) (map[string]orders.Product, error)
}

// AlertStore is implemented by redisx.StockAlerts.
type AlertStore interface {
	FirstSeen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
	MarkLow(ctx context.Context, businessID, productID string) (bool, error)
	ClearLow(ctx context.Context, businessID, productID string) error
}

type Service struct {
	Products    ProductReader
	Alerts      AlertStore
	Events      orders.EventPublisher
	ServiceName string
	// OnLow is called once per newly flagged product.
	OnLow func(businessID string)
}

// moves lists the events that change a product's available-to-sell count.
var moves = map[string]bool{
	orders.EventBillCompleted:  true,
	orders.EventDraftCreated:   true,
	orders.EventDraftUpdated:   true,
	orders.EventDraftFinalized: true,
	orders.EventDraftCancelled: true,
}

// HandleBillEvent is the consumer handler for the bill lifecycle topic.
func (s *Service) HandleBillEvent(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// poison message; committing it is the only way past
		log.Printf("[stockwatch] drop undecodable message offset=%d: %v", m.Offset, err)
		return nil
	}
	if !moves[env.EventType] {
		return nil
	}

	first, err := s.Alerts.FirstSeen(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		return nil
	}
	if err := s.process(ctx, env); err != nil {
		if ferr := s.Alerts.Forget(ctx, env.EventID); ferr != nil {
			log.Printf("[stockwatch] WARN: forget %s: %v", env.EventID, ferr)
		}
		return err
	}
	return nil
}

func (s *Service) process(ctx context.Context, env orders.Envelope) error {
	p, err := kafkax.UnwrapPayload[orders.BillEventPayload](env.Payload)
	if err != nil {
		log.Printf("[stockwatch] drop %s %s: %v", env.EventType, env.EventID, err)
		return nil
	}
	ids := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		ids = append(ids, it.ProductID)
	}
	if len(ids) == 0 {
		return nil
	}

	// counters in the payload may be stale; re-read the rows
	products, err := s.Products.GetProducts(ctx, p.BusinessID, ids)
	if err != nil {
		return fmt.Errorf("read products: %w", err)
	}
	for _, id := range ids {
		prod, ok := products[id]
		if !ok {
			continue
		}
		if !prod.LowStock() {
			if err := s.Alerts.ClearLow(ctx, p.BusinessID, id); err != nil {
				return err
			}
			continue
		}
		fresh, err := s.Alerts.MarkLow(ctx, p.BusinessID, id)
		if err != nil {
			return err
		}
		if fresh {
			s.raise(prod, env.TraceID)
		}
	}
	return nil
}

func (s *Service) raise(p orders.Product, trace string) {
	log.Printf("[stockwatch] %s low: available=%d threshold=%d", p.Name, p.AvailableToSell(), p.LowStockThreshold)
	if s.OnLow != nil {
		s.OnLow(p.BusinessID)
	}
	if s.Events == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventStockLow,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       trace,
		CorrelationID: p.ID,
		Payload: kafkax.MustMarshal(orders.StockLowPayload{
			BusinessID:      p.BusinessID,
			ProductID:       p.ID,
			ProductName:     p.Name,
			AvailableToSell: p.AvailableToSell(),
			Threshold:       p.LowStockThreshold,
		}),
	}
	s.Events.PublishEvent(orders.PartitionKey(p.ID), orders.EventStockLow, kafkax.MustMarshal(ev))
}
