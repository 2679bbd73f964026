package eventing

import (
	"context"
	"time"

	"dvp-ledger/internal/eventing/eventbus"
	"dvp-ledger/internal/observability/metrics"
)

// ProcessedStore provides idempotency checks. Marks carry the settlement id
// from the envelope so processed events can be traced back to their record.
type ProcessedStore interface {
	Seen(ctx context.Context, consumer, eventID string) (bool, error)
	Mark(ctx context.Context, consumer, eventID string, settlementID uint64) error
}

// Subscribe wraps the handler with idempotency if a store is provided.
func Subscribe(bus eventbus.EventBus, eventType, consumerName string, handler eventbus.EventHandler, store ProcessedStore) {
	if store == nil {
		bus.Subscribe(eventType, handler)
		return
	}
	bus.Subscribe(eventType, WrapHandler(consumerName, handler, store))
}

// WrapHandler enforces at-most-once handling per consumer.
func WrapHandler(consumerName string, handler eventbus.EventHandler, store ProcessedStore) eventbus.EventHandler {
	return func(ctx context.Context, event any) error {
		env, ok := EnvelopeFromContext(ctx)
		if !ok || env.EventID == "" {
			return handler(ctx, event)
		}
		processed, err := store.Seen(ctx, consumerName, env.EventID)
		if err != nil {
			return err
		}
		if processed {
			return nil
		}
		if !env.OccurredAt.IsZero() {
			metrics.ObserveConsumerLag(consumerName, time.Since(env.OccurredAt))
		}
		if err := handler(ctx, event); err != nil {
			return err
		}
		return store.Mark(ctx, consumerName, env.EventID, env.SettlementID)
	}
}
