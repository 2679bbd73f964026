package eventing

import (
	"context"
	"log/slog"
	"time"

	"dvp-ledger/internal/eventing/eventbus"
	"dvp-ledger/internal/observability/metrics"
)

// Publisher writes ledger notifications to the outbox. A nil publisher or
// writer degrades to a no-op: notifications are at-least-informational and
// must never fail a ledger mutation.
type Publisher struct {
	outbox OutboxWriter
	node   string
	sub    Subscriber
}

// OutboxWriter inserts outbox records.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// Subscriber registers handlers.
type Subscriber interface {
	Subscribe(eventType string, handler eventbus.EventHandler)
}

// NewPublisher constructs a publisher stamping envelopes with the node id.
func NewPublisher(outbox OutboxWriter, node string, sub Subscriber) *Publisher {
	return &Publisher{outbox: outbox, node: node, sub: sub}
}

// Publish writes the event to the outbox.
func (p *Publisher) Publish(ctx context.Context, event any) error {
	start := time.Now()
	result := metrics.ResultSuccess
	if p == nil || p.outbox == nil {
		metrics.ObserveOutboxPublish(result, time.Since(start))
		return nil
	}
	meta := MetaFromContext(ctx, p.node)
	env, err := BuildEnvelope(event, meta)
	if err != nil {
		result = metrics.ResultError
		metrics.ObserveOutboxPublish(result, time.Since(start))
		return err
	}
	if _, err := p.outbox.Insert(ctx, env); err != nil {
		result = metrics.ResultError
		metrics.ObserveOutboxPublish(result, time.Since(start))
		return err
	}
	duration := time.Since(start)
	metrics.ObserveOutboxPublish(result, duration)
	if duration > 50*time.Millisecond {
		slog.Warn("slow outbox publish",
			"duration_ms", duration.Milliseconds(),
			"event_type", env.EventType,
		)
	}
	return nil
}

// Subscribe delegates to the underlying subscriber when available.
func (p *Publisher) Subscribe(eventType string, handler eventbus.EventHandler) {
	if p == nil || p.sub == nil {
		return
	}
	p.sub.Subscribe(eventType, handler)
}
