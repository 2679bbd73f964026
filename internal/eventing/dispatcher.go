package eventing

import (
	"context"
	"log/slog"
	"time"

	"dvp-ledger/internal/observability/metrics"
)

// Failure reasons recorded on dead-lettered envelopes.
const (
	FailureDecode  = "decode"
	FailureDeliver = "deliver"
)

// Dispatcher drains pending outbox envelopes into the in-process bus.
// Envelopes that cannot be decoded or delivered are dead-lettered with the
// failure reason; ledger state is never affected by dispatch failures.
type Dispatcher struct {
	bus      EventBus
	outbox   OutboxStore
	registry *Registry
	dlq      DLQStore
}

// EventBus is the minimal publish interface.
type EventBus interface {
	Publish(ctx context.Context, event any) error
}

// OutboxStore provides access to outbox records.
type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// DLQStore keeps envelopes that could not be delivered, with the reason.
type DLQStore interface {
	RecordFailure(ctx context.Context, env Envelope, reason string, err error) error
}

// OutboxRecord represents a pending outbox entry.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
}

// DispatchResult captures the outcome of a dispatch run.
type DispatchResult struct {
	Requested int
	Claimed   int
	Sent      int
	Failed    int
	DLQ       int
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(bus EventBus, outbox OutboxStore, registry *Registry, dlq DLQStore) *Dispatcher {
	return &Dispatcher{bus: bus, outbox: outbox, registry: registry, dlq: dlq}
}

// Dispatch pulls pending outbox envelopes and delivers them.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) (DispatchResult, error) {
	start := time.Now()
	result := DispatchResult{Requested: limit}
	if d == nil || d.outbox == nil || d.bus == nil || d.registry == nil {
		metrics.ObserveOutboxDispatch(metrics.ResultError, time.Since(start), 0, 0, 0)
		return result, nil
	}
	if limit <= 0 {
		limit = 50
		result.Requested = limit
	}
	records, err := d.outbox.ListPending(ctx, limit)
	if err != nil {
		metrics.ObserveOutboxDispatch(metrics.ResultError, time.Since(start), 0, 0, 0)
		return result, err
	}
	result.Claimed = len(records)
	if result.Claimed == 0 {
		metrics.ObserveOutboxDispatch(metrics.ResultSuccess, time.Since(start), 0, 0, 0)
		return result, nil
	}
	var firstErr error

	for _, record := range records {
		reason, deliverErr := d.deliver(ctx, record.Envelope)
		if deliverErr == nil {
			if markErr := d.outbox.MarkSent(ctx, record.ID); markErr != nil {
				if firstErr == nil {
					firstErr = markErr
				}
				result.Failed++
				continue
			}
			result.Sent++
			continue
		}

		result.Failed++
		if markErr := d.outbox.MarkFailed(ctx, record.ID); markErr != nil && firstErr == nil {
			firstErr = markErr
		}
		if d.dlq != nil {
			if dlqErr := d.dlq.RecordFailure(ctx, record.Envelope, reason, deliverErr); dlqErr == nil {
				result.DLQ++
			}
		}
		slog.Warn("envelope dead-lettered",
			"event_type", record.Envelope.EventType,
			"settlement_id", record.Envelope.SettlementID,
			"reason", reason,
			"error", deliverErr,
		)
	}
	dispatchResult := metrics.ResultSuccess
	if firstErr != nil || result.Failed > 0 {
		dispatchResult = metrics.ResultError
	}
	metrics.ObserveOutboxDispatch(dispatchResult, time.Since(start), result.Sent, result.Failed, result.DLQ)
	return result, firstErr
}

// deliver decodes and publishes one envelope, classifying any failure.
func (d *Dispatcher) deliver(ctx context.Context, env Envelope) (string, error) {
	payload, err := d.registry.DecodePayload(env)
	if err != nil {
		return FailureDecode, err
	}
	if err := d.bus.Publish(WithEnvelope(ctx, env), payload); err != nil {
		return FailureDeliver, err
	}
	return "", nil
}
