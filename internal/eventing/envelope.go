package eventing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"dvp-ledger/internal/eventing/eventbus"
)

// Envelope is the persisted form of a ledger notification.
type Envelope struct {
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	SettlementID uint64          `json:"settlement_id,omitempty"`
	Node         string          `json:"node,omitempty"`
	Actor        string          `json:"actor,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Payload      json.RawMessage `json:"payload"`
}

// SettlementScoped is implemented by events tied to one settlement. The id
// is lifted onto the envelope for dead-letter triage and idempotency marks.
type SettlementScoped interface {
	SettlementRef() uint64
}

// Meta carries publisher context stamped onto envelopes.
type Meta struct {
	Node  string
	Actor string
}

// BuildEnvelope wraps an event for the outbox.
func BuildEnvelope(event any, meta Meta) (Envelope, error) {
	if event == nil {
		return Envelope{}, eventbus.ErrNilEvent
	}
	eventType := eventbus.EventType(event)
	if eventType == "" {
		return Envelope{}, eventbus.ErrInvalidEventType
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}
	env := Envelope{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		Node:       meta.Node,
		Actor:      meta.Actor,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
	if scoped, ok := event.(SettlementScoped); ok {
		env.SettlementID = scoped.SettlementRef()
	}
	return env, nil
}

// ErrEmptyEnvelope is returned when an envelope lacks an event id.
var ErrEmptyEnvelope = errors.New("eventing: empty envelope")

type ctxKey int

const (
	envelopeKey ctxKey = iota
	actorKey
)

// WithEnvelope attaches the in-flight envelope to the context for consumers.
func WithEnvelope(ctx context.Context, env Envelope) context.Context {
	return context.WithValue(ctx, envelopeKey, env)
}

// EnvelopeFromContext returns the in-flight envelope, if any.
func EnvelopeFromContext(ctx context.Context) (Envelope, bool) {
	env, ok := ctx.Value(envelopeKey).(Envelope)
	return env, ok
}

// WithActor records the acting party for envelopes published downstream.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// MetaFromContext assembles envelope metadata from the context and the
// publisher's node id.
func MetaFromContext(ctx context.Context, node string) Meta {
	meta := Meta{Node: node}
	if actor, ok := ctx.Value(actorKey).(string); ok {
		meta.Actor = actor
	}
	return meta
}
