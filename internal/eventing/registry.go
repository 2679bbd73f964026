package eventing

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"dvp-ledger/internal/eventing/eventbus"
)

// Registry maps event type names to typed payload decoders. Only registered
// types can leave the outbox; anything else dead-letters at dispatch.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]func(json.RawMessage) (any, error)
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]func(json.RawMessage) (any, error))}
}

// RegisterType registers a decoder for T under its event type name.
func RegisterType[T any](r *Registry) {
	if r == nil {
		return
	}
	name := eventbus.EventTypeOf[T]()
	r.mu.Lock()
	r.decoders[name] = func(raw json.RawMessage) (any, error) {
		var event T
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, err
		}
		return event, nil
	}
	r.mu.Unlock()
}

// DecodePayload decodes an envelope payload into its concrete event.
func (r *Registry) DecodePayload(env Envelope) (any, error) {
	if r == nil {
		return nil, fmt.Errorf("eventing: nil registry")
	}
	r.mu.RLock()
	decode := r.decoders[env.EventType]
	r.mu.RUnlock()
	if decode == nil {
		return nil, fmt.Errorf("eventing: unregistered event type %q", env.EventType)
	}
	return decode(env.Payload)
}

// Types lists the registered event type names, sorted.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	names := make([]string, 0, len(r.decoders))
	for name := range r.decoders {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
