package es

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// EventTyper is implemented by every event payload. The returned tag is the
// stable wire name of the event ("plan.created"); renaming the Go type must
// not change it.
type EventTyper interface {
	EventType() string
}

// EventRegistry maps event type tags to constructors so persisted envelopes
// can be decoded back into typed events. The set of tags is closed: decoding
// an unregistered tag fails with ErrUnknownEventType.
type EventRegistry struct {
	mu    sync.RWMutex
	ctors map[string]func() any
}

func NewRegistry() *EventRegistry {
	return &EventRegistry{ctors: map[string]func() any{}}
}

// Register binds an event type tag to a constructor. Registering the same
// tag twice panics: tag collisions silently decoding into the wrong type are
// programmer errors caught at startup.
func (r *EventRegistry) Register(eventType string, ctor func() any) {
	if eventType == "" {
		panic("es: register with empty event type")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ctors[eventType]; exists {
		panic(fmt.Sprintf("es: event type %q registered twice", eventType))
	}
	r.ctors[eventType] = ctor
}

// Decode constructs the typed event for env and unmarshals the payload into
// it. The returned value is a pointer to a fresh instance per call.
func (r *EventRegistry) Decode(env Envelope) (any, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[env.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.Type)
	}
	ev := ctor()
	if env.Data != nil {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
	}
	return ev, nil
}

// Types returns the registered event type tags, sorted.
func (r *EventRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ctors))
	for t := range r.ctors {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Registrar is the registration surface aggregates see in their Register
// hook.
type Registrar interface {
	Register(eventType string, ctor func() any)
}

// Event returns a constructor producing a fresh *T per call.
func Event[T any]() func() any { return func() any { return new(T) } }

// RegisterEvents registers each constructor under the tag its sample value
// reports via EventType. Constructors whose events do not implement
// EventTyper panic; event types are declared explicitly, never derived from
// Go type names.
func RegisterEvents(r Registrar, ctors ...func() any) {
	for _, ctor := range ctors {
		sample := ctor()
		tag, err := eventTypeOf(sample)
		if err != nil {
			panic(fmt.Sprintf("es: register events: %v", err))
		}
		r.Register(tag, ctor)
	}
}

func eventTypeOf(ev any) (string, error) {
	t, ok := ev.(EventTyper)
	if !ok {
		return "", fmt.Errorf("event %T does not implement EventType() string", ev)
	}
	tag := t.EventType()
	if tag == "" {
		return "", fmt.Errorf("event %T reports an empty event type", ev)
	}
	return tag, nil
}
