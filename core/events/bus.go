// Package events provides an in-process publish/subscribe bus.
// Transports publish delivery notifications on it; observers such as
// metrics and tests subscribe by name or wildcard.
package events

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Event represents a published notification.
type Event struct {
	// Name is the event name (e.g., "socket.message_sent").
	Name string

	// Source identifies the component that published the event.
	Source string

	// Data carries the event payload.
	Data map[string]any
}

// Handler processes an event.
type Handler func(ctx context.Context, event Event) error

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a publish/subscribe event bus. A nil *Bus drops every event.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]subscription
	logger   zerolog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]subscription),
		logger:   logger,
	}
}

// Subscribe registers a handler and returns a function that removes it.
// Supports wildcard subscriptions:
//   - "socket.message_sent" - exact match
//   - "socket.*" - all socket events
//   - "*" - all events
func (b *Bus) Subscribe(event string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[event] = append(b.handlers[event], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[event]
		for i, s := range subs {
			if s.id == id {
				b.handlers[event] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(b.handlers[event]) == 0 {
			delete(b.handlers, event)
		}
	}
}

// Publish delivers an event to all matching handlers synchronously, in
// registration order: exact subscribers, then prefix wildcard, then "*".
// Handler errors are logged and do not stop delivery.
func (b *Bus) Publish(ctx context.Context, event Event) {
	if b == nil {
		return
	}

	matched := b.match(event.Name)

	b.logger.Debug().
		Str("event", event.Name).
		Str("source", event.Source).
		Int("subscribers", len(matched)).
		Msg("event published")

	for _, handler := range matched {
		if err := handler(ctx, event); err != nil {
			b.logger.Error().
				Err(err).
				Str("event", event.Name).
				Msg("event handler error")
		}
	}
}

// HasSubscribers reports whether any handler would receive the event.
func (b *Bus) HasSubscribers(event string) bool {
	if b == nil {
		return false
	}
	return len(b.match(event)) > 0
}

func (b *Bus) match(name string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := []string{name}
	if prefix, _, found := strings.Cut(name, "."); found {
		keys = append(keys, prefix+".*")
	}
	if name != "*" {
		keys = append(keys, "*")
	}

	var matched []Handler
	for _, key := range keys {
		for _, s := range b.handlers[key] {
			matched = append(matched, s.handler)
		}
	}
	return matched
}
