// Package eventbus provides the in-process publish/subscribe primitive each
// federation server owns. Remote events become local ones when the server's
// receiver route republishes inbound envelopes here.
package eventbus

import (
	"log/slog"
	"sync"
)

// Handler consumes one event. Handlers run synchronously inside Publish;
// a panicking handler is isolated and never aborts delivery to the others.
type Handler func(Event)

type subscription struct {
	types   map[string]struct{}
	handler Handler
}

// Bus dispatches events to subscribed handlers by exact event type match.
type Bus struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[int]*subscription),
	}
}

// Subscribe registers handler for the given event types and returns an
// unsubscribe function. Overlapping subscriptions are all invoked
// independently.
func (b *Bus) Subscribe(eventTypes []string, handler Handler) func() {
	types := make(map[string]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = struct{}{}
	}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{types: types, handler: handler}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish invokes every handler subscribed to evt.EventType exactly once.
// The subscription list is snapshotted first so no lock is held while
// handlers run, and handlers may subscribe or unsubscribe reentrantly.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	matched := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if _, ok := sub.types[evt.EventType]; ok {
			matched = append(matched, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range matched {
		b.invoke(h, evt)
	}
}

func (b *Bus) invoke(h Handler, evt Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("event handler panicked",
				"event_type", evt.EventType,
				"program_id", evt.ProgramID,
				"panic", rec,
			)
		}
	}()
	h(evt)
}
