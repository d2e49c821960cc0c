package messaging

import (
	"github.com/progfed/progfed/internal/eventbus"
)

// Subscriber registers interest in event types against the local bus.
// Remote delivery becomes local delivery structurally: the server's
// receiver route republishes inbound envelopes into the same bus, so
// handlers registered here fire for local and forwarded events alike.
type Subscriber struct {
	bus *eventbus.Bus
}

// NewSubscriber creates a Subscriber bound to bus; nil binds to the
// process default bus.
func NewSubscriber(bus *eventbus.Bus) *Subscriber {
	if bus == nil {
		bus = eventbus.Default()
	}
	return &Subscriber{bus: bus}
}

// Subscribe delegates to the local bus and returns its unsubscribe
// function. An empty type set is rejected.
func (s *Subscriber) Subscribe(eventTypes []string, handler eventbus.Handler) (func(), error) {
	if len(eventTypes) == 0 {
		return nil, &ValidationError{Reason: "event type set must not be empty"}
	}
	return s.bus.Subscribe(eventTypes, handler), nil
}
