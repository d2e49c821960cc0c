package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/progfed/progfed/internal/eventbus"
)

func TestSubscribeDelegatesToLocalBus(t *testing.T) {
	bus := eventbus.NewBus(testLogger())
	s := NewSubscriber(bus)

	var got []eventbus.Event
	unsub, err := s.Subscribe([]string{EventDeliverableSubmitted}, func(e eventbus.Event) {
		got = append(got, e)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	bus.Publish(eventbus.New(EventDeliverableSubmitted, "P1", map[string]any{"deliverableId": "DEL-1"}))

	if len(got) != 1 {
		t.Fatalf("expected one delivery, got %d", len(got))
	}
	if got[0].Data["deliverableId"] != "DEL-1" {
		t.Fatalf("expected payload forwarded, got %v", got[0].Data)
	}
}

func TestSubscribeRejectsEmptyTypeSet(t *testing.T) {
	s := NewSubscriber(eventbus.NewBus(testLogger()))

	_, err := s.Subscribe(nil, func(eventbus.Event) {})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestSubscriberDefaultsToProcessBus(t *testing.T) {
	isolated := eventbus.NewBus(testLogger())
	eventbus.SetDefault(isolated)
	t.Cleanup(func() { eventbus.SetDefault(nil) })

	s := NewSubscriber(nil)
	fired := false
	unsub, err := s.Subscribe([]string{EventMilestoneCompleted}, func(eventbus.Event) { fired = true })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	isolated.Publish(eventbus.New(EventMilestoneCompleted, "P2", nil))

	if !fired {
		t.Fatal("expected handler registered on the process default bus")
	}
}

func TestBridgeNoopMirror(t *testing.T) {
	b, err := NewBridge("", "", testLogger())
	if err != nil {
		t.Fatalf("new bridge: %v", err)
	}
	defer b.Close()

	evt := eventbus.New(EventComplianceAlert, "P3", map[string]any{"severity": "high"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := b.Mirror(ctx, evt); err != nil {
		t.Fatalf("expected no-op mirror to succeed, got %v", err)
	}
}
