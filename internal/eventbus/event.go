package eventbus

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope carried by every domain event in the federation:
// a type tag, the program it correlates to, and an opaque payload whose
// shape is the concern of subscribers, not the bus.
type Event struct {
	EventID   string         `json:"eventId,omitempty"`
	EventType string         `json:"eventType"`
	ProgramID string         `json:"programId"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// New builds an event stamped with the current UTC time and a fresh id.
func New(eventType, programID string, data map[string]any) Event {
	return Event{
		EventID:   uuid.NewString(),
		EventType: eventType,
		ProgramID: programID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Validate enforces the minimal required-fields contract checked at the
// receiver boundary.
func (e Event) Validate() error {
	if e.EventType == "" {
		return fmt.Errorf("event: eventType must not be empty")
	}
	if e.ProgramID == "" {
		return fmt.Errorf("event: programId must not be empty")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event: timestamp must be set")
	}
	return nil
}
