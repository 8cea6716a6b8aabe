// Package events provides the synchronous in-process bus that carries
// domain events between modules.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is a domain event dispatched over the Bus.
type Event interface {
	// EventType names the event, e.g. "RoomJoined".
	EventType() string

	// OccurredAt reports when the event happened.
	OccurredAt() time.Time

	// AggregateID identifies the aggregate the event belongs to.
	AggregateID() uuid.UUID
}

// BaseEvent carries the fields every domain event shares. Embed it in a
// concrete event and add the payload fields on the outer struct.
type BaseEvent struct {
	Type      string    `json:"type"`
	Aggregate uuid.UUID `json:"aggregate_id"`
	At        time.Time `json:"occurred_at"`
}

// NewBaseEvent stamps a BaseEvent with the current time.
func NewBaseEvent(eventType string, aggregateID uuid.UUID) BaseEvent {
	return BaseEvent{
		Type:      eventType,
		Aggregate: aggregateID,
		At:        time.Now(),
	}
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.At
}

func (e BaseEvent) AggregateID() uuid.UUID {
	return e.Aggregate
}
