package events

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEvent struct {
	BaseEvent
	Payload string
}

func newTestEvent(eventType, payload string) *testEvent {
	return &testEvent{
		BaseEvent: NewBaseEvent(eventType, uuid.New()),
		Payload:   payload,
	}
}

func TestBus_PublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var got []string
	bus.Subscribe(func(e Event) {
		got = append(got, e.(*testEvent).Payload)
	}, "ThingHappened")

	bus.Publish(newTestEvent("ThingHappened", "first"))
	bus.Publish(newTestEvent("ThingHappened", "second"))

	assert.Equal(t, []string{"first", "second"}, got)
}

func TestBus_FiltersByEventType(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var created, deleted int
	bus.Subscribe(func(Event) { created++ }, "Created")
	bus.Subscribe(func(Event) { deleted++ }, "Deleted")

	bus.Publish(newTestEvent("Created", ""))
	bus.Publish(newTestEvent("Created", ""))
	bus.Publish(newTestEvent("Deleted", ""))

	assert.Equal(t, 2, created)
	assert.Equal(t, 1, deleted)
}

func TestBus_SubscribeMultipleTypes(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var seen []string
	bus.Subscribe(func(e Event) {
		seen = append(seen, e.EventType())
	}, "Joined", "Left")

	bus.Publish(newTestEvent("Joined", ""))
	bus.Publish(newTestEvent("Left", ""))
	bus.Publish(newTestEvent("Renamed", ""))

	assert.Equal(t, []string{"Joined", "Left"}, seen)
}

func TestBus_PublishWithoutSubscribersIsNoOp(t *testing.T) {
	bus := NewBus(zap.NewNop())

	require.NotPanics(t, func() {
		bus.Publish(newTestEvent("Unhandled", ""))
	})
}
