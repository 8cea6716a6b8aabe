package events

import (
	"sync"

	"go.uber.org/zap"
)

// HandlerFunc consumes a domain event. Handlers run synchronously on the
// publisher's goroutine and must not block.
type HandlerFunc func(Event)

// Bus fans domain events out to subscribed handlers within the process.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
	logger   *zap.Logger
}

// NewBus creates an empty event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]HandlerFunc),
		logger:   logger,
	}
}

// Subscribe registers fn for each of the given event types.
func (b *Bus) Subscribe(fn HandlerFunc, types ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range types {
		b.handlers[t] = append(b.handlers[t], fn)
	}
	b.logger.Debug("subscribed event handler", zap.Strings("event_types", types))
}

// Publish delivers the event to every handler subscribed to its type.
// Events with no subscribers are dropped silently.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := b.handlers[event.EventType()]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	b.logger.Debug("dispatching event",
		zap.String("event_type", event.EventType()),
		zap.String("aggregate_id", event.AggregateID().String()),
		zap.Int("handlers", len(handlers)),
	)

	for _, fn := range handlers {
		fn(event)
	}
}
