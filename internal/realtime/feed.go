// Package realtime provides the change feed and presence primitives that the
// collaboration layer builds on. Durable table changes flow through a Feed,
// ephemeral liveness flows through Presence. Feed delivery is at-least-once:
// consumers must deduplicate by row primary key.
package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of row change carried by a TableEvent.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// TableEvent describes a single row change on a durable table.
// Row carries the full row as JSON; for deletes it holds the old row.
type TableEvent struct {
	ID    uuid.UUID       `json:"id"`
	Table string          `json:"table"`
	Type  EventType       `json:"type"`
	Row   json.RawMessage `json:"row"`
	At    time.Time       `json:"at"`
}

// NewTableEvent builds a TableEvent for a row, marshaling it to JSON.
func NewTableEvent(table string, typ EventType, row any) (TableEvent, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return TableEvent{}, err
	}
	return TableEvent{
		ID:    uuid.New(),
		Table: table,
		Type:  typ,
		Row:   raw,
		At:    time.Now(),
	}, nil
}

// Feed publishes and subscribes to per-table change events.
//
// Subscribe handlers run on the feed's delivery goroutine; they must not
// block for long. The same event may be delivered more than once.
type Feed interface {
	Publish(ctx context.Context, event TableEvent) error
	Subscribe(ctx context.Context, table string, fn func(TableEvent)) (*Subscription, error)
}
