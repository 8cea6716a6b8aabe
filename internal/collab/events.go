package collab

import (
	"github.com/google/uuid"

	"github.com/codehive/server/internal/infra/events"
)

// Domain event types.
const (
	EventTypeRoomCreated = "RoomCreated"
	EventTypeRoomJoined  = "RoomJoined"
	EventTypeRoomLeft    = "RoomLeft"
)

// RoomCreatedEvent is published when a room is created.
type RoomCreatedEvent struct {
	events.BaseEvent
	RoomID  uuid.UUID
	Name    string
	OwnerID uuid.UUID
}

// NewRoomCreatedEvent creates a RoomCreatedEvent.
func NewRoomCreatedEvent(room *Room) *RoomCreatedEvent {
	return &RoomCreatedEvent{
		BaseEvent: events.NewBaseEvent(EventTypeRoomCreated, room.ID),
		RoomID:    room.ID,
		Name:      room.Name,
		OwnerID:   room.OwnerID,
	}
}

// RoomJoinedEvent is published when a user becomes a member, either through
// accepting an invitation or owning a newly created room. Views showing a
// room list refresh on this event instead of re-querying on a timer.
type RoomJoinedEvent struct {
	events.BaseEvent
	RoomID   uuid.UUID
	UserID   uuid.UUID
	Username string
}

// NewRoomJoinedEvent creates a RoomJoinedEvent.
func NewRoomJoinedEvent(roomID, userID uuid.UUID, username string) *RoomJoinedEvent {
	return &RoomJoinedEvent{
		BaseEvent: events.NewBaseEvent(EventTypeRoomJoined, roomID),
		RoomID:    roomID,
		UserID:    userID,
		Username:  username,
	}
}

// RoomLeftEvent is published when a user leaves a room.
type RoomLeftEvent struct {
	events.BaseEvent
	RoomID uuid.UUID
	UserID uuid.UUID
}

// NewRoomLeftEvent creates a RoomLeftEvent.
func NewRoomLeftEvent(roomID, userID uuid.UUID) *RoomLeftEvent {
	return &RoomLeftEvent{
		BaseEvent: events.NewBaseEvent(EventTypeRoomLeft, roomID),
		RoomID:    roomID,
		UserID:    userID,
	}
}
