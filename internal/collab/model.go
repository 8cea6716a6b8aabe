// Package collab implements collaboration rooms: durable membership, the
// invitation lifecycle, live chat and shared code outputs, and the roster
// reconciler that merges durable members with ephemeral presence.
package collab

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Table names double as change-feed topics.
const (
	TableRooms       = "collaboration_rooms"
	TableMembers     = "collaboration_members"
	TableInvitations = "collaboration_invitations"
	TableMessages    = "collaboration_messages"
	TableOutputs     = "collaboration_outputs"
)

// DefaultRoomCapacity is the member cap applied to new rooms.
const DefaultRoomCapacity = 4

// Room is a named collaboration space.
type Room struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name    string    `gorm:"not null" json:"name"`
	OwnerID uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_id"`
	// MaxUsers caps the number of members, owner included.
	MaxUsers int `gorm:"not null;default:4" json:"max_users"`
	// InvitedEmails records the addresses invited at creation time.
	InvitedEmails pq.StringArray `gorm:"type:text[]" json:"invited_emails,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (Room) TableName() string {
	return TableRooms
}

// MemberStatus is the durable status of a room member.
type MemberStatus string

const (
	MemberStatusActive MemberStatus = "active"
)

// Member is a participant's durable association with a room.
// Unique per (room, user): re-joining upserts instead of duplicating.
type Member struct {
	ID       uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	RoomID   uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:idx_members_room_user" json:"room_id"`
	UserID   uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:idx_members_room_user" json:"user_id"`
	Username string       `gorm:"not null" json:"username"`
	Status   MemberStatus `gorm:"not null;default:active" json:"status"`
	JoinedAt time.Time    `json:"joined_at"`
}

func (Member) TableName() string {
	return TableMembers
}

// InvitationStatus is the lifecycle state of an invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
)

// Invitation is a pending offer for a user to join a room. The invitee is
// identified by resolved user ID when the address matched a known account,
// and always by email. Transitions to accepted or declined exactly once.
type Invitation struct {
	ID           uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	RoomID       uuid.UUID        `gorm:"type:uuid;not null;index" json:"room_id"`
	InviterID    uuid.UUID        `gorm:"type:uuid;not null" json:"inviter_id"`
	InviteeID    *uuid.UUID       `gorm:"type:uuid;index" json:"invitee_id,omitempty"`
	InviteeEmail string           `gorm:"not null;index" json:"invitee_email"`
	Status       InvitationStatus `gorm:"not null;default:pending" json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func (Invitation) TableName() string {
	return TableInvitations
}

// Message is a chat message posted in a room.
type Message struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RoomID    uuid.UUID `gorm:"type:uuid;not null;index" json:"room_id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null" json:"user_id"`
	Username  string    `gorm:"not null" json:"username"`
	Content   string    `gorm:"not null" json:"content"`
	IsAI      bool      `gorm:"not null;default:false" json:"is_ai"`
	CreatedAt time.Time `json:"created_at"`
}

func (Message) TableName() string {
	return TableMessages
}

// Output is a shared code execution result.
type Output struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RoomID    uuid.UUID `gorm:"type:uuid;not null;index" json:"room_id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null" json:"user_id"`
	Username  string    `gorm:"not null" json:"username"`
	Code      string    `gorm:"not null" json:"code"`
	Output    string    `json:"output"`
	Language  string    `gorm:"not null" json:"language"`
	CreatedAt time.Time `json:"created_at"`
}

func (Output) TableName() string {
	return TableOutputs
}
