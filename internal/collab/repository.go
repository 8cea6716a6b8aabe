package collab

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/codehive/server/internal/realtime"
	"github.com/codehive/server/internal/shared/metrics"
)

// Repository defines the interface for collaboration data access.
//
// Mutating operations publish a change event for the affected table after
// the row is committed. Publishing is best-effort: a feed failure never
// fails the mutation, since subscribers reload from the durable tables.
type Repository interface {
	// Room operations
	CreateRoomWithOwner(ctx context.Context, room *Room, owner *Member) error
	GetRoomByID(ctx context.Context, id uuid.UUID) (*Room, error)
	GetRoomByOwnerAndName(ctx context.Context, ownerID uuid.UUID, name string) (*Room, error)
	ListRoomsByUser(ctx context.Context, userID uuid.UUID) ([]*Room, error)

	// Member operations
	UpsertMember(ctx context.Context, member *Member) error
	GetMember(ctx context.Context, roomID, userID uuid.UUID) (*Member, error)
	ListMembers(ctx context.Context, roomID uuid.UUID) ([]*Member, error)
	CountMembers(ctx context.Context, roomID uuid.UUID) (int, error)
	RemoveMember(ctx context.Context, roomID, userID uuid.UUID) error

	// Invitation operations
	CreateInvitation(ctx context.Context, invitation *Invitation) error
	GetInvitationByID(ctx context.Context, id uuid.UUID) (*Invitation, error)
	GetPendingInvitationByEmail(ctx context.Context, roomID uuid.UUID, email string) (*Invitation, error)
	ListPendingInvitations(ctx context.Context, inviteeID uuid.UUID, inviteeEmail string) ([]*Invitation, error)
	UpdateInvitationStatus(ctx context.Context, id uuid.UUID, from, to InvitationStatus) error

	// Chat and output operations
	CreateMessage(ctx context.Context, message *Message) error
	ListMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]*Message, error)
	CreateOutput(ctx context.Context, output *Output) error
	ListOutputs(ctx context.Context, roomID uuid.UUID, limit int) ([]*Output, error)
}

// repository implements Repository using GORM, emitting change events
// through a realtime.Feed.
type repository struct {
	db      *gorm.DB
	feed    realtime.Feed
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRepository creates a new collaboration repository. Metrics may be nil.
func NewRepository(db *gorm.DB, feed realtime.Feed, m *metrics.Metrics, logger *zap.Logger) Repository {
	return &repository{db: db, feed: feed, metrics: m, logger: logger}
}

// publish emits a table change event. Failures are logged, not returned.
func (r *repository) publish(ctx context.Context, table string, typ realtime.EventType, row any) {
	event, err := realtime.NewTableEvent(table, typ, row)
	if err != nil {
		r.logger.Warn("encode change event failed", zap.String("table", table), zap.Error(err))
		return
	}
	if err := r.feed.Publish(ctx, event); err != nil {
		r.logger.Warn("publish change event failed", zap.String("table", table), zap.Error(err))
		return
	}
	if r.metrics != nil {
		r.metrics.FeedEventsTotal.WithLabelValues(table, string(typ)).Inc()
	}
}

// CreateRoomWithOwner creates a room and its owner member row in one
// transaction. A failed member insert leaves no room behind, so the owner
// can retry under the same name.
func (r *repository) CreateRoomWithOwner(ctx context.Context, room *Room, owner *Member) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(room).Error; err != nil {
			return err
		}
		return tx.Create(owner).Error
	})
	if err != nil {
		return err
	}
	r.publish(ctx, TableRooms, realtime.EventInsert, room)
	r.publish(ctx, TableMembers, realtime.EventInsert, owner)
	return nil
}

// GetRoomByID retrieves a room by ID.
func (r *repository) GetRoomByID(ctx context.Context, id uuid.UUID) (*Room, error) {
	var room Room
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// GetRoomByOwnerAndName retrieves an owner's room by name.
func (r *repository) GetRoomByOwnerAndName(ctx context.Context, ownerID uuid.UUID, name string) (*Room, error) {
	var room Room
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND name = ?", ownerID, name).
		First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// ListRoomsByUser retrieves the rooms the user is a member of, newest first.
func (r *repository) ListRoomsByUser(ctx context.Context, userID uuid.UUID) ([]*Room, error) {
	var rooms []*Room
	err := r.db.WithContext(ctx).
		Joins("JOIN collaboration_members ON collaboration_members.room_id = collaboration_rooms.id").
		Where("collaboration_members.user_id = ?", userID).
		Order("collaboration_rooms.created_at DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

// UpsertMember inserts a member or refreshes the existing row for the same
// (room, user) pair. Re-joining never duplicates.
func (r *repository) UpsertMember(ctx context.Context, member *Member) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "status", "joined_at"}),
		}).
		Create(member).Error
	if err != nil {
		return err
	}
	r.publish(ctx, TableMembers, realtime.EventInsert, member)
	return nil
}

// GetMember retrieves a room member by user ID.
func (r *repository) GetMember(ctx context.Context, roomID, userID uuid.UUID) (*Member, error) {
	var member Member
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotAMember
		}
		return nil, err
	}
	return &member, nil
}

// ListMembers retrieves all members of a room in join order.
func (r *repository) ListMembers(ctx context.Context, roomID uuid.UUID) ([]*Member, error) {
	var members []*Member
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("joined_at ASC").
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

// CountMembers counts the members of a room.
func (r *repository) CountMembers(ctx context.Context, roomID uuid.UUID) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Member{}).
		Where("room_id = ?", roomID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// RemoveMember deletes the member row for (room, user).
func (r *repository) RemoveMember(ctx context.Context, roomID, userID uuid.UUID) error {
	var member Member
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotAMember
		}
		return err
	}

	if err := r.db.WithContext(ctx).Delete(&member).Error; err != nil {
		return err
	}
	r.publish(ctx, TableMembers, realtime.EventDelete, &member)
	return nil
}

// CreateInvitation creates a new invitation.
func (r *repository) CreateInvitation(ctx context.Context, invitation *Invitation) error {
	if err := r.db.WithContext(ctx).Create(invitation).Error; err != nil {
		return err
	}
	r.publish(ctx, TableInvitations, realtime.EventInsert, invitation)
	return nil
}

// GetInvitationByID retrieves an invitation by ID.
func (r *repository) GetInvitationByID(ctx context.Context, id uuid.UUID) (*Invitation, error) {
	var invitation Invitation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&invitation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvitationNotFound
		}
		return nil, err
	}
	return &invitation, nil
}

// GetPendingInvitationByEmail retrieves a pending invitation for the
// (room, email) pair, case-insensitively.
func (r *repository) GetPendingInvitationByEmail(ctx context.Context, roomID uuid.UUID, email string) (*Invitation, error) {
	var invitation Invitation
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND LOWER(invitee_email) = ? AND status = ?",
			roomID, strings.ToLower(email), InvitationPending).
		First(&invitation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvitationNotFound
		}
		return nil, err
	}
	return &invitation, nil
}

// ListPendingInvitations retrieves pending invitations addressed to the
// user by resolved ID or by email, case-insensitively. The OR can match the
// same row twice at the logical level; callers deduplicate by invitation ID.
func (r *repository) ListPendingInvitations(ctx context.Context, inviteeID uuid.UUID, inviteeEmail string) ([]*Invitation, error) {
	var invitations []*Invitation
	err := r.db.WithContext(ctx).
		Where("status = ? AND (invitee_id = ? OR LOWER(invitee_email) = ?)",
			InvitationPending, inviteeID, strings.ToLower(inviteeEmail)).
		Order("created_at DESC").
		Find(&invitations).Error
	if err != nil {
		return nil, err
	}
	return invitations, nil
}

// UpdateInvitationStatus transitions an invitation from one status to
// another. The update is guarded on the current status so a transition
// happens exactly once even under concurrent responders.
func (r *repository) UpdateInvitationStatus(ctx context.Context, id uuid.UUID, from, to InvitationStatus) error {
	result := r.db.WithContext(ctx).
		Model(&Invitation{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Either the row is gone or another responder won the race.
		if _, err := r.GetInvitationByID(ctx, id); err != nil {
			return err
		}
		return ErrInvitationProcessed
	}

	invitation, err := r.GetInvitationByID(ctx, id)
	if err == nil {
		r.publish(ctx, TableInvitations, realtime.EventUpdate, invitation)
	}
	return nil
}

// CreateMessage creates a chat message.
func (r *repository) CreateMessage(ctx context.Context, message *Message) error {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		return err
	}
	r.publish(ctx, TableMessages, realtime.EventInsert, message)
	return nil
}

// ListMessages retrieves the latest messages for a room in ascending order.
func (r *repository) ListMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]*Message, error) {
	var messages []*Message
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	reverseSlice(messages)
	return messages, nil
}

// CreateOutput creates a shared code output.
func (r *repository) CreateOutput(ctx context.Context, output *Output) error {
	if err := r.db.WithContext(ctx).Create(output).Error; err != nil {
		return err
	}
	r.publish(ctx, TableOutputs, realtime.EventInsert, output)
	return nil
}

// ListOutputs retrieves the latest outputs for a room in ascending order.
func (r *repository) ListOutputs(ctx context.Context, roomID uuid.UUID, limit int) ([]*Output, error) {
	var outputs []*Output
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Limit(limit).
		Find(&outputs).Error
	if err != nil {
		return nil, err
	}
	reverseSlice(outputs)
	return outputs, nil
}

func reverseSlice[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
