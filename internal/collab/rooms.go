package collab

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/codehive/server/internal/auth"
	"github.com/codehive/server/internal/infra/events"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// RoomService manages rooms, their membership, and outbound invitations.
type RoomService struct {
	repo      Repository
	directory UserDirectory
	bus       *events.Bus
	logger    *zap.Logger

	capacity   int
	maxInvites int
}

// NewRoomService creates a RoomService. capacity caps room membership;
// maxInvites caps invitations sent at creation time. Zero values fall back
// to the defaults.
func NewRoomService(repo Repository, directory UserDirectory, bus *events.Bus, capacity, maxInvites int, logger *zap.Logger) *RoomService {
	if capacity <= 0 {
		capacity = DefaultRoomCapacity
	}
	if maxInvites <= 0 {
		maxInvites = capacity - 1
	}
	return &RoomService{
		repo:       repo,
		directory:  directory,
		bus:        bus,
		logger:     logger,
		capacity:   capacity,
		maxInvites: maxInvites,
	}
}

// CreateRoomRequest carries the fields needed to create a room.
type CreateRoomRequest struct {
	Name         string   `json:"name" binding:"required"`
	InviteEmails []string `json:"invite_emails"`
}

// Create creates a room owned by the caller, adds the owner as its first
// member, and sends invitations to the given addresses. Room names are
// unique per owner.
func (s *RoomService) Create(ctx context.Context, owner auth.Identity, req *CreateRoomRequest) (*Room, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrEmptyRoomName
	}
	if len(req.InviteEmails) > s.maxInvites {
		return nil, fmt.Errorf("%w: at most %d at creation", ErrTooManyInvites, s.maxInvites)
	}

	emails := make([]string, 0, len(req.InviteEmails))
	for _, raw := range req.InviteEmails {
		email := strings.ToLower(strings.TrimSpace(raw))
		if email == "" {
			continue
		}
		if !emailPattern.MatchString(email) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, raw)
		}
		if strings.EqualFold(email, owner.Email) {
			return nil, ErrSelfInvite
		}
		emails = append(emails, email)
	}

	if _, err := s.repo.GetRoomByOwnerAndName(ctx, owner.UserID, name); err == nil {
		return nil, ErrRoomExists
	} else if !errors.Is(err, ErrRoomNotFound) {
		return nil, fmt.Errorf("check room name: %w", err)
	}

	room := &Room{
		ID:            uuid.New(),
		Name:          name,
		OwnerID:       owner.UserID,
		MaxUsers:      s.capacity,
		InvitedEmails: pq.StringArray(emails),
	}
	ownerName := owner.Email
	if info, err := s.directory.ByID(ctx, owner.UserID); err == nil {
		ownerName = info.DisplayName
	}
	member := &Member{
		ID:       uuid.New(),
		RoomID:   room.ID,
		UserID:   owner.UserID,
		Username: ownerName,
		Status:   MemberStatusActive,
		JoinedAt: time.Now(),
	}

	// Room and owner member land atomically: a room without its owner
	// would block the name forever while being unusable.
	if err := s.repo.CreateRoomWithOwner(ctx, room, member); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	for _, email := range emails {
		if err := s.createInvitation(ctx, room.ID, owner, email); err != nil {
			// The room exists and is usable; a failed invite is retried
			// manually by the owner.
			s.logger.Warn("invite at room creation failed",
				zap.String("room_id", room.ID.String()),
				zap.String("email", email),
				zap.Error(err),
			)
		}
	}

	s.bus.Publish(NewRoomCreatedEvent(room))
	s.bus.Publish(NewRoomJoinedEvent(room.ID, owner.UserID, ownerName))
	return room, nil
}

// Get retrieves a room by ID.
func (s *RoomService) Get(ctx context.Context, id uuid.UUID) (*Room, error) {
	return s.repo.GetRoomByID(ctx, id)
}

// RoomSummary pairs a room with its current member count for list views.
type RoomSummary struct {
	*Room
	MemberCount int `json:"member_count"`
}

// List retrieves the rooms the user belongs to, with member counts. A
// failed count is reported as zero rather than failing the listing.
func (s *RoomService) List(ctx context.Context, userID uuid.UUID) ([]*RoomSummary, error) {
	rooms, err := s.repo.ListRoomsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]*RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		count, err := s.repo.CountMembers(ctx, room.ID)
		if err != nil {
			s.logger.Warn("count members failed",
				zap.String("room_id", room.ID.String()), zap.Error(err))
			count = 0
		}
		summaries = append(summaries, &RoomSummary{Room: room, MemberCount: count})
	}
	return summaries, nil
}

// Members retrieves the durable member list of a room.
func (s *RoomService) Members(ctx context.Context, roomID uuid.UUID) ([]*Member, error) {
	if _, err := s.repo.GetRoomByID(ctx, roomID); err != nil {
		return nil, err
	}
	return s.repo.ListMembers(ctx, roomID)
}

// Invite sends a pending invitation for the email to join the room. An
// existing pending invitation for the same (room, email) pair makes the
// call a no-op rather than an error. The room must have capacity left and
// the inviter must be a member.
func (s *RoomService) Invite(ctx context.Context, roomID uuid.UUID, inviter auth.Identity, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailPattern.MatchString(email) {
		return ErrInvalidEmail
	}
	if strings.EqualFold(email, inviter.Email) {
		return ErrSelfInvite
	}

	room, err := s.repo.GetRoomByID(ctx, roomID)
	if err != nil {
		return err
	}
	if _, err := s.repo.GetMember(ctx, roomID, inviter.UserID); err != nil {
		return err
	}

	count, err := s.repo.CountMembers(ctx, roomID)
	if err != nil {
		return fmt.Errorf("count members: %w", err)
	}
	if count >= room.MaxUsers {
		return ErrRoomFull
	}

	return s.createInvitation(ctx, roomID, inviter, email)
}

// createInvitation resolves the email against known accounts and inserts a
// pending invitation. Duplicate pending invites for the (room, email) pair
// are silently skipped; an already-member invitee is an error.
func (s *RoomService) createInvitation(ctx context.Context, roomID uuid.UUID, inviter auth.Identity, email string) error {
	if _, err := s.repo.GetPendingInvitationByEmail(ctx, roomID, email); err == nil {
		return nil
	} else if !errors.Is(err, ErrInvitationNotFound) {
		return fmt.Errorf("check pending invitation: %w", err)
	}

	var inviteeID *uuid.UUID
	if info, err := s.directory.ByEmail(ctx, email); err == nil {
		if _, err := s.repo.GetMember(ctx, roomID, info.ID); err == nil {
			return ErrAlreadyMember
		} else if !errors.Is(err, ErrNotAMember) {
			return fmt.Errorf("check membership: %w", err)
		}
		inviteeID = &info.ID
	} else if !errors.Is(err, ErrUserNotFound) {
		return fmt.Errorf("resolve invitee: %w", err)
	}

	invitation := &Invitation{
		ID:           uuid.New(),
		RoomID:       roomID,
		InviterID:    inviter.UserID,
		InviteeID:    inviteeID,
		InviteeEmail: email,
		Status:       InvitationPending,
	}
	if err := s.repo.CreateInvitation(ctx, invitation); err != nil {
		return fmt.Errorf("create invitation: %w", err)
	}
	return nil
}

// Leave removes the caller's member row from the room. Leaving is an
// explicit exit: the row is deleted, and rejoining later requires a fresh
// invitation unless the caller owns the room.
func (s *RoomService) Leave(ctx context.Context, roomID uuid.UUID, identity auth.Identity) error {
	if err := s.repo.RemoveMember(ctx, roomID, identity.UserID); err != nil {
		return err
	}
	s.bus.Publish(NewRoomLeftEvent(roomID, identity.UserID))
	return nil
}
