package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codehive/server/internal/auth"
	"github.com/codehive/server/internal/infra/events"
	"github.com/codehive/server/internal/realtime"
)

// Fallback labels used when resolving an invitation's room or inviter fails.
// A single bad row must not blank the whole pending list.
const (
	FallbackRoomName    = "Room"
	FallbackInviterName = "Someone"
)

// PendingInvite is an invitation resolved for display: the raw row plus the
// inviter's name and the room's name.
type PendingInvite struct {
	ID           uuid.UUID `json:"id"`
	RoomID       uuid.UUID `json:"room_id"`
	RoomName     string    `json:"room_name"`
	InviterID    uuid.UUID `json:"inviter_id"`
	InviterName  string    `json:"inviter_name"`
	InviteeEmail string    `json:"invitee_email"`
	CreatedAt    time.Time `json:"created_at"`
}

// InvitationManager drives the invitation lifecycle: loading the pending
// list for an identity, watching for new invitations on the change feed,
// and transitioning invitations through accept or decline.
type InvitationManager struct {
	repo      Repository
	directory UserDirectory
	feed      realtime.Feed
	bus       *events.Bus
	capacity  int
	logger    *zap.Logger
}

// NewInvitationManager creates an InvitationManager. capacity caps room
// membership on accept; zero means DefaultRoomCapacity.
func NewInvitationManager(repo Repository, directory UserDirectory, feed realtime.Feed, bus *events.Bus, capacity int, logger *zap.Logger) *InvitationManager {
	if capacity <= 0 {
		capacity = DefaultRoomCapacity
	}
	return &InvitationManager{
		repo:      repo,
		directory: directory,
		feed:      feed,
		bus:       bus,
		capacity:  capacity,
		logger:    logger,
	}
}

// LoadPending returns the caller's pending invitations, resolved for
// display and deduplicated by invitation ID. The underlying query matches
// by resolved invitee ID or by email, so the same logical invitation can
// surface twice; only the first occurrence is kept.
func (m *InvitationManager) LoadPending(ctx context.Context, identity auth.Identity) ([]PendingInvite, error) {
	rows, err := m.repo.ListPendingInvitations(ctx, identity.UserID, identity.Email)
	if err != nil {
		return nil, fmt.Errorf("list pending invitations: %w", err)
	}

	seen := make(map[uuid.UUID]bool, len(rows))
	invites := make([]PendingInvite, 0, len(rows))
	for _, row := range rows {
		if seen[row.ID] {
			continue
		}
		seen[row.ID] = true
		invites = append(invites, m.resolve(ctx, row))
	}
	return invites, nil
}

// Subscribe watches the invitation change feed for new pending invitations
// addressed to the identity. The feed is not pre-filtered upstream, so rows
// are matched client-side by invitee ID or email. Callers deduplicate
// against already-known invitation IDs.
func (m *InvitationManager) Subscribe(ctx context.Context, identity auth.Identity, onNewInvite func(PendingInvite)) (*realtime.Subscription, error) {
	return m.feed.Subscribe(ctx, TableInvitations, func(event realtime.TableEvent) {
		if event.Type != realtime.EventInsert {
			return
		}

		var invitation Invitation
		if err := json.Unmarshal(event.Row, &invitation); err != nil {
			m.logger.Warn("malformed invitation event", zap.Error(err))
			return
		}
		if !m.addressedTo(&invitation, identity) {
			return
		}

		onNewInvite(m.resolve(context.Background(), &invitation))
	})
}

// Respond transitions a pending invitation to accepted or declined. On
// accept, the member row is upserted first so the (room, user) pair exists
// exactly once no matter how many times accept is retried. A failure leaves
// the invitation pending.
func (m *InvitationManager) Respond(ctx context.Context, identity auth.Identity, invitationID uuid.UUID, accept bool) error {
	invitation, err := m.repo.GetInvitationByID(ctx, invitationID)
	if err != nil {
		return err
	}
	if !m.addressedToAnyStatus(invitation, identity) {
		return ErrNotInvitee
	}
	if invitation.Status != InvitationPending {
		return ErrInvitationProcessed
	}

	if !accept {
		return m.repo.UpdateInvitationStatus(ctx, invitationID, InvitationPending, InvitationDeclined)
	}

	username := identity.Email
	if info, err := m.directory.ByID(ctx, identity.UserID); err == nil {
		username = info.DisplayName
	}

	// Capacity check does not count the caller, who may already hold a
	// member row from a prior join.
	if _, err := m.repo.GetMember(ctx, invitation.RoomID, identity.UserID); errors.Is(err, ErrNotAMember) {
		count, err := m.repo.CountMembers(ctx, invitation.RoomID)
		if err != nil {
			return fmt.Errorf("count members: %w", err)
		}
		if count >= m.capacity {
			return ErrRoomFull
		}
	} else if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}

	member := &Member{
		ID:       uuid.New(),
		RoomID:   invitation.RoomID,
		UserID:   identity.UserID,
		Username: username,
		Status:   MemberStatusActive,
		JoinedAt: time.Now(),
	}
	if err := m.repo.UpsertMember(ctx, member); err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}

	if err := m.repo.UpdateInvitationStatus(ctx, invitationID, InvitationPending, InvitationAccepted); err != nil {
		return err
	}

	m.bus.Publish(NewRoomJoinedEvent(invitation.RoomID, identity.UserID, username))
	return nil
}

// resolve builds the display view of an invitation. Lookup failures fall
// back to generic labels instead of dropping the entry.
func (m *InvitationManager) resolve(ctx context.Context, invitation *Invitation) PendingInvite {
	roomName := FallbackRoomName
	if room, err := m.repo.GetRoomByID(ctx, invitation.RoomID); err == nil {
		roomName = room.Name
	} else if !errors.Is(err, ErrRoomNotFound) {
		m.logger.Warn("resolve room name failed",
			zap.String("room_id", invitation.RoomID.String()),
			zap.Error(err),
		)
	}

	inviterName := FallbackInviterName
	if info, err := m.directory.ByID(ctx, invitation.InviterID); err == nil {
		inviterName = info.DisplayName
	} else if !errors.Is(err, ErrUserNotFound) {
		m.logger.Warn("resolve inviter name failed",
			zap.String("inviter_id", invitation.InviterID.String()),
			zap.Error(err),
		)
	}

	return PendingInvite{
		ID:           invitation.ID,
		RoomID:       invitation.RoomID,
		RoomName:     roomName,
		InviterID:    invitation.InviterID,
		InviterName:  inviterName,
		InviteeEmail: invitation.InviteeEmail,
		CreatedAt:    invitation.CreatedAt,
	}
}

// addressedTo reports whether a pending invitation is addressed to the
// identity, matching by resolved ID or case-insensitive email.
func (m *InvitationManager) addressedTo(invitation *Invitation, identity auth.Identity) bool {
	return invitation.Status == InvitationPending && m.addressedToAnyStatus(invitation, identity)
}

func (m *InvitationManager) addressedToAnyStatus(invitation *Invitation, identity auth.Identity) bool {
	if invitation.InviteeID != nil && *invitation.InviteeID == identity.UserID {
		return true
	}
	return strings.EqualFold(invitation.InviteeEmail, identity.Email)
}
