package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codehive/server/internal/auth"
	"github.com/codehive/server/internal/realtime"
)

// SessionState is the lifecycle state of a room session.
type SessionState int

const (
	StateNoRoom SessionState = iota
	StateLoading
	StateActive
)

func (s SessionState) String() string {
	switch s {
	case StateNoRoom:
		return "no_room"
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// SessionCallbacks receive live updates while a session is active. All
// callbacks run on feed delivery goroutines; a nil callback is skipped.
type SessionCallbacks struct {
	// OnRoster fires with the full merged roster after every membership
	// or presence change.
	OnRoster func([]RosterEntry)

	// OnInvite fires for each new pending invitation addressed to the
	// session's identity, deduplicated by invitation ID.
	OnInvite func(PendingInvite)
}

// SessionController owns which room is active for one identity. While a
// room is active it holds one subscription each to the invitation feed, the
// membership feed, and the room's presence channel; leaving tears all three
// down. Events that arrive after teardown are discarded, never applied to
// the next session's state.
type SessionController struct {
	invitations *InvitationManager
	reconciler  *Reconciler
	rooms       *RoomService
	identity    auth.Identity
	callbacks   SessionCallbacks
	logger      *zap.Logger

	mu    sync.Mutex
	state SessionState
	// gen increments on every enter and leave; late events carrying a
	// stale generation are dropped.
	gen uint64

	room    *Room
	members []*Member
	online  map[uuid.UUID]bool
	pending map[uuid.UUID]PendingInvite

	inviteSub   *realtime.Subscription
	memberSub   *realtime.Subscription
	presenceSes *realtime.PresenceSession
}

// NewSessionController creates a controller for the identity.
func NewSessionController(
	invitations *InvitationManager,
	reconciler *Reconciler,
	rooms *RoomService,
	identity auth.Identity,
	callbacks SessionCallbacks,
	logger *zap.Logger,
) *SessionController {
	return &SessionController{
		invitations: invitations,
		reconciler:  reconciler,
		rooms:       rooms,
		identity:    identity,
		callbacks:   callbacks,
		logger:      logger,
		state:       StateNoRoom,
		pending:     make(map[uuid.UUID]PendingInvite),
	}
}

// State returns the current session state.
func (c *SessionController) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Room returns the active room, or nil outside an active session.
func (c *SessionController) Room() *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Roster returns the merged roster snapshot for the active session.
func (c *SessionController) Roster() []RosterEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rosterLocked()
}

// PendingInvites returns the known pending invitations for the identity.
func (c *SessionController) PendingInvites() []PendingInvite {
	c.mu.Lock()
	defer c.mu.Unlock()
	invites := make([]PendingInvite, 0, len(c.pending))
	for _, invite := range c.pending {
		invites = append(invites, invite)
	}
	return invites
}

// Enter activates a room session: loads the room and its members, joins
// presence, and subscribes to membership and invitation changes. The caller
// must already be a member. Only one room can be active at a time.
func (c *SessionController) Enter(ctx context.Context, roomID uuid.UUID) error {
	c.mu.Lock()
	if c.state != StateNoRoom {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.state = StateLoading
	c.gen++
	gen := c.gen
	c.members = nil
	c.online = nil
	c.pending = make(map[uuid.UUID]PendingInvite)
	c.mu.Unlock()

	room, members, err := c.load(ctx, roomID)
	if err != nil {
		c.abort(gen)
		return err
	}

	// Presence is a best-effort enhancement: if the channel cannot be
	// joined, the roster still renders with everyone offline.
	presenceSes, err := c.reconciler.JoinPresence(ctx, roomID, c.identity.UserID, c.displayName(ctx), func(online map[uuid.UUID]bool) {
		c.applyOnline(gen, online)
	})
	if err != nil {
		c.logger.Warn("presence join failed, roster will show all members offline",
			zap.String("room_id", roomID.String()),
			zap.Error(err),
		)
		presenceSes = nil
	}

	memberSub, err := c.reconciler.SubscribeMembership(ctx, roomID, func() {
		c.reloadMembers(gen, roomID)
	})
	if err != nil {
		if presenceSes != nil {
			_ = presenceSes.Leave()
		}
		c.abort(gen)
		return fmt.Errorf("subscribe membership: %w", err)
	}

	// The initial load predates the subscription, so a membership change
	// in that window fired no visible event. Reload now that the feed is
	// live; a failed reload keeps the initial snapshot.
	if fresh, err := c.reconciler.LoadMembers(ctx, roomID); err == nil {
		members = fresh
	} else {
		c.logger.Warn("member reload failed",
			zap.String("room_id", roomID.String()),
			zap.Error(err),
		)
	}

	inviteSub, err := c.invitations.Subscribe(ctx, c.identity, func(invite PendingInvite) {
		c.applyInvite(gen, invite)
	})
	if err != nil {
		memberSub.Stop()
		if presenceSes != nil {
			_ = presenceSes.Leave()
		}
		c.abort(gen)
		return fmt.Errorf("subscribe invitations: %w", err)
	}

	pending, err := c.invitations.LoadPending(ctx, c.identity)
	if err != nil {
		c.logger.Warn("load pending invitations failed", zap.Error(err))
		pending = nil
	}

	c.mu.Lock()
	if c.gen != gen {
		// Torn down while loading.
		c.mu.Unlock()
		inviteSub.Stop()
		memberSub.Stop()
		if presenceSes != nil {
			_ = presenceSes.Leave()
		}
		return ErrNoActiveSession
	}
	c.state = StateActive
	c.room = room
	if c.members == nil {
		// A reload buffered during Loading is at least as fresh.
		c.members = members
	}
	for _, invite := range pending {
		c.pending[invite.ID] = invite
	}
	c.inviteSub = inviteSub
	c.memberSub = memberSub
	c.presenceSes = presenceSes
	roster := c.rosterLocked()
	c.mu.Unlock()

	c.emitRoster(roster)
	return nil
}

// Leave deactivates the session: all three live subscriptions are stopped,
// the caller's member row is deleted, and late feed events are discarded.
func (c *SessionController) Leave(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	roomID := c.room.ID
	inviteSub := c.inviteSub
	memberSub := c.memberSub
	presenceSes := c.presenceSes
	c.gen++
	c.state = StateNoRoom
	c.room = nil
	c.members = nil
	c.online = nil
	c.inviteSub = nil
	c.memberSub = nil
	c.presenceSes = nil
	c.mu.Unlock()

	inviteSub.Stop()
	memberSub.Stop()
	if presenceSes != nil {
		if err := presenceSes.Leave(); err != nil {
			c.logger.Warn("presence leave failed", zap.Error(err))
		}
	}

	if err := c.rooms.Leave(ctx, roomID, c.identity); err != nil && !errors.Is(err, ErrNotAMember) {
		return err
	}
	return nil
}

// Invite sends an invitation for the email to join the active room.
func (c *SessionController) Invite(ctx context.Context, email string) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	roomID := c.room.ID
	c.mu.Unlock()

	return c.rooms.Invite(ctx, roomID, c.identity, email)
}

// Respond accepts or declines a pending invitation and removes it from the
// session's pending set on success.
func (c *SessionController) Respond(ctx context.Context, invitationID uuid.UUID, accept bool) error {
	if err := c.invitations.Respond(ctx, c.identity, invitationID, accept); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.pending, invitationID)
	c.mu.Unlock()
	return nil
}

func (c *SessionController) load(ctx context.Context, roomID uuid.UUID) (*Room, []*Member, error) {
	room, err := c.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	members, err := c.reconciler.LoadMembers(ctx, roomID)
	if err != nil {
		return nil, nil, fmt.Errorf("load members: %w", err)
	}

	// Access rules live server-side; this is a defensive check only.
	isMember := false
	for _, member := range members {
		if member.UserID == c.identity.UserID {
			isMember = true
			break
		}
	}
	if !isMember {
		return nil, nil, ErrNotAMember
	}
	return room, members, nil
}

// abort returns the controller to NoRoom after a failed enter, unless a
// newer generation took over in the meantime.
func (c *SessionController) abort(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.state = StateNoRoom
	}
}

// applyOnline replaces the online set, dropping late events from a previous
// generation. Syncs that arrive while the session is still loading are
// buffered so the first roster emission already carries them.
func (c *SessionController) applyOnline(gen uint64, online map[uuid.UUID]bool) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.online = online
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}
	roster := c.rosterLocked()
	c.mu.Unlock()

	c.emitRoster(roster)
}

// reloadMembers refreshes the member list from the durable table. The feed
// only signals that something changed; the reload is the source of truth.
// Changes landing while the session is still loading are stored, like
// presence syncs, so activation does not discard them.
func (c *SessionController) reloadMembers(gen uint64, roomID uuid.UUID) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	members, err := c.reconciler.LoadMembers(context.Background(), roomID)
	if err != nil {
		c.logger.Warn("membership reload failed",
			zap.String("room_id", roomID.String()),
			zap.Error(err),
		)
		return
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.members = members
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}
	roster := c.rosterLocked()
	c.mu.Unlock()

	c.emitRoster(roster)
}

// applyInvite records a new pending invitation, deduplicated by ID, and
// dropped entirely if the session generation moved on.
func (c *SessionController) applyInvite(gen uint64, invite PendingInvite) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	if _, known := c.pending[invite.ID]; known {
		c.mu.Unlock()
		return
	}
	c.pending[invite.ID] = invite
	c.mu.Unlock()

	if c.callbacks.OnInvite != nil {
		c.callbacks.OnInvite(invite)
	}
}

func (c *SessionController) rosterLocked() []RosterEntry {
	if c.room == nil {
		return nil
	}
	return MergeRoster(c.members, c.online, c.room.OwnerID)
}

func (c *SessionController) emitRoster(roster []RosterEntry) {
	if c.callbacks.OnRoster != nil {
		c.callbacks.OnRoster(roster)
	}
}

func (c *SessionController) displayName(ctx context.Context) string {
	if info, err := c.invitations.directory.ByID(ctx, c.identity.UserID); err == nil {
		return info.DisplayName
	}
	return c.identity.Email
}
