package collab

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codehive/server/internal/auth"
	"github.com/codehive/server/internal/realtime"
)

func newController(fx *fixture, identity auth.Identity, callbacks SessionCallbacks) *SessionController {
	return NewSessionController(fx.invitations, fx.reconciler, fx.rooms, identity, callbacks, zap.NewNop())
}

func TestSessionController_EnterActivatesRoom(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	owner := fx.addUser("owner@example.com", "Owner")
	room := fx.createRoom(ctx, owner, "Alpha")

	var rosters [][]RosterEntry
	controller := newController(fx, owner, SessionCallbacks{
		OnRoster: func(roster []RosterEntry) { rosters = append(rosters, roster) },
	})

	require.NoError(t, controller.Enter(ctx, room.ID))
	assert.Equal(t, StateActive, controller.State())
	require.NotNil(t, controller.Room())
	assert.Equal(t, room.ID, controller.Room().ID)

	require.NotEmpty(t, rosters)
	last := rosters[len(rosters)-1]
	require.Len(t, last, 1)
	assert.Equal(t, owner.UserID, last[0].Member.UserID)
	assert.True(t, last[0].IsOnline)
}

func TestSessionController_EnterSeesJoinDuringLoad(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	owner := fx.addUser("owner@example.com", "Owner")
	bob := fx.addUser("bob@example.com", "Bob")
	room := fx.createRoom(ctx, owner, "Alpha")

	// Bob's row lands right after the first member snapshot is taken and
	// before the membership subscription exists, so no feed event is ever
	// delivered for it.
	fx.repo.afterListMembers = func() {
		fx.repo.mu.Lock()
		fx.repo.afterListMembers = nil
		member := &Member{
			ID:       uuid.New(),
			RoomID:   room.ID,
			UserID:   bob.UserID,
			Username: "Bob",
			Status:   MemberStatusActive,
			JoinedAt: time.Now(),
		}
		fx.repo.members[member.ID] = member
		fx.repo.mu.Unlock()
	}

	var rosters [][]RosterEntry
	controller := newController(fx, owner, SessionCallbacks{
		OnRoster: func(roster []RosterEntry) { rosters = append(rosters, roster) },
	})
	require.NoError(t, controller.Enter(ctx, room.ID))

	require.NotEmpty(t, rosters)
	first := rosters[0]
	require.Len(t, first, 2)
	users := make(map[uuid.UUID]bool)
	for _, entry := range first {
		users[entry.Member.UserID] = true
	}
	assert.True(t, users[owner.UserID])
	assert.True(t, users[bob.UserID])
}

func TestSessionController_EnterErrors(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	owner := fx.addUser("owner@example.com", "Owner")
	outsider := fx.addUser("outsider@example.com", "Outsider")
	room := fx.createRoom(ctx, owner, "Alpha")

	t.Run("room not found", func(t *testing.T) {
		controller := newController(fx, owner, SessionCallbacks{})
		err := controller.Enter(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrRoomNotFound)
		assert.Equal(t, StateNoRoom, controller.State())
	})

	t.Run("not a member", func(t *testing.T) {
		controller := newController(fx, outsider, SessionCallbacks{})
		err := controller.Enter(ctx, room.ID)
		assert.ErrorIs(t, err, ErrNotAMember)
		assert.Equal(t, StateNoRoom, controller.State())
	})

	t.Run("second enter while active", func(t *testing.T) {
		controller := newController(fx, owner, SessionCallbacks{})
		require.NoError(t, controller.Enter(ctx, room.ID))
		defer func() { _ = controller.Leave(ctx) }()

		err := controller.Enter(ctx, room.ID)
		assert.ErrorIs(t, err, ErrSessionActive)
	})
}

func TestSessionController_RosterReloadsOnMembershipChange(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	owner := fx.addUser("owner@example.com", "Owner")
	room := fx.createRoom(ctx, owner, "Alpha")

	var rosters [][]RosterEntry
	controller := newController(fx, owner, SessionCallbacks{
		OnRoster: func(roster []RosterEntry) { rosters = append(rosters, roster) },
	})
	require.NoError(t, controller.Enter(ctx, room.ID))
	defer func() { _ = controller.Leave(ctx) }()

	guest := fx.addUser("guest@example.com", "Guest")
	require.NoError(t, fx.repo.UpsertMember(ctx, &Member{
		ID: uuid.New(), RoomID: room.ID, UserID: guest.UserID,
		Username: "Guest", JoinedAt: time.Now(),
	}))

	roster := controller.Roster()
	require.Len(t, roster, 2)
}

func TestSessionController_TeardownStopsDelivery(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	owner := fx.addUser("owner@example.com", "Owner")
	room := fx.createRoom(ctx, owner, "Alpha")

	rosterCalls := 0
	inviteCalls := 0
	controller := newController(fx, owner, SessionCallbacks{
		OnRoster: func([]RosterEntry) { rosterCalls++ },
		OnInvite: func(PendingInvite) { inviteCalls++ },
	})

	require.NoError(t, controller.Enter(ctx, room.ID))
	require.NoError(t, controller.Leave(ctx))
	assert.Equal(t, StateNoRoom, controller.State())

	callsAfterLeave := rosterCalls
	invitesAfterLeave := inviteCalls

	// Late events referencing the torn-down room must not mutate state.
	guest := fx.addUser("guest@example.com", "Guest")
	require.NoError(t, fx.repo.UpsertMember(ctx, &Member{
		ID: uuid.New(), RoomID: room.ID, UserID: guest.UserID,
		Username: "Guest", JoinedAt: time.Now(),
	}))
	require.NoError(t, fx.repo.CreateInvitation(ctx, &Invitation{
		ID: uuid.New(), RoomID: room.ID, InviterID: guest.UserID,
		InviteeEmail: owner.Email, Status: InvitationPending,
	}))

	assert.Equal(t, callsAfterLeave, rosterCalls)
	assert.Equal(t, invitesAfterLeave, inviteCalls)
	assert.Nil(t, controller.Room())
	assert.Empty(t, controller.Roster())
}

func TestSessionController_LeaveDeletesMemberRow(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	owner := fx.addUser("owner@example.com", "Owner")
	guest := fx.addUser("guest@example.com", "Guest")
	room := fx.createRoom(ctx, owner, "Alpha")
	require.NoError(t, fx.repo.UpsertMember(ctx, &Member{
		ID: uuid.New(), RoomID: room.ID, UserID: guest.UserID,
		Username: "Guest", JoinedAt: time.Now(),
	}))

	controller := newController(fx, guest, SessionCallbacks{})
	require.NoError(t, controller.Enter(ctx, room.ID))
	require.NoError(t, controller.Leave(ctx))

	_, err := fx.repo.GetMember(ctx, room.ID, guest.UserID)
	assert.ErrorIs(t, err, ErrNotAMember)

	members, err := fx.repo.ListMembers(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, owner.UserID, members[0].UserID)
}

func TestSessionController_LeaveWithoutEnter(t *testing.T) {
	fx := newFixture()
	owner := fx.addUser("owner@example.com", "Owner")

	controller := newController(fx, owner, SessionCallbacks{})
	err := controller.Leave(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestSessionController_InviteDeliveredWhileActive(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	owner := fx.addUser("owner@example.com", "Owner")
	room := fx.createRoom(ctx, owner, "Alpha")

	var invites []PendingInvite
	controller := newController(fx, owner, SessionCallbacks{
		OnInvite: func(invite PendingInvite) { invites = append(invites, invite) },
	})
	require.NoError(t, controller.Enter(ctx, room.ID))
	defer func() { _ = controller.Leave(ctx) }()

	other := fx.addUser("other@example.com", "Other")
	otherRoom := fx.createRoom(ctx, other, "Beta")
	require.NoError(t, fx.repo.CreateInvitation(ctx, &Invitation{
		ID: uuid.New(), RoomID: otherRoom.ID, InviterID: other.UserID,
		InviteeEmail: owner.Email, Status: InvitationPending,
	}))

	require.Len(t, invites, 1)
	assert.Equal(t, "Beta", invites[0].RoomName)
	assert.Len(t, controller.PendingInvites(), 1)

	// Duplicate delivery of the same invitation ID is absorbed.
	dup := invites[0]
	controller.applyInvite(controller.gen, dup)
	assert.Len(t, controller.PendingInvites(), 1)
}

// failingPresence always refuses to join.
type failingPresence struct{}

func (failingPresence) Join(context.Context, string, string, realtime.Meta, func(realtime.State)) (*realtime.PresenceSession, error) {
	return nil, errors.New("presence unavailable")
}

func TestSessionController_PresenceFailureDegradesToOffline(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	owner := fx.addUser("owner@example.com", "Owner")
	room := fx.createRoom(ctx, owner, "Alpha")

	logger := zap.NewNop()
	reconciler := NewReconciler(fx.repo, fx.feed, failingPresence{}, logger)
	controller := NewSessionController(fx.invitations, reconciler, fx.rooms, owner, SessionCallbacks{}, logger)

	// Presence is best-effort: the session still activates.
	require.NoError(t, controller.Enter(ctx, room.ID))
	defer func() { _ = controller.Leave(ctx) }()

	roster := controller.Roster()
	require.Len(t, roster, 1)
	assert.False(t, roster[0].IsOnline)
}
