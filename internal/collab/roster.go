package collab

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codehive/server/internal/realtime"
)

// RosterEntry is a durable member annotated with live presence.
type RosterEntry struct {
	Member   Member `json:"member"`
	IsOnline bool   `json:"is_online"`
	IsOwner  bool   `json:"is_owner"`
}

// MergeRoster combines durable members with the current online set into a
// deterministic display order: online members first, then the room owner,
// then the rest in input order. The function is pure; inputs are not
// modified and equal inputs yield equal output.
func MergeRoster(members []*Member, online map[uuid.UUID]bool, ownerID uuid.UUID) []RosterEntry {
	roster := make([]RosterEntry, 0, len(members))
	for _, member := range members {
		roster = append(roster, RosterEntry{
			Member:   *member,
			IsOnline: online[member.UserID],
			IsOwner:  member.UserID == ownerID,
		})
	}

	sort.SliceStable(roster, func(i, j int) bool {
		if roster[i].IsOnline != roster[j].IsOnline {
			return roster[i].IsOnline
		}
		if roster[i].IsOwner != roster[j].IsOwner {
			return roster[i].IsOwner
		}
		return false
	})

	return roster
}

// Reconciler keeps a room's roster current by reloading durable membership
// on change-feed events and recomputing the online set on presence syncs.
type Reconciler struct {
	repo     Repository
	feed     realtime.Feed
	presence realtime.Presence
	logger   *zap.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(repo Repository, feed realtime.Feed, presence realtime.Presence, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		repo:     repo,
		feed:     feed,
		presence: presence,
		logger:   logger,
	}
}

// LoadMembers fetches all member rows for the room.
func (r *Reconciler) LoadMembers(ctx context.Context, roomID uuid.UUID) ([]*Member, error) {
	return r.repo.ListMembers(ctx, roomID)
}

// SubscribeMembership triggers onChange for every member change in the
// room. Changes are rare and the set is small, so consumers reload the full
// list instead of patching incrementally.
func (r *Reconciler) SubscribeMembership(ctx context.Context, roomID uuid.UUID, onChange func()) (*realtime.Subscription, error) {
	return r.feed.Subscribe(ctx, TableMembers, func(event realtime.TableEvent) {
		var member Member
		if err := json.Unmarshal(event.Row, &member); err != nil {
			r.logger.Warn("malformed member event", zap.Error(err))
			return
		}
		if member.RoomID != roomID {
			return
		}
		onChange()
	})
}

// JoinPresence announces the identity on the room's presence channel and
// delivers the online user set on every membership sync.
func (r *Reconciler) JoinPresence(ctx context.Context, roomID, userID uuid.UUID, username string, onOnline func(map[uuid.UUID]bool)) (*realtime.PresenceSession, error) {
	meta := realtime.Meta{
		UserID:   userID,
		Username: username,
		OnlineAt: time.Now(),
	}
	return r.presence.Join(ctx, presenceChannel(roomID), userID.String(), meta, func(state realtime.State) {
		onOnline(state.UserIDs())
	})
}

func presenceChannel(roomID uuid.UUID) string {
	return "room:" + roomID.String()
}
