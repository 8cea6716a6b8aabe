package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Meta is the payload a participant announces when joining a presence channel.
type Meta struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	OnlineAt time.Time `json:"online_at"`
}

// State is the current set of tracked participants on a channel, keyed by
// the per-participant presence key.
type State map[string]Meta

// UserIDs returns the set of user IDs currently tracked in the state.
func (s State) UserIDs() map[uuid.UUID]bool {
	ids := make(map[uuid.UUID]bool, len(s))
	for _, meta := range s {
		ids[meta.UserID] = true
	}
	return ids
}

// Presence tracks ephemeral liveness on named channels. Joining announces a
// key with its meta; every membership change on the channel triggers onSync
// with the full current state. Sync callbacks run on the presence delivery
// goroutine.
type Presence interface {
	Join(ctx context.Context, channel, key string, meta Meta, onSync func(State)) (*PresenceSession, error)
}

// PresenceSession is a handle to an active presence join.
// Leave is idempotent.
type PresenceSession struct {
	once  sync.Once
	leave func() error
	err   error
}

// NewPresenceSession wraps a teardown function in a PresenceSession.
func NewPresenceSession(leave func() error) *PresenceSession {
	return &PresenceSession{leave: leave}
}

// Leave removes this participant from the channel and stops sync delivery.
func (s *PresenceSession) Leave() error {
	s.once.Do(func() {
		if s.leave != nil {
			s.err = s.leave()
		}
	})
	return s.err
}
