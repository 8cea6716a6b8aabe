package realtime

import "sync"

// Subscription is a handle to an active feed subscription.
// Stop is idempotent and safe to call from any goroutine.
type Subscription struct {
	once sync.Once
	stop func()
}

// NewSubscription wraps a teardown function in a Subscription.
func NewSubscription(stop func()) *Subscription {
	return &Subscription{stop: stop}
}

// Stop cancels the subscription and releases its resources.
func (s *Subscription) Stop() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}
