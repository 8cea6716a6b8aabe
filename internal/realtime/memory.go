package realtime

import (
	"context"
	"sync"
)

// MemoryFeed is an in-process Feed for single-node deployments and tests.
type MemoryFeed struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func(TableEvent)
}

// NewMemoryFeed creates an in-process feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{
		subs: make(map[string]map[int]func(TableEvent)),
	}
}

// Publish delivers the event synchronously to all subscribers of its table.
func (f *MemoryFeed) Publish(_ context.Context, event TableEvent) error {
	f.mu.RLock()
	fns := make([]func(TableEvent), 0, len(f.subs[event.Table]))
	for _, fn := range f.subs[event.Table] {
		fns = append(fns, fn)
	}
	f.mu.RUnlock()

	for _, fn := range fns {
		fn(event)
	}
	return nil
}

// Subscribe registers a handler for the table's events.
func (f *MemoryFeed) Subscribe(_ context.Context, table string, fn func(TableEvent)) (*Subscription, error) {
	f.mu.Lock()
	if f.subs[table] == nil {
		f.subs[table] = make(map[int]func(TableEvent))
	}
	id := f.nextID
	f.nextID++
	f.subs[table][id] = fn
	f.mu.Unlock()

	return NewSubscription(func() {
		f.mu.Lock()
		delete(f.subs[table], id)
		f.mu.Unlock()
	}), nil
}

type memoryChannel struct {
	members map[string]Meta
	syncs   map[int]func(State)
}

// MemoryPresence is an in-process Presence for single-node deployments and
// tests. There is no TTL: participants stay online until they leave.
type MemoryPresence struct {
	mu       sync.Mutex
	nextID   int
	channels map[string]*memoryChannel
}

// NewMemoryPresence creates an in-process presence tracker.
func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{
		channels: make(map[string]*memoryChannel),
	}
}

// Join announces the key on the channel and starts delivering sync snapshots.
func (p *MemoryPresence) Join(_ context.Context, channel, key string, meta Meta, onSync func(State)) (*PresenceSession, error) {
	p.mu.Lock()
	ch := p.channels[channel]
	if ch == nil {
		ch = &memoryChannel{
			members: make(map[string]Meta),
			syncs:   make(map[int]func(State)),
		}
		p.channels[channel] = ch
	}
	ch.members[key] = meta
	id := p.nextID
	p.nextID++
	ch.syncs[id] = onSync
	p.mu.Unlock()

	p.broadcast(channel)

	leave := func() error {
		p.mu.Lock()
		if ch := p.channels[channel]; ch != nil {
			delete(ch.members, key)
			delete(ch.syncs, id)
		}
		p.mu.Unlock()
		p.broadcast(channel)
		return nil
	}

	return NewPresenceSession(leave), nil
}

// broadcast delivers the channel's current state to every sync callback.
func (p *MemoryPresence) broadcast(channel string) {
	p.mu.Lock()
	ch := p.channels[channel]
	if ch == nil {
		p.mu.Unlock()
		return
	}
	state := make(State, len(ch.members))
	for k, m := range ch.members {
		state[k] = m
	}
	fns := make([]func(State), 0, len(ch.syncs))
	for _, fn := range ch.syncs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}
