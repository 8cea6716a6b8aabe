package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	apperrors "github.com/codehive/server/internal/shared/errors"
)

const (
	feedChannelPrefix     = "feed:"
	presenceKeyPrefix     = "presence:"
	presenceSyncPrefix    = "presence-sync:"
	presenceScanBatchSize = 100
)

// RedisFeed carries table change events over Redis pub/sub. Publishes run
// through a circuit breaker so a struggling Redis fails fast instead of
// stalling request handlers.
type RedisFeed struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker[any]
	logger  *zap.Logger
}

// NewRedisFeed creates a feed backed by the given Redis client.
func NewRedisFeed(client *redis.Client, logger *zap.Logger) *RedisFeed {
	settings := gobreaker.Settings{
		Name:        "realtime-feed",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &RedisFeed{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		logger:  logger,
	}
}

// Publish sends a table event to all subscribers of the event's table.
func (f *RedisFeed) Publish(ctx context.Context, event TableEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal table event: %w", err)
	}

	_, err = f.breaker.Execute(func() (any, error) {
		return nil, f.client.Publish(ctx, feedChannelPrefix+event.Table, payload).Err()
	})
	if err != nil {
		f.logger.Warn("feed publish failed",
			zap.String("table", event.Table),
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
		return apperrors.Transport(err)
	}
	return nil
}

// Subscribe delivers every event published for the table until the returned
// subscription is stopped.
func (f *RedisFeed) Subscribe(ctx context.Context, table string, fn func(TableEvent)) (*Subscription, error) {
	pubsub := f.client.Subscribe(ctx, feedChannelPrefix+table)

	// Force the subscription to be established before returning so callers
	// can load a snapshot without a gap.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, apperrors.Transport(err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			var event TableEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				f.logger.Warn("dropping malformed feed event",
					zap.String("table", table),
					zap.Error(err),
				)
				continue
			}
			fn(event)
		}
	}()

	return NewSubscription(func() {
		_ = pubsub.Close()
	}), nil
}

// RedisPresence tracks channel liveness with TTL keys. Each participant owns
// one key renewed by a heartbeat; a key expiring or being deleted makes the
// participant offline. Membership changes are broadcast on a per-channel
// sync topic, and every subscriber rebuilds the full state from a key scan.
type RedisPresence struct {
	client    *redis.Client
	ttl       time.Duration
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewRedisPresence creates a presence tracker backed by the given client.
func NewRedisPresence(client *redis.Client, ttl, heartbeat time.Duration, logger *zap.Logger) *RedisPresence {
	return &RedisPresence{
		client:    client,
		ttl:       ttl,
		heartbeat: heartbeat,
		logger:    logger,
	}
}

// Join announces the key on the channel and starts delivering sync snapshots.
func (p *RedisPresence) Join(ctx context.Context, channel, key string, meta Meta, onSync func(State)) (*PresenceSession, error) {
	payload, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal presence meta: %w", err)
	}

	redisKey := presenceKey(channel, key)
	syncTopic := presenceSyncPrefix + channel

	if err := p.client.Set(ctx, redisKey, payload, p.ttl).Err(); err != nil {
		return nil, apperrors.Transport(err)
	}

	pubsub := p.client.Subscribe(ctx, syncTopic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = p.client.Del(ctx, redisKey).Err()
		return nil, apperrors.Transport(err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup

	// Heartbeat keeps this participant's key alive.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				rctx, cancel := context.WithTimeout(context.Background(), p.heartbeat)
				if err := p.client.Expire(rctx, redisKey, p.ttl).Err(); err != nil {
					p.logger.Warn("presence heartbeat failed",
						zap.String("channel", channel),
						zap.String("key", key),
						zap.Error(err),
					)
				}
				cancel()
			}
		}
	}()

	// Sync delivery: rebuild the full state on every membership broadcast.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range pubsub.Channel() {
			state, err := p.snapshot(context.Background(), channel)
			if err != nil {
				p.logger.Warn("presence snapshot failed",
					zap.String("channel", channel),
					zap.Error(err),
				)
				continue
			}
			onSync(state)
		}
	}()

	// Announce the join. Subscribers, including this one, will resync.
	if err := p.client.Publish(ctx, syncTopic, key).Err(); err != nil {
		p.logger.Warn("presence join broadcast failed",
			zap.String("channel", channel),
			zap.Error(err),
		)
	}

	leave := func() error {
		close(done)
		_ = pubsub.Close()
		wg.Wait()

		lctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.client.Del(lctx, redisKey).Err(); err != nil {
			return apperrors.Transport(err)
		}
		return p.client.Publish(lctx, syncTopic, key).Err()
	}

	return NewPresenceSession(leave), nil
}

// snapshot scans the channel's presence keys and collects their metas.
func (p *RedisPresence) snapshot(ctx context.Context, channel string) (State, error) {
	prefix := presenceKey(channel, "")
	state := make(State)

	var cursor uint64
	for {
		keys, next, err := p.client.Scan(ctx, cursor, prefix+"*", presenceScanBatchSize).Result()
		if err != nil {
			return nil, apperrors.Transport(err)
		}

		if len(keys) > 0 {
			values, err := p.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, apperrors.Transport(err)
			}
			for i, raw := range values {
				// Keys can expire between SCAN and MGET.
				s, ok := raw.(string)
				if !ok {
					continue
				}
				var meta Meta
				if err := json.Unmarshal([]byte(s), &meta); err != nil {
					continue
				}
				state[strings.TrimPrefix(keys[i], prefix)] = meta
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return state, nil
}

func presenceKey(channel, key string) string {
	return presenceKeyPrefix + channel + ":" + key
}
