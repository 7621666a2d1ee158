// Package quota enforces per-actor rate limits over two fixed windows
// backed by atomic counters in Redis.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the counter backend for the limiter. Incr must be atomic across
// concurrent callers; the limiter reserves by incrementing and rolls back
// over-capacity reservations with Decr.
type Store interface {
	// Incr atomically increments the counter at key, setting its expiry to
	// ttl when the key is created, and returns the post-increment value.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Decr atomically decrements the counter at key.
	Decr(ctx context.Context, key string) error

	// Get returns the current counter value, zero for a missing key.
	Get(ctx context.Context, key string) (int64, error)

	// Ping checks connectivity to the backend.
	Ping(ctx context.Context) error

	Close() error
}

// RedisStore implements Store on a Redis connection.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials Redis at addr. The connection is not verified here;
// call Ping to check it.
func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// NX: only stamp the expiry when the key is new, so the window's TTL is
	// not pushed out by later increments.
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("quota incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) Decr(ctx context.Context, key string) error {
	if err := s.client.Decr(ctx, key).Err(); err != nil {
		return fmt.Errorf("quota decr %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota get %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// windowKey names the counter for one actor in one fixed window. The window
// start is part of the key, so a new window is a new key and reset needs no
// coordination: old windows simply expire.
func windowKey(actorID, kind string, windowStart time.Time) string {
	return fmt.Sprintf("quota:%s:%s:%d", actorID, kind, windowStart.Unix())
}

// windowStart truncates t to the enclosing fixed window.
func windowStart(t time.Time, window time.Duration) time.Time {
	return t.Truncate(window)
}
