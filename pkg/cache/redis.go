package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	_ Store[string] = (*Redis[string])(nil)

	// ErrInvalidEntry indicates the stored value could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Redis is a Store backed by Redis. Values are JSON-encoded and expire
// through Redis key TTLs.
type Redis[T any] struct {
	redis  *redis.Client
	prefix string
}

// NewRedis creates a Redis-backed store. Keys are prefixed with prefix.
func NewRedis[T any](redisClient *redis.Client, prefix string) *Redis[T] {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Redis[T]{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (r *Redis[T]) key(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

// Get retrieves and decodes the value stored under key.
// Returns ErrCacheMiss if the key doesn't exist or has expired.
func (r *Redis[T]) Get(ctx context.Context, key string) (T, error) {
	var zero T
	if key == "" {
		return zero, ErrInvalidKey
	}

	data, err := r.redis.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, ErrCacheMiss
		}
		return zero, fmt.Errorf("redis get: %w", err)
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	return value, nil
}

// Set stores value under key with the given TTL. A ttl <= 0 is a no-op.
func (r *Redis[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := r.redis.Set(ctx, r.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes the value stored under key.
func (r *Redis[T]) Delete(ctx context.Context, key string) error {
	if err := r.redis.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
