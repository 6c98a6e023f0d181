package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/repo-mashup/pkg/mashup"
)

var (
	// ErrCacheMiss indicates the requested key was not found or has expired.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidKey indicates an empty cache key.
	ErrInvalidKey = fmt.Errorf("%w: cache key must not be empty", mashup.ErrInvalidArgument)
)

// Store is a key/value cache with per-entry TTL.
type Store[T any] interface {
	// Get returns the value for key, or ErrCacheMiss.
	Get(ctx context.Context, key string) (T, error)

	// Set stores value under key for ttl. A ttl <= 0 stores nothing.
	Set(ctx context.Context, key string, value T, ttl time.Duration) error
}
