package cache

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/Sternrassler/repo-mashup/pkg/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var _ Store[string] = (*Expiring[string])(nil)

// Expiring is a bounded in-memory cache with lazy expiration.
//
// The value map and the deadline heap are guarded by one mutex: every entry
// in the map is in the heap and vice versa.
type Expiring[T any] struct {
	mu        sync.Mutex
	entries   map[string]*entry[T]
	deadlines deadlineHeap[T]

	name       string
	maxEntries int
	now        func() time.Time
	logger     zerolog.Logger
	expired    metrics.Counter
	purges     metrics.Counter
}

// ExpiringOption configures an Expiring cache.
type ExpiringOption func(*expiringOptions)

type expiringOptions struct {
	logger  *zerolog.Logger
	metrics metrics.Metrics
	now     func() time.Time
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) ExpiringOption {
	return func(o *expiringOptions) {
		o.logger = &logger
	}
}

// WithMetrics reports expiry and purge counters.
func WithMetrics(m metrics.Metrics) ExpiringOption {
	return func(o *expiringOptions) {
		o.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ExpiringOption {
	return func(o *expiringOptions) {
		o.now = now
	}
}

// NewExpiring creates an in-memory cache holding at most maxEntries+1
// entries at any time. maxEntries <= 0 is treated as 1.
func NewExpiring[T any](name string, maxEntries int, opts ...ExpiringOption) *Expiring[T] {
	o := expiringOptions{now: time.Now, metrics: metrics.Noop{}}
	for _, opt := range opts {
		opt(&o)
	}

	logger := log.With().Str("component", "cache").Str("cache", name).Logger()
	if o.logger != nil {
		logger = o.logger.With().Str("cache", name).Logger()
	}
	if maxEntries <= 0 {
		maxEntries = 1
	}

	return &Expiring[T]{
		entries:    make(map[string]*entry[T]),
		name:       name,
		maxEntries: maxEntries,
		now:        o.now,
		logger:     logger,
		expired:    o.metrics.Counter(name + "_cache_expired"),
		purges:     o.metrics.Counter(name + "_cache_purges"),
	}
}

// Set stores value under key until now+ttl. A ttl <= 0 is a no-op.
// If the cache already holds more than maxEntries entries it is cleared
// completely before the insert.
func (c *Expiring[T]) Set(_ context.Context, key string, value T, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	if ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) > c.maxEntries {
		c.logger.Info().
			Int("size", len(c.entries)).
			Int("max_entries", c.maxEntries).
			Msg("Cache exceeded max size, purging")
		c.clearLocked()
		c.purges.Inc()
	}

	deadline := c.now().Add(ttl)

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.deadline = deadline
		heap.Fix(&c.deadlines, e.index)
		return nil
	}

	e := &entry[T]{key: key, value: value, deadline: deadline}
	heap.Push(&c.deadlines, e)
	c.entries[key] = e

	return nil
}

// Get removes every expired entry and then looks key up.
// It returns ErrCacheMiss if the key is absent.
func (c *Expiring[T]) Get(_ context.Context, key string) (T, error) {
	var zero T
	if key == "" {
		return zero, ErrInvalidKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.removeExpiredLocked(now)

	e, ok := c.entries[key]
	if !ok || e.expiredAt(now) {
		c.logger.Debug().Str("key", key).Msg("Cache miss")
		return zero, ErrCacheMiss
	}

	c.logger.Debug().Str("key", key).Time("deadline", e.deadline).Msg("Cache hit")
	return e.value, nil
}

// Len returns the number of stored entries, including expired ones not yet drained.
func (c *Expiring[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry.
func (c *Expiring[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *Expiring[T]) removeExpiredLocked(now time.Time) {
	removed := 0
	for len(c.deadlines) > 0 && c.deadlines[0].expiredAt(now) {
		e := heap.Pop(&c.deadlines).(*entry[T])
		delete(c.entries, e.key)
		c.expired.Inc()
		removed++
	}

	if removed > 0 {
		c.logger.Debug().Int("removed", removed).Msg("Removed expired cache entries")
	}
}

func (c *Expiring[T]) clearLocked() {
	c.entries = make(map[string]*entry[T])
	c.deadlines = nil
}
