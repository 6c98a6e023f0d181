// Package lookup provides decorators around the primary lookup.
package lookup

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/repo-mashup/pkg/cache"
	"github.com/Sternrassler/repo-mashup/pkg/mashup"
	"github.com/Sternrassler/repo-mashup/pkg/metrics"
)

var _ mashup.PrimaryLookup = (*Caching)(nil)

// Metric names reported by Caching.
const (
	MetricCacheHits   = "primary_cache_hits"
	MetricCacheMisses = "primary_cache_misses"
	MetricCacheErrors = "primary_cache_errors"
)

// Config controls cache keys and entry lifetime.
type Config struct {
	// TTL is how long successful results stay cached. TTL <= 0 disables caching.
	TTL time.Duration

	// MaxLimit and SortField are the search parameters the wrapped lookup uses;
	// they are part of the canonical cache key.
	MaxLimit  int
	SortField string
}

// Caching wraps a PrimaryLookup with a cache store. Only successful results
// are cached. Store failures are treated as misses and never fail a lookup.
type Caching struct {
	inner  mashup.PrimaryLookup
	store  cache.Store[[]mashup.Subject]
	config Config
	logger zerolog.Logger

	hits   metrics.Counter
	misses metrics.Counter
	errors metrics.Counter
}

// Option configures Caching.
type Option func(*Caching)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Caching) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) Option {
	return func(c *Caching) {
		if m == nil {
			return
		}
		c.hits = m.Counter(MetricCacheHits)
		c.misses = m.Counter(MetricCacheMisses)
		c.errors = m.Counter(MetricCacheErrors)
	}
}

// NewCaching decorates inner with store.
func NewCaching(inner mashup.PrimaryLookup, store cache.Store[[]mashup.Subject], cfg Config, opts ...Option) *Caching {
	if inner == nil {
		panic("inner lookup cannot be nil")
	}

	noop := metrics.Noop{}
	c := &Caching{
		inner:  inner,
		store:  store,
		config: cfg,
		logger: log.With().Str("component", "caching-lookup").Logger(),
		hits:   noop.Counter(MetricCacheHits),
		misses: noop.Counter(MetricCacheMisses),
		errors: noop.Counter(MetricCacheErrors),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Key returns the cache key used for keyword.
func (c *Caching) Key(keyword string) string {
	return mashup.SearchRequest{
		Keyword:   keyword,
		Limit:     c.config.MaxLimit,
		SortField: c.config.SortField,
	}.Canonical(c.config.MaxLimit, c.config.SortField).Key()
}

func (c *Caching) enabled() bool {
	return c.config.TTL > 0 && c.store != nil
}

// FindSubjects returns cached subjects for keyword or calls the wrapped lookup.
// A hit returns a copy, so callers may modify the slice freely.
func (c *Caching) FindSubjects(ctx context.Context, keyword string) ([]mashup.Subject, error) {
	if _, err := mashup.ValidateKeyword(keyword); err != nil {
		return nil, err
	}

	if !c.enabled() {
		c.misses.Inc()
		return c.inner.FindSubjects(ctx, keyword)
	}

	key := c.Key(keyword)

	if subjects, ok := c.read(ctx, key); ok {
		c.hits.Inc()
		c.logger.Info().Str("key", key).Int("subjects", len(subjects)).Msg("Found cached subjects")
		return slices.Clone(subjects), nil
	}

	c.misses.Inc()
	subjects, err := c.inner.FindSubjects(ctx, keyword)
	if err != nil {
		return nil, err
	}

	c.write(ctx, key, subjects)

	return subjects, nil
}

// read returns the cached subjects, treating every store failure as a miss.
func (c *Caching) read(ctx context.Context, key string) (subjects []mashup.Subject, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.errors.Inc()
			c.logger.Warn().Interface("panic", r).Str("key", key).Msg("Cache read panicked, treating as miss")
			subjects, ok = nil, false
		}
	}()

	subjects, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		return subjects, true
	case errors.Is(err, cache.ErrCacheMiss):
		c.logger.Debug().Str("key", key).Msg("Cache miss")
	default:
		c.errors.Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("Cache get error, treating as miss")
	}
	return nil, false
}

func (c *Caching) write(ctx context.Context, key string, subjects []mashup.Subject) {
	defer func() {
		if r := recover(); r != nil {
			c.errors.Inc()
			c.logger.Warn().Interface("panic", r).Str("key", key).Msg("Cache write panicked")
		}
	}()

	if err := c.store.Set(ctx, key, subjects, c.config.TTL); err != nil {
		c.errors.Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache subjects")
		return
	}

	c.logger.Debug().
		Str("key", key).
		Dur("ttl", c.config.TTL).
		Msg("Cached subjects")
}
