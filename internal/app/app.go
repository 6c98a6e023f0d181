// Package app wires configuration, stores, upstream clients and the
// dispatcher into a running mashup service.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/repo-mashup/pkg/cache"
	"github.com/Sternrassler/repo-mashup/pkg/config"
	"github.com/Sternrassler/repo-mashup/pkg/dispatch"
	"github.com/Sternrassler/repo-mashup/pkg/lookup"
	"github.com/Sternrassler/repo-mashup/pkg/mashup"
	"github.com/Sternrassler/repo-mashup/pkg/metrics"
	"github.com/Sternrassler/repo-mashup/pkg/ratelimit"
	"github.com/Sternrassler/repo-mashup/pkg/upstream"
)

// CacheName names the primary result cache in logs and metrics.
const CacheName = "primary"

// RedisCachePrefix prefixes primary result keys in Redis.
const RedisCachePrefix = "mashup:cache"

// App is a wired mashup service.
type App struct {
	Config     config.Config
	Metrics    metrics.Metrics
	Dispatcher *dispatch.Dispatcher
	Primary    mashup.PrimaryLookup
	Secondary  mashup.SecondaryLookup
	Redis      *redis.Client

	logger zerolog.Logger
}

// Build creates the service from cfg. Metrics are registered with reg; a nil
// reg selects log-only metrics. When cfg selects the Redis backend, Redis
// must be reachable.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger, reg prometheus.Registerer) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, logger: logger}

	if reg != nil {
		m, err := metrics.NewPrometheus(cfg.MetricsNamespace, reg)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		a.Metrics = m
	} else {
		a.Metrics = metrics.Logging{Logger: logger}
	}

	upstreamOpts := []upstream.Option{
		upstream.WithLogger(logger.With().Str("component", "upstream").Logger()),
		upstream.WithMetrics(a.Metrics),
	}

	if cfg.CacheBackend == config.BackendRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("%w: redis_url: %v", config.ErrInvalidConfig, err)
		}
		a.Redis = redis.NewClient(opts)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Redis.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")

		tracker := ratelimit.NewTracker(a.Redis,
			logger.With().Str("component", "ratelimit").Logger(),
			ratelimit.WithMetrics(a.Metrics),
		)
		upstreamOpts = append(upstreamOpts, upstream.WithRateLimiter(tracker))
	}

	repos := upstream.NewRepoSearch(cfg, upstreamOpts...)
	a.Secondary = upstream.NewPostSearch(cfg, upstream.NewSession(), upstreamOpts...)
	a.Primary = repos

	if cfg.CacheTTL() > 0 {
		a.Primary = lookup.NewCaching(repos, a.newStore(), lookup.Config{
			TTL:       cfg.CacheTTL(),
			MaxLimit:  repos.Limit(),
			SortField: repos.SortField(),
		},
			lookup.WithLogger(logger.With().Str("component", "caching-lookup").Logger()),
			lookup.WithMetrics(a.Metrics),
		)
	}

	d, err := dispatch.New(a.Primary, a.Secondary, dispatch.Config{
		PrimaryRetry: dispatch.RetryConfig{
			MaxAttempts: cfg.PrimaryRetryMaxAttempts,
			Backoff:     cfg.PrimaryRetryBackoff(),
		},
		SecondaryRetry: dispatch.RetryConfig{
			MaxAttempts: cfg.SecondaryRetryMaxAttempts,
			Backoff:     cfg.SecondaryRetryBackoff(),
		},
		Parallelism: cfg.DispatchParallelism,
	},
		dispatch.WithLogger(logger.With().Str("component", "dispatch").Logger()),
		dispatch.WithMetrics(a.Metrics),
	)
	if err != nil {
		a.closeRedis()
		return nil, err
	}
	a.Dispatcher = d

	logger.Info().
		Str("cache_backend", cfg.CacheBackend).
		Dur("cache_ttl", cfg.CacheTTL()).
		Int("parallelism", cfg.DispatchParallelism).
		Msg("Mashup service ready")

	return a, nil
}

func (a *App) newStore() cache.Store[[]mashup.Subject] {
	if a.Redis != nil {
		return cache.NewRedis[[]mashup.Subject](a.Redis, RedisCachePrefix)
	}
	return cache.NewExpiring[[]mashup.Subject](CacheName, a.Config.CacheMaxEntries,
		cache.WithLogger(a.logger.With().Str("component", "cache").Logger()),
		cache.WithMetrics(a.Metrics),
	)
}

// Search runs one fan-out search.
func (a *App) Search(ctx context.Context, keyword string) (*mashup.AggregateResult, error) {
	return a.Dispatcher.ExecuteSearch(ctx, keyword)
}

// Close shuts the dispatcher down and closes Redis.
func (a *App) Close() error {
	if a.Dispatcher != nil {
		a.Dispatcher.Shutdown()
	}
	return a.closeRedis()
}

func (a *App) closeRedis() error {
	if a.Redis == nil {
		return nil
	}
	err := a.Redis.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}
