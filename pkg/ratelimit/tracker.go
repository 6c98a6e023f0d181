package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/repo-mashup/pkg/metrics"
)

// DefaultThrottleDelay is the pause applied under the warning threshold.
const DefaultThrottleDelay = time.Second

// stateRetention keeps state around this long after the window resets.
const stateRetention = time.Minute

// Tracker monitors upstream rate limits and gates requests.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger

	metrics  metrics.Metrics
	throttle time.Duration
	now      func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMetrics records <upstream>_rate_limit_blocks and
// <upstream>_rate_limit_throttles counters.
func WithMetrics(m metrics.Metrics) Option {
	return func(t *Tracker) {
		if m != nil {
			t.metrics = m
		}
	}
}

// WithThrottleDelay overrides DefaultThrottleDelay.
func WithThrottleDelay(d time.Duration) Option {
	return func(t *Tracker) {
		t.throttle = d
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a new rate limit tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		redis:    redisClient,
		logger:   logger,
		metrics:  metrics.Noop{},
		throttle: DefaultThrottleDelay,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GetState retrieves the state of upstream from Redis.
// Returns a healthy default state if nothing was recorded yet.
func (t *Tracker) GetState(ctx context.Context, upstream string) (*State, error) {
	keys := KeysFor(upstream)

	values, err := t.redis.MGet(ctx, keys.Remaining, keys.Reset, keys.LastUpdate).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}

	if values[0] == nil {
		t.logger.Debug().Str("upstream", upstream).Msg("No rate limit state in Redis, returning default healthy state")
		now := t.now()
		return &State{
			Upstream:   upstream,
			Remaining:  ThresholdHealthy,
			ResetAt:    now,
			LastUpdate: now,
			IsHealthy:  true,
		}, nil
	}

	remaining, err := intValue(values[0])
	if err != nil {
		return nil, fmt.Errorf("parse remaining: %w", err)
	}
	reset, err := intValue(values[1])
	if err != nil {
		return nil, fmt.Errorf("parse reset timestamp: %w", err)
	}
	lastUpdate, err := intValue(values[2])
	if err != nil {
		return nil, fmt.Errorf("parse last update: %w", err)
	}

	state := &State{
		Upstream:   upstream,
		Remaining:  int(remaining),
		ResetAt:    time.Unix(reset, 0),
		LastUpdate: time.UnixMilli(lastUpdate),
	}
	state.UpdateHealth()

	return state, nil
}

func intValue(v any) (int64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, errors.New("missing value")
	}
	return strconv.ParseInt(s, 10, 64)
}

// UpdateFromHeaders parses rate limit headers of an upstream response and
// stores the state in Redis. Responses without the headers are ignored.
// X-RateLimit-Reset is the epoch second at which the window resets.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, upstream string, headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", HeaderReset)
	}

	resetEpoch, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	now := t.now()
	state := &State{
		Upstream:   upstream,
		Remaining:  remain,
		ResetAt:    time.Unix(resetEpoch, 0),
		LastUpdate: now,
	}
	state.UpdateHealth()

	expiration := state.TimeUntilReset(now) + stateRetention
	keys := KeysFor(upstream)

	pipe := t.redis.TxPipeline()
	pipe.Set(ctx, keys.Remaining, remain, expiration)
	pipe.Set(ctx, keys.Reset, resetEpoch, expiration)
	pipe.Set(ctx, keys.LastUpdate, now.UnixMilli(), expiration)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Str("upstream", upstream).
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit CRITICAL - requests will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().
			Str("upstream", upstream).
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit WARNING - requests will be throttled")
	default:
		t.logger.Debug().
			Str("upstream", upstream).
			Int("remaining", remain).
			Bool("is_healthy", state.IsHealthy).
			Msg("Rate limit state updated")
	}

	return nil
}

// ShouldAllowRequest reports whether a request to upstream may be sent.
// It returns false while the quota is exhausted and the window has not reset.
// Under the warning threshold it pauses for the throttle delay first; a done
// ctx ends the pause and is returned as an error.
func (t *Tracker) ShouldAllowRequest(ctx context.Context, upstream string) (bool, error) {
	state, err := t.GetState(ctx, upstream)
	if err != nil {
		return false, err
	}

	now := t.now()

	if state.NeedsCriticalBlock() {
		wait := state.TimeUntilReset(now)
		if wait > 0 {
			t.logger.Error().
				Str("upstream", upstream).
				Int("remaining", state.Remaining).
				Dur("wait_duration", wait).
				Msg("Rate limit critical - blocking request")

			t.metrics.Counter(upstream + "_rate_limit_blocks").Inc()
			return false, nil
		}
		return true, nil
	}

	if state.NeedsThrottling() {
		t.logger.Warn().
			Str("upstream", upstream).
			Int("remaining", state.Remaining).
			Msg("Rate limit warning - throttling request")

		t.metrics.Counter(upstream + "_rate_limit_throttles").Inc()

		timer := time.NewTimer(t.throttle)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	return true, nil
}
