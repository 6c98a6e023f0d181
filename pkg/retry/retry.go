// Package retry runs fallible operations with a fixed number of attempts and
// a fixed backoff between them.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/repo-mashup/pkg/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Executor retries an operation up to MaxAttempts times on the calling
// goroutine. An Executor is immutable and safe for concurrent use.
type Executor struct {
	name        string
	maxAttempts int
	backoff     time.Duration

	logger  zerolog.Logger
	retries metrics.Counter
	failed  metrics.Counter
	sleep   func(ctx context.Context, d time.Duration)
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithMetrics records <name>_retries and <name>_retry_exhausted counters.
func WithMetrics(m metrics.Metrics) Option {
	return func(e *Executor) {
		if m == nil {
			return
		}
		e.retries = m.Counter(e.name + "_retries")
		e.failed = m.Counter(e.name + "_retry_exhausted")
	}
}

// New creates an Executor. name must be non-empty, maxAttempts positive and
// backoff non-negative.
func New(name string, maxAttempts int, backoff time.Duration, opts ...Option) (*Executor, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name must not be empty", ErrInvalidConfiguration)
	}
	if maxAttempts <= 0 {
		return nil, fmt.Errorf("%w: max attempts must be > 0 (got %d)", ErrInvalidConfiguration, maxAttempts)
	}
	if backoff < 0 {
		return nil, fmt.Errorf("%w: backoff must be >= 0 (got %v)", ErrInvalidConfiguration, backoff)
	}

	e := &Executor{
		name:        name,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		logger:      log.With().Str("component", "retry").Logger(),
		retries:     metrics.Noop{}.Counter(""),
		failed:      metrics.Noop{}.Counter(""),
		sleep:       sleepOrWake,
	}
	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Name returns the policy name.
func (e *Executor) Name() string { return e.name }

// MaxAttempts returns the configured attempt count.
func (e *Executor) MaxAttempts() int { return e.maxAttempts }

// Backoff returns the fixed delay between attempts.
func (e *Executor) Backoff() time.Duration { return e.backoff }

// Execute calls fn until it succeeds or the attempts are spent.
// It waits the fixed backoff between attempts but never after the last one.
// If every attempt fails it returns an *ExhaustedError wrapping the last failure.
//
// Context cancellation only cuts a backoff wait short; the next attempt still runs.
func (e *Executor) Execute(ctx context.Context, fn func() error) error {
	if fn == nil {
		return fmt.Errorf("%w: operation must not be nil", ErrInvalidConfiguration)
	}

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				e.logger.Info().
					Str("policy", e.name).
					Int("attempt", attempt).
					Msg("Operation succeeded after retry")
			}
			return nil
		}

		lastErr = err

		if attempt == e.maxAttempts {
			break
		}

		e.retries.Inc()
		e.logger.Warn().
			Err(err).
			Str("policy", e.name).
			Int("attempt", attempt).
			Int("max_attempts", e.maxAttempts).
			Dur("backoff", e.backoff).
			Msg("Attempt failed, retrying after backoff")

		if e.backoff > 0 {
			e.sleep(ctx, e.backoff)
		}
	}

	e.failed.Inc()
	e.logger.Warn().
		Err(lastErr).
		Str("policy", e.name).
		Int("max_attempts", e.maxAttempts).
		Msg("Retry attempts exhausted")

	return &ExhaustedError{Name: e.name, Attempts: e.maxAttempts, Err: lastErr}
}

// Do is the value-returning form of Execute.
func Do[V any](ctx context.Context, e *Executor, fn func() (V, error)) (V, error) {
	var result V
	err := e.Execute(ctx, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// sleepOrWake waits for d or until ctx is done, whichever comes first.
func sleepOrWake(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
