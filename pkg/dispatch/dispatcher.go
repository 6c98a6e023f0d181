package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/repo-mashup/pkg/mashup"
	"github.com/Sternrassler/repo-mashup/pkg/metrics"
	"github.com/Sternrassler/repo-mashup/pkg/retry"
)

// Retry policy and pool names.
const (
	PrimaryPolicy   = "primary-search"
	SecondaryPolicy = "secondary-search"
	PoolName        = "secondary-search"
)

// Metric names reported by the Dispatcher.
const (
	MetricSearches       = "searches"
	MetricSearchFailures = "search_failures"
	MetricSearchDuration = "search_duration"
)

// ErrShutdown is returned by ExecuteSearch once a parallel Dispatcher has been shut down.
var ErrShutdown = errors.New("dispatcher is shut down")

// RetryConfig is the retry policy for one kind of lookup.
type RetryConfig struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Config holds dispatcher configuration.
type Config struct {
	PrimaryRetry   RetryConfig
	SecondaryRetry RetryConfig

	// Parallelism is the number of pool workers; 0 runs everything on the caller.
	Parallelism int
}

// Dispatcher executes fan-out searches. It is safe for concurrent use.
type Dispatcher struct {
	primary   mashup.PrimaryLookup
	secondary mashup.SecondaryLookup
	config    Config

	logger   zerolog.Logger
	metrics  metrics.Metrics
	searches metrics.Counter
	failures metrics.Counter
	duration metrics.Histogram

	tasks    chan func()
	quit     chan struct{}
	shutdown sync.Once
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics sets the metrics sink. It is also handed to the retry executors.
func WithMetrics(m metrics.Metrics) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// New validates cfg and creates a Dispatcher. In parallel mode the worker pool
// is started here and lives until Shutdown.
func New(primary mashup.PrimaryLookup, secondary mashup.SecondaryLookup, cfg Config, opts ...Option) (*Dispatcher, error) {
	if primary == nil || secondary == nil {
		return nil, fmt.Errorf("%w: lookups must not be nil", retry.ErrInvalidConfiguration)
	}
	if cfg.Parallelism < 0 {
		return nil, fmt.Errorf("%w: parallelism must be >= 0 (got %d)", retry.ErrInvalidConfiguration, cfg.Parallelism)
	}
	if _, err := retry.New(PrimaryPolicy, cfg.PrimaryRetry.MaxAttempts, cfg.PrimaryRetry.Backoff); err != nil {
		return nil, fmt.Errorf("primary retry: %w", err)
	}
	if _, err := retry.New(SecondaryPolicy, cfg.SecondaryRetry.MaxAttempts, cfg.SecondaryRetry.Backoff); err != nil {
		return nil, fmt.Errorf("secondary retry: %w", err)
	}

	d := &Dispatcher{
		primary:   primary,
		secondary: secondary,
		config:    cfg,
		logger:    log.With().Str("component", "dispatch").Logger(),
		metrics:   metrics.Noop{},
		quit:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.searches = d.metrics.Counter(MetricSearches)
	d.failures = d.metrics.Counter(MetricSearchFailures)
	d.duration = d.metrics.Histogram(MetricSearchDuration)

	if cfg.Parallelism > 0 {
		d.tasks = make(chan func())
		for i := 0; i < cfg.Parallelism; i++ {
			go d.worker(fmt.Sprintf("%s-%d", PoolName, i+1))
		}
		d.logger.Info().
			Str("pool", PoolName).
			Int("workers", cfg.Parallelism).
			Msg("Worker pool started")
	}

	return d, nil
}

// Parallel reports whether secondary lookups run on the worker pool.
func (d *Dispatcher) Parallel() bool {
	return d.tasks != nil
}

func (d *Dispatcher) worker(name string) {
	logger := d.logger.With().Str("worker", name).Logger()
	logger.Debug().Msg("Worker started")
	for {
		select {
		case task := <-d.tasks:
			task()
		case <-d.quit:
			logger.Debug().Msg("Worker stopped")
			return
		}
	}
}

// submit hands task to the pool, failing once the pool is shut down.
func (d *Dispatcher) submit(task func()) error {
	select {
	case d.tasks <- task:
		return nil
	case <-d.quit:
		return ErrShutdown
	}
}

// Shutdown stops the worker pool. Tasks already running complete; new
// searches fail with ErrShutdown. It is safe to call more than once and is a
// no-op in sequential mode.
func (d *Dispatcher) Shutdown() {
	if !d.Parallel() {
		return
	}
	d.shutdown.Do(func() {
		close(d.quit)
		d.logger.Info().Str("pool", PoolName).Msg("Worker pool shut down")
	})
}

func (d *Dispatcher) isShutdown() bool {
	select {
	case <-d.quit:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) executor(name string, rc RetryConfig) (*retry.Executor, error) {
	return retry.New(name, rc.MaxAttempts, rc.Backoff,
		retry.WithLogger(d.logger),
		retry.WithMetrics(d.metrics),
	)
}

// outcome is the result of one secondary lookup.
type outcome struct {
	related []mashup.RelatedItem
	err     error
}

// ExecuteSearch runs the primary lookup for keyword and a secondary lookup for
// every subject found. Results follow the primary order. A retry failure is
// returned as *retry.ExhaustedError; no partial result is returned.
func (d *Dispatcher) ExecuteSearch(ctx context.Context, keyword string) (*mashup.AggregateResult, error) {
	keyword, err := mashup.ValidateKeyword(keyword)
	if err != nil {
		return nil, err
	}
	if d.Parallel() && d.isShutdown() {
		return nil, ErrShutdown
	}

	start := time.Now()
	d.searches.Inc()
	defer metrics.ObserveSince(d.duration, start)

	logger := d.logger.With().Str("keyword", keyword).Logger()
	logger.Info().Msg("Search started")

	result, err := d.execute(ctx, keyword)
	if err != nil {
		d.failures.Inc()
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Search failed")
		return nil, err
	}

	logger.Info().
		Int("subjects", len(result.Subjects)).
		Dur("duration", time.Since(start)).
		Msg("Search complete")

	return result, nil
}

func (d *Dispatcher) execute(ctx context.Context, keyword string) (*mashup.AggregateResult, error) {
	primary, err := d.executor(PrimaryPolicy, d.config.PrimaryRetry)
	if err != nil {
		return nil, err
	}

	subjects, err := retry.Do(ctx, primary, func() ([]mashup.Subject, error) {
		return d.primary.FindSubjects(ctx, keyword)
	})
	if err != nil {
		return nil, err
	}

	var outcomes []outcome
	if d.Parallel() {
		outcomes, err = d.fanOut(ctx, subjects)
	} else {
		outcomes, err = d.sequential(ctx, subjects)
	}
	if err != nil {
		return nil, err
	}

	result := &mashup.AggregateResult{Subjects: make([]mashup.SubjectResult, len(subjects))}
	for i, s := range subjects {
		result.Subjects[i] = mashup.SubjectResult{Subject: s, Related: outcomes[i].related}
	}
	return result, nil
}

// lookupRelated runs one retried secondary lookup.
func (d *Dispatcher) lookupRelated(ctx context.Context, subject mashup.Subject) outcome {
	executor, err := d.executor(SecondaryPolicy, d.config.SecondaryRetry)
	if err != nil {
		return outcome{err: err}
	}

	related, err := retry.Do(ctx, executor, func() ([]mashup.RelatedItem, error) {
		return d.secondary.FindRelated(ctx, subject.Name)
	})
	return outcome{related: related, err: err}
}

func (d *Dispatcher) sequential(ctx context.Context, subjects []mashup.Subject) ([]outcome, error) {
	outcomes := make([]outcome, len(subjects))
	for i, s := range subjects {
		outcomes[i] = d.lookupRelated(ctx, s)
		if outcomes[i].err != nil {
			return nil, outcomes[i].err
		}
	}
	return outcomes, nil
}

// fanOut submits one task per subject and joins them by index. Each task
// writes its own slot and then closes its done channel, so slot i is safe to
// read once done[i] is closed.
func (d *Dispatcher) fanOut(ctx context.Context, subjects []mashup.Subject) ([]outcome, error) {
	outcomes := make([]outcome, len(subjects))
	done := make([]chan struct{}, len(subjects))

	for i := range subjects {
		done[i] = make(chan struct{})
		task := func() {
			defer close(done[i])
			defer func() {
				if r := recover(); r != nil {
					outcomes[i] = outcome{err: fmt.Errorf("secondary lookup for %q panicked: %v", subjects[i].Name, r)}
				}
			}()
			outcomes[i] = d.lookupRelated(ctx, subjects[i])
		}
		if err := d.submit(task); err != nil {
			return nil, err
		}
	}

	for i := range subjects {
		<-done[i]
		if outcomes[i].err != nil {
			return nil, outcomes[i].err
		}
	}
	return outcomes, nil
}
