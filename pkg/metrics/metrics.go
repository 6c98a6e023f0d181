// Package metrics provides the counter/histogram sink used by the mashup
// components, with Prometheus, logging-only and no-op implementations.
//
// Components ask for instruments by name; the Prometheus implementation maps
// every name onto a label of two shared vectors so callers never have to
// register collectors themselves.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registerer used by the mashup service.
var Registry = prometheus.DefaultRegisterer

// Counter is a monotonically increasing value.
type Counter interface {
	Inc()
}

// Histogram records observed durations in milliseconds.
type Histogram interface {
	Observe(millis float64)
}

// Metrics hands out named instruments. Implementations must be safe for
// concurrent use.
type Metrics interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// ObserveSince records the milliseconds elapsed since start.
func ObserveSince(h Histogram, start time.Time) {
	h.Observe(float64(time.Since(start)) / float64(time.Millisecond))
}

// Noop discards everything.
type Noop struct{}

type noopInstrument struct{}

func (noopInstrument) Inc()            {}
func (noopInstrument) Observe(float64) {}

// Counter returns a counter that does nothing.
func (Noop) Counter(string) Counter { return noopInstrument{} }

// Histogram returns a histogram that does nothing.
func (Noop) Histogram(string) Histogram { return noopInstrument{} }

// Logging writes every increment and observation to a logger at debug level.
type Logging struct {
	Logger zerolog.Logger
}

type loggingCounter struct {
	name   string
	logger zerolog.Logger
}

func (c loggingCounter) Inc() {
	c.logger.Debug().Str("metric", c.name).Msg("Counter incremented")
}

type loggingHistogram struct {
	name   string
	logger zerolog.Logger
}

func (h loggingHistogram) Observe(millis float64) {
	h.logger.Debug().Str("metric", h.name).Float64("value_ms", millis).Msg("Histogram observed")
}

// Counter returns a logging counter.
func (l Logging) Counter(name string) Counter {
	return loggingCounter{name: name, logger: l.Logger}
}

// Histogram returns a logging histogram.
func (l Logging) Histogram(name string) Histogram {
	return loggingHistogram{name: name, logger: l.Logger}
}

// Prometheus maps named instruments onto labelled Prometheus vectors:
//   - <namespace>_events_total{name} (Counter)
//   - <namespace>_duration_milliseconds{name} (Histogram)
type Prometheus struct {
	counters   *prometheus.CounterVec
	histograms *prometheus.HistogramVec

	mu    sync.RWMutex
	cache map[string]Counter
}

// NewPrometheus creates the vectors and registers them with reg.
// If the collectors are already registered the existing ones are reused.
func NewPrometheus(namespace string, reg prometheus.Registerer) (*Prometheus, error) {
	counters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Total number of mashup events by name",
	}, []string{"name"})

	histograms := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "duration_milliseconds",
		Help:      "Duration of mashup operations in milliseconds by name",
		Buckets:   []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"name"})

	if reg != nil {
		var err error
		if counters, err = registerOrReuse(reg, counters); err != nil {
			return nil, err
		}
		if histograms, err = registerOrReuse(reg, histograms); err != nil {
			return nil, err
		}
	}

	return &Prometheus{
		counters:   counters,
		histograms: histograms,
		cache:      make(map[string]Counter),
	}, nil
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Counter returns the counter labelled with name.
func (p *Prometheus) Counter(name string) Counter {
	p.mu.RLock()
	c, ok := p.cache[name]
	p.mu.RUnlock()
	if ok {
		return c
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.cache[name]; ok {
		return c
	}
	c = p.counters.WithLabelValues(name)
	p.cache[name] = c
	return c
}

// Histogram returns the histogram labelled with name.
func (p *Prometheus) Histogram(name string) Histogram {
	return p.histograms.WithLabelValues(name)
}

// Metric names used across the mashup service.
//
// Cache (pkg/lookup):
//   - primary_cache_hits, primary_cache_misses, primary_cache_errors
//
// Retry (pkg/retry), one pair per policy name:
//   - <policy>_retries, <policy>_retry_exhausted
//
// Dispatch (pkg/dispatch):
//   - searches, search_failures (Counter)
//   - search_duration (Histogram)
//
// Upstream (pkg/upstream):
//   - primary_search_duration, secondary_search_duration (Histogram)
//   - primary_search_failures, secondary_search_failures (Counter)
//
// Example Prometheus queries:
//
//	# Cache hit rate
//	sum(rate(mashup_events_total{name="primary_cache_hits"}[5m])) /
//	sum(rate(mashup_events_total{name=~"primary_cache_(hits|misses)"}[5m]))
//
//	# P95 search latency
//	histogram_quantile(0.95, rate(mashup_duration_milliseconds_bucket{name="search_duration"}[5m]))
