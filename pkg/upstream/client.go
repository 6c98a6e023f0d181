// Package upstream implements the HTTP lookups behind the mashup search: a
// repository search API (primary) and a bearer-authenticated post search API
// (secondary).
//
// Each lookup makes exactly one logical request per call and leaves retrying
// to the caller. Requests go through a per-upstream circuit breaker and,
// when configured, a Redis-backed rate limit tracker.
package upstream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/Sternrassler/repo-mashup/pkg/metrics"
	"github.com/Sternrassler/repo-mashup/pkg/ratelimit"
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 10 << 20

// Breaker defaults.
const (
	DefaultBreakerFailures = 5
	DefaultBreakerTimeout  = 30 * time.Second
)

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type options struct {
	httpClient      *http.Client
	limiter         *ratelimit.Tracker
	logger          *zerolog.Logger
	metrics         metrics.Metrics
	breakerFailures uint32
	breakerTimeout  time.Duration
}

// Option configures an upstream lookup.
type Option func(*options)

// WithHTTPClient sets the HTTP client (for testing).
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithRateLimiter gates requests with a rate limit tracker.
func WithRateLimiter(t *ratelimit.Tracker) Option {
	return func(o *options) {
		o.limiter = t
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithBreaker opens the circuit after failures consecutive failures and keeps
// it open for timeout.
func WithBreaker(failures uint32, timeout time.Duration) Option {
	return func(o *options) {
		o.breakerFailures = failures
		o.breakerTimeout = timeout
	}
}

func buildOptions(timeout time.Duration, opts []Option) options {
	o := options{
		metrics:         metrics.Noop{},
		breakerFailures: DefaultBreakerFailures,
		breakerTimeout:  DefaultBreakerTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: timeout}
	}
	return o
}

// Client executes requests against one upstream.
type Client struct {
	name       string
	userAgent  string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	limiter    *ratelimit.Tracker
	logger     zerolog.Logger

	requests metrics.Counter
	failures metrics.Counter
}

func newClient(name, userAgent string, o options) *Client {
	logger := log.With().Str("component", "upstream").Logger()
	if o.logger != nil {
		logger = *o.logger
	}
	logger = logger.With().Str("upstream", name).Logger()

	c := &Client{
		name:       name,
		userAgent:  userAgent,
		httpClient: o.httpClient,
		limiter:    o.limiter,
		logger:     logger,
		requests:   o.metrics.Counter(name + "_requests"),
		failures:   o.metrics.Counter(name + "_request_failures"),
	}

	failures := o.breakerFailures
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     o.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return !tripsBreaker(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return c
}

// Name returns the upstream name.
func (c *Client) Name() string { return c.name }

// BreakerState returns the circuit breaker state.
func (c *Client) BreakerState() gobreaker.State { return c.breaker.State() }

// Do performs req with rate limiting and circuit breaking. The response is
// fully read. Statuses >= 400 return the Response together with an *Error.
func (c *Client) Do(req *http.Request) (*Response, error) {
	ctx := req.Context()
	c.requests.Inc()

	if c.limiter != nil {
		allowed, err := c.limiter.ShouldAllowRequest(ctx, c.name)
		if err != nil {
			c.failures.Inc()
			c.logger.Error().Err(err).Msg("Rate limit check failed")
			return nil, &Error{Upstream: c.name, Class: ErrorClassNetwork, Message: "rate limit check", Err: err}
		}
		if !allowed {
			c.failures.Inc()
			c.logger.Warn().Str("path", req.URL.Path).Msg("Request blocked by rate limiter")
			return nil, &Error{Upstream: c.name, Class: ErrorClassRateLimit, Message: "request blocked: rate limit critical", Err: ErrRateLimited}
		}
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	c.logger.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Msg("Executing upstream request")

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &Error{Upstream: c.name, Class: ErrorClassCircuitOpen, Message: err.Error(), Err: ErrCircuitOpen}
	}

	resp, _ := out.(*Response)
	if err != nil {
		c.failures.Inc()
		c.logger.Warn().Err(err).Str("path", req.URL.Path).Msg("Upstream request failed")
		return resp, err
	}

	return resp, nil
}

func (c *Client) roundTrip(req *http.Request) (*Response, error) {
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Upstream: c.name, Class: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, &Error{Upstream: c.name, StatusCode: httpResp.StatusCode, Class: ErrorClassNetwork, Message: "read body", Err: err}
	}

	if c.limiter != nil {
		if err := c.limiter.UpdateFromHeaders(req.Context(), c.name, httpResp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}

	if httpResp.StatusCode >= 400 {
		return resp, statusError(c.name, httpResp)
	}
	return resp, nil
}

// invalidResponse wraps a decoding failure.
func (c *Client) invalidResponse(status int, format string, args ...any) error {
	return &Error{
		Upstream:   c.name,
		StatusCode: status,
		Class:      ErrorClassResponse,
		Message:    fmt.Sprintf(format, args...),
		Err:        ErrInvalidResponse,
	}
}
