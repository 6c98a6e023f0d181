// Package ratelimit tracks upstream request quotas and gates requests.
// It reads the X-RateLimit-Remaining and X-RateLimit-Reset response headers
// and shares the resulting state across instances via Redis.
package ratelimit

import (
	"time"
)

// Response headers carrying the upstream quota.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// KeyPrefix is the Redis key prefix for rate limit state.
const KeyPrefix = "mashup:rate_limit"

// Thresholds for rate limit decisions.
const (
	// ThresholdCritical blocks requests when remaining falls below this value.
	ThresholdCritical = 1

	// ThresholdWarning applies throttling when remaining falls below this value.
	ThresholdWarning = 5

	// ThresholdHealthy indicates normal operation.
	ThresholdHealthy = 20
)

// Keys are the Redis keys holding the state of one upstream.
type Keys struct {
	Remaining  string
	Reset      string
	LastUpdate string
}

// KeysFor returns the Redis keys for upstream.
// Format: mashup:rate_limit:<upstream>:<field>
func KeysFor(upstream string) Keys {
	base := KeyPrefix + ":" + upstream + ":"
	return Keys{
		Remaining:  base + "remaining",
		Reset:      base + "reset_timestamp",
		LastUpdate: base + "last_update",
	}
}

// State is the rate limit state of one upstream.
type State struct {
	Upstream string `json:"upstream"`

	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last read from response headers.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge at now.
func (s *State) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should be blocked.
func (s *State) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *State) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the window resets, or 0 if it
// already has.
func (s *State) TimeUntilReset(now time.Time) time.Duration {
	d := s.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth updates IsHealthy from Remaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}
