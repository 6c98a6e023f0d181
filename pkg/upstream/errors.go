package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the upstream lookups.
var (
	// ErrRateLimited is returned when the rate limit tracker blocks a request
	// or the upstream answers 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrCircuitOpen is returned while the upstream's circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrUnauthorized is returned for 401 responses.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidResponse is returned when a response body cannot be interpreted.
	ErrInvalidResponse = errors.New("invalid upstream response")
)

// ErrorClass represents a classification of upstream errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassAuth represents 401 and 403 responses and token failures.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses and blocked requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassCircuitOpen represents requests rejected by the circuit breaker.
	ErrorClassCircuitOpen ErrorClass = "circuit_open"

	// ErrorClassResponse represents malformed response bodies.
	ErrorClassResponse ErrorClass = "response"
)

// Error is an upstream failure with additional context.
type Error struct {
	Upstream   string
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s error (status %d): %s: %v",
			e.Upstream, e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s error (status %d): %s",
		e.Upstream, e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// statusError builds the Error for an HTTP status >= 400.
func statusError(upstream string, resp *http.Response) *Error {
	e := &Error{
		Upstream:   upstream,
		StatusCode: resp.StatusCode,
		Class:      classifyStatus(resp.StatusCode),
		Message:    resp.Status,
	}
	switch e.StatusCode {
	case http.StatusUnauthorized:
		e.Err = ErrUnauthorized
	case http.StatusTooManyRequests:
		e.Err = ErrRateLimited
	}
	return e
}

func classifyStatus(code int) ErrorClass {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrorClassAuth
	case code >= 400 && code < 500:
		return ErrorClassClient
	case code >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// tripsBreaker reports whether err counts as an upstream outage.
// Client and auth errors are the caller's fault and keep the breaker closed.
func tripsBreaker(err error) bool {
	if err == nil {
		return false
	}
	var ue *Error
	if errors.As(err, &ue) {
		switch ue.Class {
		case ErrorClassClient, ErrorClassAuth:
			return false
		}
	}
	return true
}

// IsStatus reports whether err is an upstream Error with the given status.
func IsStatus(err error, status int) bool {
	var ue *Error
	return errors.As(err, &ue) && ue.StatusCode == status
}
