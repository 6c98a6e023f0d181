package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without cause",
			err:  &Error{Upstream: "repo-search", StatusCode: 503, Class: ErrorClassServer, Message: "503 Service Unavailable"},
			want: "repo-search server error (status 503): 503 Service Unavailable",
		},
		{
			name: "with cause",
			err:  &Error{Upstream: "post-search", StatusCode: 401, Class: ErrorClassAuth, Message: "401 Unauthorized", Err: ErrUnauthorized},
			want: "post-search auth error (status 401): 401 Unauthorized: unauthorized",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	err := fmt.Errorf("lookup: %w", &Error{Upstream: "post-search", StatusCode: 429, Class: ErrorClassRateLimit, Err: ErrRateLimited})

	if !errors.Is(err, ErrRateLimited) {
		t.Error("errors.Is(err, ErrRateLimited) = false")
	}
	if !IsStatus(err, http.StatusTooManyRequests) {
		t.Error("IsStatus(err, 429) = false")
	}
	if IsStatus(errors.New("plain"), http.StatusTooManyRequests) {
		t.Error("IsStatus(plain error) = true")
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want ErrorClass
	}{
		{200, ""},
		{400, ErrorClassClient},
		{401, ErrorClassAuth},
		{403, ErrorClassAuth},
		{404, ErrorClassClient},
		{422, ErrorClassClient},
		{429, ErrorClassRateLimit},
		{500, ErrorClassServer},
		{503, ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			if got := classifyStatus(tt.code); got != tt.want {
				t.Errorf("classifyStatus(%d) = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestTripsBreaker(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"success", nil, false},
		{"client error", &Error{Class: ErrorClassClient}, false},
		{"auth error", &Error{Class: ErrorClassAuth}, false},
		{"server error", &Error{Class: ErrorClassServer}, true},
		{"rate limited", &Error{Class: ErrorClassRateLimit}, true},
		{"network error", &Error{Class: ErrorClassNetwork}, true},
		{"plain error", errors.New("boom"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tripsBreaker(tt.err); got != tt.want {
				t.Errorf("tripsBreaker() = %v, want %v", got, tt.want)
			}
		})
	}
}
