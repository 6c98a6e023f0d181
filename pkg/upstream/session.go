package upstream

import (
	"context"
	"sync"
)

// Session holds the bearer token of the post search API. It is safe for
// concurrent use; a missing token is fetched by one caller while the others wait.
type Session struct {
	mu    sync.Mutex
	token string
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{}
}

// Token returns the cached token, calling fetch when none is cached.
func (s *Session) Token(ctx context.Context, fetch func(context.Context) (string, error)) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" {
		return s.token, nil
	}

	token, err := fetch(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	return token, nil
}

// Invalidate drops token if it is still the cached one. A token refreshed by
// another caller in the meantime is kept.
func (s *Session) Invalidate(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == token {
		s.token = ""
	}
}

// Cached returns the cached token, or "" if there is none.
func (s *Session) Cached() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}
