// Package testutil provides testing utilities for the mashup upstream clients.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Paths served by MockUpstream.
const (
	RepoSearchPath = "/search/repositories"
	TokenPath      = "/oauth2/token"
	PostSearchPath = "/search/tweets.json"
)

// Default credentials accepted by the token endpoint.
const (
	DefaultAPIKey    = "test-key"
	DefaultAPISecret = "test-secret"
)

// MockResponse defines a canned response for a path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// Repo is a repository record served by the search endpoint.
type Repo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	HTMLURL     string `json:"html_url,omitempty"`
	Forks       int    `json:"forks"`
	Watchers    int    `json:"watchers"`
}

// Post is a status record served by the post search endpoint.
type Post struct {
	IDStr        string `json:"id_str"`
	Text         string `json:"text"`
	RetweetCount int    `json:"retweet_count"`
	User         struct {
		Name string `json:"name"`
	} `json:"user"`
}

// NewPost builds a Post.
func NewPost(id, text, user string, reposts int) Post {
	p := Post{IDStr: id, Text: text, RetweetCount: reposts}
	p.User.Name = user
	return p
}

type failure struct {
	remaining int
	status    int
}

// MockUpstream is a configurable fake of the repository search API and the
// bearer-authenticated post search API.
type MockUpstream struct {
	server *httptest.Server

	mu        sync.RWMutex
	overrides map[string]MockResponse
	failures  map[string]*failure
	repos     map[string][]Repo
	posts     map[string][]Post
	delays    map[string]time.Duration
	requests  map[string]int
	token     string
	tokens    int
	rateLimit map[string]string

	lastHeader http.Header
	lastQuery  url.Values
}

// NewMockUpstream starts a mock server.
func NewMockUpstream() *MockUpstream {
	m := &MockUpstream{
		overrides: make(map[string]MockResponse),
		failures:  make(map[string]*failure),
		repos:     make(map[string][]Repo),
		posts:     make(map[string][]Post),
		delays:    make(map[string]time.Duration),
		requests:  make(map[string]int),
	}
	m.rotateTokenLocked()

	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// URL returns the mock server base URL.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// RepoSearchURL returns the repository search endpoint.
func (m *MockUpstream) RepoSearchURL() string { return m.server.URL + RepoSearchPath }

// TokenURL returns the bearer token endpoint.
func (m *MockUpstream) TokenURL() string { return m.server.URL + TokenPath }

// PostSearchURL returns the post search endpoint.
func (m *MockUpstream) PostSearchURL() string { return m.server.URL + PostSearchPath }

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// SetResponse replaces the behaviour of path with a canned response.
func (m *MockUpstream) SetResponse(path string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[path] = resp
}

// SetRepos sets the repositories returned for keyword.
func (m *MockUpstream) SetRepos(keyword string, repos ...Repo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repos[keyword] = repos
}

// SetPosts sets the posts returned for subject.
func (m *MockUpstream) SetPosts(subject string, posts ...Post) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts[subject] = posts
}

// SetDelay delays post search responses for subject.
func (m *MockUpstream) SetDelay(subject string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[subject] = d
}

// FailNext makes the next n requests to path answer with status.
func (m *MockUpstream) FailNext(path string, n, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = &failure{remaining: n, status: status}
}

// SetRateLimit adds X-RateLimit headers to every response.
func (m *MockUpstream) SetRateLimit(remaining int, reset time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimit = map[string]string{
		"X-RateLimit-Remaining": strconv.Itoa(remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(reset.Unix(), 10),
	}
}

// RevokeToken invalidates the current bearer token; requests using it get 401.
func (m *MockUpstream) RevokeToken() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotateTokenLocked()
}

func (m *MockUpstream) rotateTokenLocked() {
	m.tokens++
	m.token = "token-" + strconv.Itoa(m.tokens)
}

// RequestCount returns the number of requests made to path.
func (m *MockUpstream) RequestCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[path]
}

// LastRequestHeader returns the header of the most recent request.
func (m *MockUpstream) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

// LastQuery returns the query of the most recent request.
func (m *MockUpstream) LastQuery() url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastQuery
}

func (m *MockUpstream) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests[r.URL.Path]++
	m.lastHeader = r.Header.Clone()
	m.lastQuery = r.URL.Query()
	for k, v := range m.rateLimit {
		w.Header().Set(k, v)
	}
	override, hasOverride := m.overrides[r.URL.Path]
	var failStatus int
	if f, ok := m.failures[r.URL.Path]; ok && f.remaining > 0 {
		f.remaining--
		failStatus = f.status
	}
	m.mu.Unlock()

	if failStatus != 0 {
		writeJSON(w, failStatus, map[string]string{"error": http.StatusText(failStatus)})
		return
	}

	if hasOverride {
		if override.Delay > 0 {
			time.Sleep(override.Delay)
		}
		for k, v := range override.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(override.StatusCode)
		if override.Body != "" {
			w.Write([]byte(override.Body))
		}
		return
	}

	switch r.URL.Path {
	case RepoSearchPath:
		m.serveRepos(w, r)
	case TokenPath:
		m.serveToken(w, r)
	case PostSearchPath:
		m.servePosts(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (m *MockUpstream) serveRepos(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	repos := m.repos[r.URL.Query().Get("q")]
	m.mu.RUnlock()

	if repos == nil {
		repos = []Repo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"total_count": len(repos), "items": repos})
}

func (m *MockUpstream) serveToken(w http.ResponseWriter, r *http.Request) {
	key, secret, ok := r.BasicAuth()
	if r.Method != http.MethodPost || !ok || key != DefaultAPIKey || secret != DefaultAPISecret {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid credentials"})
		return
	}
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid grant"})
		return
	}

	m.mu.RLock()
	token := m.token
	m.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]string{"token_type": "bearer", "access_token": token})
}

func (m *MockUpstream) servePosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")

	m.mu.RLock()
	token := m.token
	posts, found := m.posts[q]
	delay := m.delays[q]
	m.mu.RUnlock()

	if r.Header.Get("Authorization") != "Bearer "+token {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
		return
	}

	if delay > 0 {
		time.Sleep(delay)
	}

	if !found {
		posts = []Post{NewPost(q+"-1", "about "+q, "tester", 1)}
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("count")); err == nil && n >= 0 && n < len(posts) {
		posts = posts[:n]
	}

	writeJSON(w, http.StatusOK, map[string]any{"statuses": posts})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
