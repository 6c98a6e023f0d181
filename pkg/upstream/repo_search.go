package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/repo-mashup/pkg/config"
	"github.com/Sternrassler/repo-mashup/pkg/mashup"
	"github.com/Sternrassler/repo-mashup/pkg/metrics"
)

// RepoSearchName is the upstream name of the repository search.
const RepoSearchName = "repo-search"

// Metric names reported by RepoSearch.
const (
	MetricPrimaryDuration = "primary_search_duration"
	MetricPrimaryFailures = "primary_search_failures"
)

var _ mashup.PrimaryLookup = (*RepoSearch)(nil)

// RepoSearch finds repositories matching a keyword.
type RepoSearch struct {
	client  *Client
	baseURL string
	limit   int
	sort    string

	duration metrics.Histogram
	failures metrics.Counter
}

// NewRepoSearch creates the primary lookup from cfg.
func NewRepoSearch(cfg config.Config, opts ...Option) *RepoSearch {
	o := buildOptions(cfg.HTTPTimeout(), opts)
	req := mashup.SearchRequest{Limit: cfg.SearchLimit, SortField: cfg.SearchSortField}.
		Canonical(cfg.SearchLimit, cfg.SearchSortField)

	return &RepoSearch{
		client:   newClient(RepoSearchName, cfg.UserAgent, o),
		baseURL:  cfg.RepoSearchURL,
		limit:    req.Limit,
		sort:     req.SortField,
		duration: o.metrics.Histogram(MetricPrimaryDuration),
		failures: o.metrics.Counter(MetricPrimaryFailures),
	}
}

// Client returns the underlying upstream client.
func (s *RepoSearch) Client() *Client { return s.client }

// Limit returns the maximum number of subjects returned per search.
func (s *RepoSearch) Limit() int { return s.limit }

// SortField returns the sort field sent upstream.
func (s *RepoSearch) SortField() string { return s.sort }

// buildURL returns the search URL.
// Format: <base>?q=<keyword>&sort=<field>&per_page=<limit>
func (s *RepoSearch) buildURL(keyword string) (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse repo search url: %w", err)
	}
	q := u.Query()
	q.Set("q", keyword)
	if s.sort != "" {
		q.Set("sort", s.sort)
	}
	q.Set("per_page", strconv.Itoa(s.limit))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type repoSearchResponse struct {
	Items *[]struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		HTMLURL     string `json:"html_url"`
		URL         string `json:"url"`
		Forks       int    `json:"forks"`
		Watchers    int    `json:"watchers"`
	} `json:"items"`
}

// FindSubjects returns at most Limit repositories for keyword, in the order
// the upstream ranked them.
func (s *RepoSearch) FindSubjects(ctx context.Context, keyword string) ([]mashup.Subject, error) {
	keyword, err := mashup.ValidateKeyword(keyword)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	subjects, err := s.find(ctx, keyword)
	if err != nil {
		s.failures.Inc()
		return nil, err
	}
	metrics.ObserveSince(s.duration, start)

	return subjects, nil
}

func (s *RepoSearch) find(ctx context.Context, keyword string) ([]mashup.Subject, error) {
	searchURL, err := s.buildURL(keyword)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}

	var parsed repoSearchResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, s.client.invalidResponse(resp.StatusCode, "decode search results: %v", err)
	}
	if parsed.Items == nil {
		return nil, s.client.invalidResponse(resp.StatusCode, "field [items] missing in search results")
	}

	items := *parsed.Items
	subjects := make([]mashup.Subject, 0, min(len(items), s.limit))
	for _, it := range items {
		if len(subjects) == s.limit {
			break
		}
		// A nameless subject cannot seed the post search.
		if strings.TrimSpace(it.Name) == "" {
			s.client.logger.Debug().Str("keyword", keyword).Msg("Skipping repository without a name")
			continue
		}
		link := it.HTMLURL
		if link == "" {
			link = it.URL
		}
		subjects = append(subjects, mashup.Subject{
			Name:        it.Name,
			Description: it.Description,
			URL:         link,
			Forks:       it.Forks,
			Watchers:    it.Watchers,
		})
	}

	s.client.logger.Debug().
		Str("keyword", keyword).
		Int("subjects", len(subjects)).
		Msg("Repository search complete")

	return subjects, nil
}
