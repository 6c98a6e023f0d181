// Package mashup defines the domain model shared by the lookup, dispatch and
// upstream packages: search requests, subjects, related items, and the
// aggregated search result.
package mashup

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidArgument is returned for malformed caller input. It is never retried.
var ErrInvalidArgument = errors.New("invalid argument")

// Subject is a record returned by the primary lookup (a discovered project).
// Name seeds the secondary lookup.
type Subject struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Forks       int    `json:"forks"`
	Watchers    int    `json:"watchers"`
}

// RelatedItem is a record returned by the secondary lookup for one Subject.
type RelatedItem struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	User        string `json:"user,omitempty"`
	RepostCount int    `json:"repost_count"`
}

// SubjectResult pairs a Subject with the items found for it.
type SubjectResult struct {
	Subject Subject       `json:"subject"`
	Related []RelatedItem `json:"related"`
}

// AggregateResult is the outcome of one search. Subjects are kept in the
// order the primary lookup returned them.
type AggregateResult struct {
	Subjects []SubjectResult `json:"subjects"`
}

// Names returns the subject names in result order.
func (r *AggregateResult) Names() []string {
	names := make([]string, 0, len(r.Subjects))
	for _, s := range r.Subjects {
		names = append(names, s.Subject.Name)
	}
	return names
}

// SearchRequest describes a primary lookup.
type SearchRequest struct {
	Keyword   string
	Limit     int
	SortField string
}

// Canonical returns the normalized form of the request: keyword trimmed,
// limit clamped to (0, maxLimit], sort field trimmed and lower-cased with
// defaultSort as fallback. Semantically identical requests share a canonical form.
func (r SearchRequest) Canonical(maxLimit int, defaultSort string) SearchRequest {
	limit := r.Limit
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}

	sort := strings.ToLower(strings.TrimSpace(r.SortField))
	if sort == "" {
		sort = strings.ToLower(strings.TrimSpace(defaultSort))
	}

	return SearchRequest{
		Keyword:   strings.TrimSpace(r.Keyword),
		Limit:     limit,
		SortField: sort,
	}
}

// Key generates a deterministic cache key string.
// Format: mashup:search:<keyword>:limit=<n>:sort=<field>
//
// Callers are expected to canonicalize the request first.
func (r SearchRequest) Key() string {
	parts := []string{"mashup", "search", r.Keyword, fmt.Sprintf("limit=%d", r.Limit)}
	if r.SortField != "" {
		parts = append(parts, "sort="+r.SortField)
	}
	return strings.Join(parts, ":")
}

// ValidateKeyword trims keyword and rejects empty input.
func ValidateKeyword(keyword string) (string, error) {
	trimmed := strings.TrimSpace(keyword)
	if trimmed == "" {
		return "", fmt.Errorf("%w: keyword must not be empty", ErrInvalidArgument)
	}
	return trimmed, nil
}
