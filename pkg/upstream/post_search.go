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

// PostSearchName is the upstream name of the post search.
const PostSearchName = "post-search"

// RequiredTokenType is the token type the token endpoint must return.
const RequiredTokenType = "bearer"

// Metric names reported by PostSearch.
const (
	MetricSecondaryDuration = "secondary_search_duration"
	MetricSecondaryFailures = "secondary_search_failures"
)

var _ mashup.SecondaryLookup = (*PostSearch)(nil)

// PostSearch finds posts mentioning a subject. It is safe for concurrent use.
type PostSearch struct {
	client    *Client
	session   *Session
	searchURL string
	tokenURL  string
	apiKey    string
	apiSecret string
	count     int

	duration metrics.Histogram
	failures metrics.Counter
}

// NewPostSearch creates the secondary lookup from cfg. The bearer token is
// kept in session.
func NewPostSearch(cfg config.Config, session *Session, opts ...Option) *PostSearch {
	if session == nil {
		session = NewSession()
	}
	o := buildOptions(cfg.HTTPTimeout(), opts)

	return &PostSearch{
		client:    newClient(PostSearchName, cfg.UserAgent, o),
		session:   session,
		searchURL: cfg.PostSearchURL,
		tokenURL:  cfg.PostTokenURL,
		apiKey:    cfg.PostAPIKey,
		apiSecret: cfg.PostAPISecret,
		count:     cfg.RelatedCount,
		duration:  o.metrics.Histogram(MetricSecondaryDuration),
		failures:  o.metrics.Counter(MetricSecondaryFailures),
	}
}

// Client returns the underlying upstream client.
func (p *PostSearch) Client() *Client { return p.client }

// FindRelated returns the posts mentioning subjectName.
// If the cached token was rejected with 401 it is refreshed and the search
// repeated once.
func (p *PostSearch) FindRelated(ctx context.Context, subjectName string) ([]mashup.RelatedItem, error) {
	name, err := mashup.ValidateKeyword(subjectName)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	items, err := p.search(ctx, name, true)
	if err != nil {
		p.failures.Inc()
		return nil, err
	}
	metrics.ObserveSince(p.duration, start)

	return items, nil
}

type postSearchResponse struct {
	Statuses *[]struct {
		IDStr        string `json:"id_str"`
		Text         string `json:"text"`
		RetweetCount int    `json:"retweet_count"`
		User         *struct {
			Name string `json:"name"`
		} `json:"user"`
	} `json:"statuses"`
}

func (p *PostSearch) search(ctx context.Context, name string, refreshOnUnauthorized bool) ([]mashup.RelatedItem, error) {
	token, err := p.session.Token(ctx, p.fetchToken)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(p.searchURL)
	if err != nil {
		return nil, fmt.Errorf("parse post search url: %w", err)
	}
	q := u.Query()
	q.Set("q", name)
	q.Set("count", strconv.Itoa(p.count))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		if refreshOnUnauthorized && IsStatus(err, http.StatusUnauthorized) {
			p.client.logger.Debug().Msg("Bearer token rejected, refreshing")
			p.session.Invalidate(token)
			return p.search(ctx, name, false)
		}
		return nil, err
	}

	var parsed postSearchResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, p.client.invalidResponse(resp.StatusCode, "decode posts: %v", err)
	}
	if parsed.Statuses == nil {
		return nil, p.client.invalidResponse(resp.StatusCode, "field [statuses] missing in post search results")
	}

	items := make([]mashup.RelatedItem, 0, len(*parsed.Statuses))
	for _, st := range *parsed.Statuses {
		item := mashup.RelatedItem{
			ID:          st.IDStr,
			Text:        st.Text,
			RepostCount: st.RetweetCount,
		}
		if st.User != nil {
			item.User = st.User.Name
		}
		items = append(items, item)
	}

	return items, nil
}

type tokenResponse struct {
	TokenType   string `json:"token_type"`
	AccessToken string `json:"access_token"`
}

// fetchToken obtains an application bearer token with the client
// credentials grant.
func (p *PostSearch) fetchToken(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.SetBasicAuth(url.QueryEscape(p.apiKey), url.QueryEscape(p.apiSecret))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}

	var parsed tokenResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return "", p.client.invalidResponse(resp.StatusCode, "decode token: %v", err)
	}
	if !strings.EqualFold(parsed.TokenType, RequiredTokenType) {
		return "", &Error{
			Upstream:   p.client.name,
			StatusCode: resp.StatusCode,
			Class:      ErrorClassAuth,
			Message:    fmt.Sprintf("unexpected token type %q", parsed.TokenType),
			Err:        ErrInvalidResponse,
		}
	}
	if parsed.AccessToken == "" {
		return "", p.client.invalidResponse(resp.StatusCode, "empty access token")
	}

	p.client.logger.Debug().Msg("Obtained bearer token")
	return parsed.AccessToken, nil
}
