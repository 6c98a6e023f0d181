// Package config loads the mashup service configuration from an optional
// YAML file and MASHUP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/repo-mashup/pkg/logging"
)

// ErrInvalidConfig is returned when a configuration value is out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// EnvPrefix is the prefix of all environment overrides.
const EnvPrefix = "MASHUP_"

// Cache backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds the service configuration. It is a plain value: components
// receive what they need at construction time and never read it globally.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`

	ListenAddr       string `yaml:"listen_addr"`
	MetricsNamespace string `yaml:"metrics_namespace"`

	PrimaryRetryMaxAttempts   int `yaml:"primary_retry_max_attempts"`
	PrimaryRetryBackoffMs     int `yaml:"primary_retry_backoff_ms"`
	SecondaryRetryMaxAttempts int `yaml:"secondary_retry_max_attempts"`
	SecondaryRetryBackoffMs   int `yaml:"secondary_retry_backoff_ms"`
	DispatchParallelism       int `yaml:"dispatch_parallelism"`

	CacheBackend    string `yaml:"cache_backend"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	CacheMaxEntries int    `yaml:"cache_max_entries"`
	RedisURL        string `yaml:"redis_url"`

	SearchLimit     int    `yaml:"search_limit"`
	SearchSortField string `yaml:"search_sort_field"`
	RelatedCount    int    `yaml:"related_count"`
	HTTPTimeoutMs   int    `yaml:"http_timeout_ms"`
	UserAgent       string `yaml:"user_agent"`

	RepoSearchURL string `yaml:"repo_search_url"`
	PostSearchURL string `yaml:"post_search_url"`
	PostTokenURL  string `yaml:"post_token_url"`
	PostAPIKey    string `yaml:"post_api_key"`
	PostAPISecret string `yaml:"post_api_secret"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:         "info",
		ListenAddr:       ":8080",
		MetricsNamespace: "mashup",

		PrimaryRetryMaxAttempts:   3,
		PrimaryRetryBackoffMs:     1000,
		SecondaryRetryMaxAttempts: 3,
		SecondaryRetryBackoffMs:   500,
		DispatchParallelism:       4,

		CacheBackend:    BackendMemory,
		CacheTTLSeconds: 60,
		CacheMaxEntries: 1000,
		RedisURL:        "redis://localhost:6379/0",

		SearchLimit:     10,
		SearchSortField: "stars",
		RelatedCount:    10,
		HTTPTimeoutMs:   10000,
		UserAgent:       "repo-mashup/0.1.0",

		RepoSearchURL: "https://api.github.com/search/repositories",
		PostSearchURL: "https://api.twitter.com/1.1/search/tweets.json",
		PostTokenURL:  "https://api.twitter.com/oauth2/token",
	}
}

// Load returns Default overlaid with the YAML file at path (skipped when path
// is empty or the file does not exist) and MASHUP_* environment variables.
// The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LOG_LEVEL":         &c.LogLevel,
		"LISTEN_ADDR":       &c.ListenAddr,
		"METRICS_NAMESPACE": &c.MetricsNamespace,
		"CACHE_BACKEND":     &c.CacheBackend,
		"REDIS_URL":         &c.RedisURL,
		"SEARCH_SORT_FIELD": &c.SearchSortField,
		"USER_AGENT":        &c.UserAgent,
		"REPO_SEARCH_URL":   &c.RepoSearchURL,
		"POST_SEARCH_URL":   &c.PostSearchURL,
		"POST_TOKEN_URL":    &c.PostTokenURL,
		"POST_API_KEY":      &c.PostAPIKey,
		"POST_API_SECRET":   &c.PostAPISecret,
	}
	ints := map[string]*int{
		"PRIMARY_RETRY_MAX_ATTEMPTS":   &c.PrimaryRetryMaxAttempts,
		"PRIMARY_RETRY_BACKOFF_MS":     &c.PrimaryRetryBackoffMs,
		"SECONDARY_RETRY_MAX_ATTEMPTS": &c.SecondaryRetryMaxAttempts,
		"SECONDARY_RETRY_BACKOFF_MS":   &c.SecondaryRetryBackoffMs,
		"DISPATCH_PARALLELISM":         &c.DispatchParallelism,
		"CACHE_TTL_SECONDS":            &c.CacheTTLSeconds,
		"CACHE_MAX_ENTRIES":            &c.CacheMaxEntries,
		"SEARCH_LIMIT":                 &c.SearchLimit,
		"RELATED_COUNT":                &c.RelatedCount,
		"HTTP_TIMEOUT_MS":              &c.HTTPTimeoutMs,
	}

	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	for name, dst := range ints {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q is not an integer", ErrInvalidConfig, EnvPrefix, name, v)
		}
		*dst = n
	}
	if v, ok := lookup(EnvPrefix + "LOG_PRETTY"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %sLOG_PRETTY=%q is not a boolean", ErrInvalidConfig, EnvPrefix, v)
		}
		c.LogPretty = b
	}

	return nil
}

// Validate checks every value and reports all problems at once.
func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.PrimaryRetryMaxAttempts > 0, "primary_retry_max_attempts must be > 0 (got %d)", c.PrimaryRetryMaxAttempts)
	check(c.PrimaryRetryBackoffMs >= 0, "primary_retry_backoff_ms must be >= 0 (got %d)", c.PrimaryRetryBackoffMs)
	check(c.SecondaryRetryMaxAttempts > 0, "secondary_retry_max_attempts must be > 0 (got %d)", c.SecondaryRetryMaxAttempts)
	check(c.SecondaryRetryBackoffMs >= 0, "secondary_retry_backoff_ms must be >= 0 (got %d)", c.SecondaryRetryBackoffMs)
	check(c.DispatchParallelism >= 0, "dispatch_parallelism must be >= 0 (got %d)", c.DispatchParallelism)
	check(c.CacheMaxEntries > 0, "cache_max_entries must be > 0 (got %d)", c.CacheMaxEntries)
	check(c.SearchLimit > 0, "search_limit must be > 0 (got %d)", c.SearchLimit)
	check(c.RelatedCount > 0, "related_count must be > 0 (got %d)", c.RelatedCount)
	check(c.HTTPTimeoutMs > 0, "http_timeout_ms must be > 0 (got %d)", c.HTTPTimeoutMs)
	check(c.CacheBackend == BackendMemory || c.CacheBackend == BackendRedis,
		"cache_backend must be %q or %q (got %q)", BackendMemory, BackendRedis, c.CacheBackend)

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}

	for name, raw := range map[string]string{
		"repo_search_url": c.RepoSearchURL,
		"post_search_url": c.PostSearchURL,
		"post_token_url":  c.PostTokenURL,
	} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, fmt.Sprintf("%s must be an absolute URL (got %q)", name, raw))
		}
	}

	if c.CacheBackend == BackendRedis {
		check(c.RedisURL != "", "redis_url is required when cache_backend is %q", BackendRedis)
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// PrimaryRetryBackoff returns the primary lookup backoff.
func (c Config) PrimaryRetryBackoff() time.Duration {
	return time.Duration(c.PrimaryRetryBackoffMs) * time.Millisecond
}

// SecondaryRetryBackoff returns the secondary lookup backoff.
func (c Config) SecondaryRetryBackoff() time.Duration {
	return time.Duration(c.SecondaryRetryBackoffMs) * time.Millisecond
}

// CacheTTL returns the cache entry lifetime. Zero or negative disables caching.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// HTTPTimeout returns the timeout for a single upstream request.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutMs) * time.Millisecond
}
