package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"primary attempts", cfg.PrimaryRetryMaxAttempts, 3},
		{"primary backoff", cfg.PrimaryRetryBackoff(), time.Second},
		{"secondary attempts", cfg.SecondaryRetryMaxAttempts, 3},
		{"secondary backoff", cfg.SecondaryRetryBackoff(), 500 * time.Millisecond},
		{"parallelism", cfg.DispatchParallelism, 4},
		{"cache ttl", cfg.CacheTTL(), time.Minute},
		{"cache max entries", cfg.CacheMaxEntries, 1000},
		{"search limit", cfg.SearchLimit, 10},
		{"sort field", cfg.SearchSortField, "stars"},
		{"backend", cfg.CacheBackend, BackendMemory},
		{"http timeout", cfg.HTTPTimeout(), 10 * time.Second},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mashup.yaml")
	content := `
primary_retry_max_attempts: 5
secondary_retry_backoff_ms: 0
dispatch_parallelism: 0
cache_ttl_seconds: 0
search_sort_field: updated
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.PrimaryRetryMaxAttempts != 5 {
		t.Errorf("PrimaryRetryMaxAttempts = %d, want 5", cfg.PrimaryRetryMaxAttempts)
	}
	if cfg.SecondaryRetryBackoff() != 0 {
		t.Errorf("SecondaryRetryBackoff() = %v, want 0", cfg.SecondaryRetryBackoff())
	}
	if cfg.DispatchParallelism != 0 {
		t.Errorf("DispatchParallelism = %d, want 0", cfg.DispatchParallelism)
	}
	if cfg.CacheTTL() != 0 {
		t.Errorf("CacheTTL() = %v, want 0", cfg.CacheTTL())
	}
	if cfg.SearchSortField != "updated" {
		t.Errorf("SearchSortField = %q, want updated", cfg.SearchSortField)
	}
	// untouched keys keep their defaults
	if cfg.SecondaryRetryMaxAttempts != 3 {
		t.Errorf("SecondaryRetryMaxAttempts = %d, want 3", cfg.SecondaryRetryMaxAttempts)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg != Default() {
		t.Errorf("Load() = %+v, want defaults", cfg)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("primary_retry_max_attempts: [1, 2"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load() expected parse error")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mashup.yaml")
	if err := os.WriteFile(path, []byte("dispatch_parallelism: 2\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("MASHUP_DISPATCH_PARALLELISM", "8")
	t.Setenv("MASHUP_CACHE_BACKEND", "redis")
	t.Setenv("MASHUP_LOG_PRETTY", "true")
	t.Setenv("MASHUP_POST_API_KEY", "key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DispatchParallelism != 8 {
		t.Errorf("DispatchParallelism = %d, want 8 (env wins over file)", cfg.DispatchParallelism)
	}
	if cfg.CacheBackend != BackendRedis {
		t.Errorf("CacheBackend = %q, want redis", cfg.CacheBackend)
	}
	if !cfg.LogPretty {
		t.Error("LogPretty = false, want true")
	}
	if cfg.PostAPIKey != "key" {
		t.Errorf("PostAPIKey = %q, want key", cfg.PostAPIKey)
	}
}

func TestLoad_EnvParseErrors(t *testing.T) {
	tests := []struct {
		env, value string
	}{
		{"MASHUP_SEARCH_LIMIT", "ten"},
		{"MASHUP_LOG_PRETTY", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)
			if _, err := Load(""); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Load() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		problem string
	}{
		{"zero primary attempts", func(c *Config) { c.PrimaryRetryMaxAttempts = 0 }, "primary_retry_max_attempts"},
		{"negative primary backoff", func(c *Config) { c.PrimaryRetryBackoffMs = -1 }, "primary_retry_backoff_ms"},
		{"zero secondary attempts", func(c *Config) { c.SecondaryRetryMaxAttempts = 0 }, "secondary_retry_max_attempts"},
		{"negative secondary backoff", func(c *Config) { c.SecondaryRetryBackoffMs = -5 }, "secondary_retry_backoff_ms"},
		{"negative parallelism", func(c *Config) { c.DispatchParallelism = -1 }, "dispatch_parallelism"},
		{"zero max entries", func(c *Config) { c.CacheMaxEntries = 0 }, "cache_max_entries"},
		{"unknown backend", func(c *Config) { c.CacheBackend = "memcached" }, "cache_backend"},
		{"unknown log level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
		{"relative url", func(c *Config) { c.RepoSearchURL = "/search" }, "repo_search_url"},
		{"redis without url", func(c *Config) { c.CacheBackend = BackendRedis; c.RedisURL = "" }, "redis_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate() error = %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.problem) {
				t.Errorf("Validate() error = %q, want mention of %q", err, tt.problem)
			}
		})
	}
}

func TestValidate_NegativeTTLAllowed(t *testing.T) {
	cfg := Default()
	cfg.CacheTTLSeconds = -1

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, negative TTL disables caching", err)
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.PrimaryRetryMaxAttempts = 0
	cfg.CacheMaxEntries = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	for _, want := range []string{"primary_retry_max_attempts", "cache_max_entries"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}
