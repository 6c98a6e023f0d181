// Package logging configures zerolog for the mashup binaries.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is a named minimum log level.
type LogLevel string

const (
	// LevelTrace adds every retry attempt and worker lifecycle event.
	LevelTrace LogLevel = "trace"
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

var levels = map[LogLevel]zerolog.Level{
	LevelTrace: zerolog.TraceLevel,
	LevelDebug: zerolog.DebugLevel,
	LevelInfo:  zerolog.InfoLevel,
	LevelWarn:  zerolog.WarnLevel,
	LevelError: zerolog.ErrorLevel,
}

// Config holds logger configuration.
type Config struct {
	Level LogLevel

	// Pretty switches from JSON lines to zerolog's console writer.
	Pretty bool

	// Service is added to every entry as "service" when set.
	Service string

	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns JSON logging at info level to stderr.
func DefaultConfig(service string) Config {
	return Config{
		Level:   LevelInfo,
		Service: service,
		Output:  os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(toZerolog(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()
	log.Logger = logger

	return logger
}

// ParseLevel validates a level name. Empty selects info and "warning" is
// accepted for warn.
func ParseLevel(s string) (LogLevel, error) {
	name := LogLevel(strings.ToLower(strings.TrimSpace(s)))
	switch name {
	case "":
		return LevelInfo, nil
	case "warning":
		return LevelWarn, nil
	}
	if _, ok := levels[name]; !ok {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return name, nil
}

// toZerolog maps level to zerolog, falling back to info for unknown names.
func toZerolog(level LogLevel) zerolog.Level {
	parsed, err := ParseLevel(string(level))
	if err != nil {
		return zerolog.InfoLevel
	}
	return levels[parsed]
}

// NewLogger derives a logger from the global one tagged with component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Levels in use:
//
// Trace: individual retry attempts, worker start/stop.
//
// Debug: cache hit/miss/purge, bearer token refresh, rate limit state reads.
//
// Info: search started/complete, recovery after retry, pool and server lifecycle.
//
// Warn: retry exhausted, cache store errors (treated as a miss), rate limit
// throttling, circuit breaker state changes.
//
// Error: failed searches, critical rate limit blocks, startup failures.
//
// Common fields: component, policy, keyword, upstream, worker, key, request_id.
