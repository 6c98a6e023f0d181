package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/repo-mashup/internal/app"
	"github.com/Sternrassler/repo-mashup/pkg/config"
	"github.com/Sternrassler/repo-mashup/pkg/dispatch"
	"github.com/Sternrassler/repo-mashup/pkg/logging"
	"github.com/Sternrassler/repo-mashup/pkg/mashup"
	"github.com/Sternrassler/repo-mashup/pkg/metrics"
	"github.com/Sternrassler/repo-mashup/pkg/retry"
)

// RequestIDHeader carries the request id in requests and responses.
const RequestIDHeader = "X-Request-ID"

const shutdownTimeout = 10 * time.Second

// Searcher runs one mashup search.
type Searcher interface {
	Search(ctx context.Context, keyword string) (*mashup.AggregateResult, error)
}

func main() {
	configPath := flag.String("config", getEnv("MASHUP_CONFIG", ""), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCfg := logging.DefaultConfig("mashup-server")
	logCfg.Level, _ = logging.ParseLevel(cfg.LogLevel)
	logCfg.Pretty = cfg.LogPretty
	logger := logging.Setup(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, metrics.Registry)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build mashup service")
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newMux(a, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("Starting mashup server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Server failed")
		}
	case <-ctx.Done():
		logger.Info().Msg("Shutting down mashup server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}
}

func newMux(s Searcher, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/search", searchHandler(s))
	return requestID(logger, mux)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// requestID assigns every request an id and a request-scoped logger.
func requestID(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		reqLogger := logger.With().Str("request_id", id).Logger()
		next.ServeHTTP(w, r.WithContext(reqLogger.WithContext(r.Context())))
	})
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
}

func searchHandler(s Searcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed", RequestID: w.Header().Get(RequestIDHeader)})
			return
		}

		keyword := r.URL.Query().Get("q")
		start := time.Now()

		result, err := s.Search(r.Context(), keyword)
		if err != nil {
			status := statusFor(err)
			logger.Warn().
				Err(err).
				Str("keyword", keyword).
				Int("status_code", status).
				Dur("duration", time.Since(start)).
				Msg("Search request failed")
			writeJSON(w, status, errorResponse{Error: err.Error(), RequestID: w.Header().Get(RequestIDHeader)})
			return
		}

		logger.Info().
			Str("keyword", keyword).
			Int("subjects", len(result.Subjects)).
			Dur("duration", time.Since(start)).
			Msg("Search request complete")
		writeJSON(w, http.StatusOK, result)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, mashup.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrShutdown):
		return http.StatusServiceUnavailable
	case errors.Is(err, retry.ErrRetryExhausted):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
