package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Sternrassler/repo-mashup/internal/app"
	"github.com/Sternrassler/repo-mashup/pkg/config"
	"github.com/Sternrassler/repo-mashup/pkg/logging"
	"github.com/Sternrassler/repo-mashup/pkg/mashup"
)

// exitCommand ends the interactive loop.
const exitCommand = "exit"

// Searcher runs one mashup search.
type Searcher interface {
	Search(ctx context.Context, keyword string) (*mashup.AggregateResult, error)
}

func main() {
	configPath := flag.String("config", os.Getenv("MASHUP_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCfg := logging.DefaultConfig("mashup")
	logCfg.Level, _ = logging.ParseLevel(cfg.LogLevel)
	logCfg.Pretty = true
	logger := logging.Setup(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build mashup service")
	}
	defer a.Close()

	if err := run(ctx, os.Stdin, os.Stdout, a); err != nil {
		logger.Error().Err(err).Msg("Command loop failed")
	}
}

// run reads one keyword per line from in and writes each result to out as
// indented JSON. It stops at EOF, on the exit command, or when ctx is done.
// A failed search is reported and the loop continues.
func run(ctx context.Context, in io.Reader, out io.Writer, s Searcher) error {
	scanner := bufio.NewScanner(in)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	fmt.Fprintf(out, "Enter a keyword to search (%q to quit):\n", exitCommand)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, exitCommand) {
			return nil
		}

		result, err := s.Search(ctx, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}

	return scanner.Err()
}
