// Command bot runs the trading bot: market ingestion, threshold triggers,
// order execution, position exits, and universe synchronization.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Ruairih/Prediction-Bot-sub001/internal/config"
	"github.com/Ruairih/Prediction-Bot-sub001/internal/engine"
)

func main() {
	defaultPath := "configs/config.yaml"
	if env := os.Getenv("PM_CONFIG"); env != "" {
		defaultPath = env
	}
	configPath := flag.String("config", defaultPath, "path to config file (PM_CONFIG overrides the default)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer eng.Close()

	logger.Info("bot starting", "mode", cfg.Mode, "dry_run", cfg.DryRun)
	if err := eng.Run(ctx); err != nil {
		logger.Error("bot exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("bot stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
