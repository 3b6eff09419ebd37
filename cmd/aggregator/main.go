// Command aggregator runs the cross-venue prediction-market aggregator:
// venue adapters, matching engine, arbitrage detector, cache, per-venue
// pollers, and the read-only HTTP API with its WebSocket live stream.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"marketfuse/internal/agg"
	"marketfuse/internal/api"
	"marketfuse/internal/cache"
	"marketfuse/internal/config"
	"marketfuse/internal/poller"
	"marketfuse/internal/venue"
	"marketfuse/pkg/types"
)

func main() {
	configPath := os.Getenv("MF_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	logger.Info("starting aggregator",
		"venue_a", cfg.VenueA.BaseURL,
		"venue_b", cfg.VenueB.BaseURL,
		"fetch_strategy", cfg.Fetch.Strategy,
		"port", cfg.Server.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cache first: it doubles as the health sink for the adapters and the
	// cluster store for the pollers.
	store := cache.New(cfg.Cache, logger)
	go store.Run(ctx)

	adapters := []venue.Adapter{
		venue.NewVenueA(cfg.VenueA, store, logger),
		venue.NewVenueB(cfg.VenueB, store, logger),
	}

	aggregator := agg.New(adapters, store, cfg, logger)

	hub := api.NewHub(logger)

	targets := make([]poller.Target, 0, len(adapters))
	for _, ad := range adapters {
		vc := cfg.VenueA
		if ad.Venue() == types.VenueB {
			vc = cfg.VenueB
		}
		targets = append(targets, poller.Target{
			Adapter:  ad,
			Interval: vc.PollInterval,
			Options:  cfg.FetchOptions(ad.Venue()),
		})
	}
	p := poller.New(targets, aggregator, store, hub, logger)
	p.Start(ctx)

	server := api.NewServer(cfg.Server.Port, aggregator, store, p, hub, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	// Warm the cache so the first request doesn't pay for a full pass.
	go func() {
		if _, err := aggregator.GetUnifiedMarkets(ctx, "all"); err != nil {
			logger.Warn("initial aggregation pass failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("api server failed", "error", err)
		}
	}

	// Stop order: pollers first so no writes land mid-shutdown, then drain
	// the HTTP server, then cancel the cache's cleanup loop.
	p.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("api server shutdown failed", "error", err)
	}

	cancel()
	logger.Info("aggregator stopped")
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

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
