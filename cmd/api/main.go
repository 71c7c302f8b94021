// Package main is the entrypoint for the CLEAR25 API server.
//
// This file handles dependency wiring and delegates all business logic to the
// internal packages: the station registry cache, the sensor matcher, the
// evaluation pipeline, and the HTTP chassis.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"clear25/internal/api"
	"clear25/internal/config"
	"clear25/internal/observability"
	"clear25/internal/pipeline"
	"clear25/internal/registry"
	"clear25/internal/sensors"
	"clear25/internal/store"
	"clear25/internal/types"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).
			Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("api server initializing",
		slog.String("env", cfg.Environment),
		slog.String("version", cfg.Build.Version))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()
	clock := types.RealClock{}

	loader := registry.NewLoader(cfg.Registry.DataDir, logger)
	cache := registry.NewCache(loader)

	sensorClient := sensors.NewClient(sensors.NetworkConfig{
		BaseURL:       cfg.SensorNetwork.BaseURL,
		APIKey:        cfg.SensorNetwork.APIKey,
		MaxAgeSeconds: cfg.SensorNetwork.MaxAgeSeconds,
		Timeout:       cfg.SensorNetwork.Timeout,
	}, logger)
	matcher := sensors.NewMatcher(sensors.MatcherConfig{
		Network:  sensorClient,
		Logger:   logger,
		Recorder: metrics,
		Timeout:  cfg.SensorNetwork.Timeout,
	})

	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Stations:       cache,
		Fetcher:        matcher,
		Snapshots:      store.NewSnapshotRepository(pool),
		Results:        store.NewResultRepository(pool),
		Clock:          clock,
		Logger:         logger,
		Recorder:       metrics,
		SnapshotMinAge: cfg.Evaluation.SnapshotMinAge,
		SnapshotMaxAge: cfg.Evaluation.SnapshotMaxAge,
	})

	server, err := api.NewServer(api.ServerConfig{
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics,
		Stations: cache,
		Results:  store.NewResultRepository(pool),
		Runner:   runner,
		DB:       pool,
		Clock:    clock,
	})
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}
	server.MountRoutes()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("api server listening", slog.String("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server shutdown complete")
}

// newLogger builds the process-wide JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
