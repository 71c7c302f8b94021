// Package main is the entrypoint for the CLEAR25 poller.
//
// The poller runs exactly one evaluation cycle and exits: load the station
// registry, fetch live sensor readings, evaluate, decide alerts, and persist
// the outcome. It exits non-zero only when the cycle as a whole fails;
// degraded sensor coverage still produces a valid, persisted result. It is
// intended to run on a 20-minute schedule.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"clear25/internal/alerts"
	"clear25/internal/config"
	"clear25/internal/pipeline"
	"clear25/internal/registry"
	"clear25/internal/sensors"
	"clear25/internal/store"
	"clear25/internal/types"
)

// runTimeout bounds one complete cycle, including the per-city sensor
// queries.
const runTimeout = 5 * time.Minute

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	pool, err := store.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	loader := registry.NewLoader(cfg.Registry.DataDir, logger)
	cache := registry.NewCache(loader)

	sensorClient := sensors.NewClient(sensors.NetworkConfig{
		BaseURL:       cfg.SensorNetwork.BaseURL,
		APIKey:        cfg.SensorNetwork.APIKey,
		MaxAgeSeconds: cfg.SensorNetwork.MaxAgeSeconds,
		Timeout:       cfg.SensorNetwork.Timeout,
	}, logger)
	matcher := sensors.NewMatcher(sensors.MatcherConfig{
		Network: sensorClient,
		Logger:  logger,
		Timeout: cfg.SensorNetwork.Timeout,
	})

	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Stations:       cache,
		Fetcher:        matcher,
		Snapshots:      store.NewSnapshotRepository(pool),
		Results:        store.NewResultRepository(pool),
		Clock:          types.RealClock{},
		Logger:         logger,
		SnapshotMinAge: cfg.Evaluation.SnapshotMinAge,
		SnapshotMaxAge: cfg.Evaluation.SnapshotMaxAge,
	})

	result, err := runner.RunCycle(ctx)
	if err != nil {
		logger.Error("evaluation cycle failed", "error", err)
		os.Exit(1)
	}

	logger.Info("evaluation cycle persisted",
		slog.Int("stations_evaluated", len(result.Stations)),
		slog.Any("alerting_cities", alerts.AlertingCities(result.CityAlerts)))
}
