// Package pipeline orchestrates one full evaluation cycle: load the station
// registry, fetch live sensor readings, run the regression predictions,
// decide city alerts against the previous cycle's snapshot, and persist the
// outcome.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"clear25/internal/alerts"
	"clear25/internal/eval"
	"clear25/internal/types"
)

// StationSource provides the coordinated station registry.
type StationSource interface {
	LoadAll() []types.Station
}

// ReadingsFetcher resolves live PM2.5 readings for the given stations.
// Failures degrade coverage rather than erroring; missing stations are simply
// absent from the returned map.
type ReadingsFetcher interface {
	FetchReadings(ctx context.Context, stations []types.Station) types.Readings
}

// SnapshotStore persists per-city reading snapshots across cycles.
type SnapshotStore interface {
	GetAll(ctx context.Context) (map[string]types.Snapshot, error)
	Upsert(ctx context.Context, snap types.Snapshot) error
}

// ResultStore persists the latest evaluation result.
type ResultStore interface {
	Save(ctx context.Context, result types.EvaluationResult) error
}

// CycleRecorder receives cycle telemetry. A nil recorder disables telemetry.
type CycleRecorder interface {
	RecordCycle(durationSeconds float64, err error)
	RecordEvaluation(stationsEvaluated, citiesAlerting int)
}

// Window validity bounds for a previous snapshot when checking sustained
// conditions. A snapshot younger than the minimum is the same fetch seen
// twice; older than the maximum is stale.
const (
	DefaultSnapshotMinAge = 20 * time.Minute
	DefaultSnapshotMaxAge = 3 * time.Hour
)

// Runner executes evaluation cycles.
type Runner struct {
	stations  StationSource
	fetcher   ReadingsFetcher
	snapshots SnapshotStore
	results   ResultStore
	clock     types.Clock
	logger    *slog.Logger
	recorder  CycleRecorder
	minAge    time.Duration
	maxAge    time.Duration
}

// RunnerConfig holds the dependencies for creating a Runner.
type RunnerConfig struct {
	Stations  StationSource
	Fetcher   ReadingsFetcher
	Snapshots SnapshotStore
	Results   ResultStore
	Clock     types.Clock
	Logger    *slog.Logger
	Recorder  CycleRecorder
	// SnapshotMinAge and SnapshotMaxAge override the default validity
	// window when positive.
	SnapshotMinAge time.Duration
	SnapshotMaxAge time.Duration
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	minAge := cfg.SnapshotMinAge
	if minAge <= 0 {
		minAge = DefaultSnapshotMinAge
	}
	maxAge := cfg.SnapshotMaxAge
	if maxAge <= 0 {
		maxAge = DefaultSnapshotMaxAge
	}
	return &Runner{
		stations:  cfg.Stations,
		fetcher:   cfg.Fetcher,
		snapshots: cfg.Snapshots,
		results:   cfg.Results,
		clock:     clock,
		logger:    logger,
		recorder:  cfg.Recorder,
		minAge:    minAge,
		maxAge:    maxAge,
	}
}

// RunCycle executes one evaluation cycle and returns the persisted result.
//
// Sensor fetch failures degrade per-city coverage without failing the cycle.
// Persistence failures fail the cycle: a result that could not be stored is
// not reported as current, and the previous snapshot stays authoritative for
// the next sustained-condition check.
func (r *Runner) RunCycle(ctx context.Context) (*types.EvaluationResult, error) {
	start := r.clock.Now()
	result, err := r.runCycle(ctx, start)
	if r.recorder != nil {
		r.recorder.RecordCycle(time.Since(start).Seconds(), err)
	}
	return result, err
}

func (r *Runner) runCycle(ctx context.Context, now time.Time) (*types.EvaluationResult, error) {
	stations := r.stations.LoadAll()
	r.logger.InfoContext(ctx, "evaluation cycle started",
		slog.Int("stations", len(stations)),
		slog.Time("cycle_time", now))

	readings := r.fetcher.FetchReadings(ctx, stations)
	evaluated := eval.Evaluate(stations, readings)

	previous, err := r.snapshots.GetAll(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "loading previous snapshots failed",
			slog.String("error", err.Error()))
		return nil, err
	}

	cityAlerts := alerts.DecideAll(evaluated, r.validPrevious(ctx, previous, now))

	result := types.EvaluationResult{
		Stations:   evaluated,
		CityAlerts: cityAlerts,
		Readings:   readings,
		Timestamp:  now,
	}

	if err := r.persist(ctx, result); err != nil {
		return nil, err
	}

	alerting := alerts.AlertingCities(cityAlerts)
	if r.recorder != nil {
		r.recorder.RecordEvaluation(len(evaluated), len(alerting))
	}
	r.logger.InfoContext(ctx, "evaluation cycle completed",
		slog.Int("stations_evaluated", len(evaluated)),
		slog.Any("alerting_cities", alerting))

	return &result, nil
}

// validPrevious filters stored snapshots down to those inside the validity
// window, keyed by city.
func (r *Runner) validPrevious(ctx context.Context, snapshots map[string]types.Snapshot, now time.Time) map[string]types.Readings {
	previous := make(map[string]types.Readings, len(snapshots))
	for city, snap := range snapshots {
		age := now.Sub(snap.Timestamp)
		if age < r.minAge || age > r.maxAge {
			r.logger.InfoContext(ctx, "snapshot outside validity window",
				slog.String("city", city),
				slog.Duration("age", age))
			continue
		}
		previous[city] = snap.Readings
	}
	return previous
}

// persist stores the per-city snapshots and the latest result. Cities with no
// readings this cycle keep their previous snapshot so one sensor outage does
// not erase the sustained-condition baseline.
func (r *Runner) persist(ctx context.Context, result types.EvaluationResult) error {
	byCity := make(map[string]types.Readings)
	for _, pr := range result.Stations {
		if byCity[pr.TargetCity] == nil {
			byCity[pr.TargetCity] = make(types.Readings)
		}
		byCity[pr.TargetCity][pr.StationID] = pr.PM25
	}

	for city, readings := range byCity {
		snap := types.Snapshot{
			City:      city,
			Readings:  readings,
			Timestamp: result.Timestamp,
		}
		if err := r.snapshots.Upsert(ctx, snap); err != nil {
			r.logger.ErrorContext(ctx, "persisting snapshot failed",
				slog.String("city", city),
				slog.String("error", err.Error()))
			return err
		}
	}

	if err := r.results.Save(ctx, result); err != nil {
		r.logger.ErrorContext(ctx, "persisting result failed",
			slog.String("error", err.Error()))
		return err
	}

	return nil
}
