package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clear25/internal/types"
)

// --- Fakes ---

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time { return c.now }

type fakeStations struct {
	stations []types.Station
}

func (f *fakeStations) LoadAll() []types.Station { return f.stations }

type fakeFetcher struct {
	readings types.Readings
	calls    int
}

func (f *fakeFetcher) FetchReadings(ctx context.Context, stations []types.Station) types.Readings {
	f.calls++
	return f.readings
}

type fakeSnapshots struct {
	stored   map[string]types.Snapshot
	getErr   error
	upErr    error
	upserted []types.Snapshot
}

func (f *fakeSnapshots) GetAll(ctx context.Context) (map[string]types.Snapshot, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.stored, nil
}

func (f *fakeSnapshots) Upsert(ctx context.Context, snap types.Snapshot) error {
	if f.upErr != nil {
		return f.upErr
	}
	f.upserted = append(f.upserted, snap)
	return nil
}

type fakeResults struct {
	saveErr error
	saved   []types.EvaluationResult
}

func (f *fakeResults) Save(ctx context.Context, result types.EvaluationResult) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, result)
	return nil
}

type fakeRecorder struct {
	cycles      int
	lastErr     error
	evaluations int
	stations    int
	alerting    int
}

func (f *fakeRecorder) RecordCycle(durationSeconds float64, err error) {
	f.cycles++
	f.lastErr = err
}

func (f *fakeRecorder) RecordEvaluation(stationsEvaluated, citiesAlerting int) {
	f.evaluations++
	f.stations = stationsEvaluated
	f.alerting = citiesAlerting
}

// --- Helpers ---

func station(id, city string, tier int, slope, intercept, r float64) types.Station {
	return types.Station{
		ID:         id,
		Name:       "Station " + id,
		TargetCity: city,
		DistanceKm: 120,
		Tier:       tier,
		R:          r,
		Slope:      slope,
		Intercept:  intercept,
	}
}

func newTestRunner(t *testing.T, stations *fakeStations, fetcher *fakeFetcher, snaps *fakeSnapshots, results *fakeResults, clock types.Clock, rec CycleRecorder) *Runner {
	t.Helper()
	return NewRunner(RunnerConfig{
		Stations:  stations,
		Fetcher:   fetcher,
		Snapshots: snaps,
		Results:   results,
		Clock:     clock,
		Recorder:  rec,
	})
}

// --- Tests ---

func TestRunCycle_PersistsSnapshotsAndResult(t *testing.T) {
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	stations := &fakeStations{stations: []types.Station{
		station("ST-1", "Toronto", 1, 1.0, 0, 0.9),
		station("ST-2", "Montreal", 2, 1.0, 0, 0.8),
	}}
	fetcher := &fakeFetcher{readings: types.Readings{"ST-1": 12.0, "ST-2": 8.5}}
	snaps := &fakeSnapshots{}
	results := &fakeResults{}
	rec := &fakeRecorder{}

	runner := newTestRunner(t, stations, fetcher, snaps, results, fakeClock{now}, rec)

	result, err := runner.RunCycle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, now, result.Timestamp)
	assert.Len(t, result.Stations, 2)
	assert.Contains(t, result.CityAlerts, "Toronto")
	assert.Contains(t, result.CityAlerts, "Montreal")
	assert.False(t, result.CityAlerts["Toronto"].Alert)

	require.Len(t, results.saved, 1)
	require.Len(t, snaps.upserted, 2)
	byCity := map[string]types.Snapshot{}
	for _, s := range snaps.upserted {
		byCity[s.City] = s
	}
	assert.Equal(t, 12.0, byCity["Toronto"].Readings["ST-1"])
	assert.Equal(t, now, byCity["Toronto"].Timestamp)

	assert.Equal(t, 1, rec.cycles)
	assert.NoError(t, rec.lastErr)
	assert.Equal(t, 2, rec.stations)
	assert.Equal(t, 0, rec.alerting)
}

func TestRunCycle_InstantRuleFires(t *testing.T) {
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	stations := &fakeStations{stations: []types.Station{
		station("ST-1", "Toronto", 1, 1.2, 0, 0.9),
	}}
	fetcher := &fakeFetcher{readings: types.Readings{"ST-1": 60.0}}
	snaps := &fakeSnapshots{}
	results := &fakeResults{}
	rec := &fakeRecorder{}

	runner := newTestRunner(t, stations, fetcher, snaps, results, fakeClock{now}, rec)

	result, err := runner.RunCycle(context.Background())
	require.NoError(t, err)

	state := result.CityAlerts["Toronto"]
	assert.True(t, state.Alert)
	assert.Equal(t, types.AlertRuleInstant, state.Rule)
	assert.Equal(t, 1, rec.alerting)
}

func TestRunCycle_SustainedRuleUsesValidSnapshot(t *testing.T) {
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	stations := &fakeStations{stations: []types.Station{
		station("ST-1", "Toronto", 1, 1.0, 0, 0.9),
		station("ST-2", "Toronto", 1, 1.0, 0, 0.9),
	}}
	// Both cycles: ST-1 at primary threshold, ST-2 at secondary threshold.
	fetcher := &fakeFetcher{readings: types.Readings{"ST-1": 40.0, "ST-2": 28.0}}
	snaps := &fakeSnapshots{stored: map[string]types.Snapshot{
		"Toronto": {
			City:      "Toronto",
			Readings:  types.Readings{"ST-1": 38.0, "ST-2": 26.0},
			Timestamp: now.Add(-30 * time.Minute),
		},
	}}
	results := &fakeResults{}

	runner := newTestRunner(t, stations, fetcher, snaps, results, fakeClock{now}, nil)

	result, err := runner.RunCycle(context.Background())
	require.NoError(t, err)

	state := result.CityAlerts["Toronto"]
	assert.True(t, state.Alert)
	assert.Equal(t, types.AlertRuleSustained, state.Rule)
}

func TestRunCycle_SnapshotOutsideWindowIgnored(t *testing.T) {
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	stations := &fakeStations{stations: []types.Station{
		station("ST-1", "Toronto", 1, 1.0, 0, 0.9),
		station("ST-2", "Toronto", 1, 1.0, 0, 0.9),
	}}
	fetcher := &fakeFetcher{readings: types.Readings{"ST-1": 40.0, "ST-2": 28.0}}

	for name, age := range map[string]time.Duration{
		"too fresh": 10 * time.Minute,
		"too stale": 4 * time.Hour,
	} {
		t.Run(name, func(t *testing.T) {
			snaps := &fakeSnapshots{stored: map[string]types.Snapshot{
				"Toronto": {
					City:      "Toronto",
					Readings:  types.Readings{"ST-1": 38.0, "ST-2": 26.0},
					Timestamp: now.Add(-age),
				},
			}}
			runner := newTestRunner(t, stations, fetcher, snaps, &fakeResults{}, fakeClock{now}, nil)

			result, err := runner.RunCycle(context.Background())
			require.NoError(t, err)
			assert.False(t, result.CityAlerts["Toronto"].Alert)
		})
	}
}

func TestRunCycle_CityWithoutReadingsKeepsSnapshot(t *testing.T) {
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	stations := &fakeStations{stations: []types.Station{
		station("ST-1", "Toronto", 1, 1.0, 0, 0.9),
		station("ST-9", "Vancouver", 1, 1.0, 0, 0.9),
	}}
	// Vancouver's fetch failed upstream: no readings for ST-9.
	fetcher := &fakeFetcher{readings: types.Readings{"ST-1": 15.0}}
	snaps := &fakeSnapshots{}
	results := &fakeResults{}

	runner := newTestRunner(t, stations, fetcher, snaps, results, fakeClock{now}, nil)

	_, err := runner.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, snaps.upserted, 1)
	assert.Equal(t, "Toronto", snaps.upserted[0].City)
}

func TestRunCycle_SnapshotLoadErrorFailsCycle(t *testing.T) {
	stations := &fakeStations{stations: []types.Station{
		station("ST-1", "Toronto", 1, 1.0, 0, 0.9),
	}}
	fetcher := &fakeFetcher{readings: types.Readings{"ST-1": 15.0}}
	snaps := &fakeSnapshots{getErr: errors.New("db down")}
	results := &fakeResults{}
	rec := &fakeRecorder{}

	runner := newTestRunner(t, stations, fetcher, snaps, results, fakeClock{time.Now()}, rec)

	_, err := runner.RunCycle(context.Background())
	require.Error(t, err)
	assert.Empty(t, results.saved)
	assert.Error(t, rec.lastErr)
}

func TestRunCycle_PersistErrorFailsCycle(t *testing.T) {
	stations := &fakeStations{stations: []types.Station{
		station("ST-1", "Toronto", 1, 1.0, 0, 0.9),
	}}
	fetcher := &fakeFetcher{readings: types.Readings{"ST-1": 15.0}}

	t.Run("snapshot upsert", func(t *testing.T) {
		snaps := &fakeSnapshots{upErr: errors.New("write failed")}
		results := &fakeResults{}
		runner := newTestRunner(t, stations, fetcher, snaps, results, fakeClock{time.Now()}, nil)

		_, err := runner.RunCycle(context.Background())
		require.Error(t, err)
		assert.Empty(t, results.saved)
	})

	t.Run("result save", func(t *testing.T) {
		snaps := &fakeSnapshots{}
		results := &fakeResults{saveErr: errors.New("write failed")}
		runner := newTestRunner(t, stations, fetcher, snaps, results, fakeClock{time.Now()}, nil)

		_, err := runner.RunCycle(context.Background())
		require.Error(t, err)
	})
}

func TestRunCycle_EmptyRegistry(t *testing.T) {
	runner := newTestRunner(t, &fakeStations{}, &fakeFetcher{}, &fakeSnapshots{}, &fakeResults{}, fakeClock{time.Now()}, nil)

	result, err := runner.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Stations)
	assert.Empty(t, result.CityAlerts)
}
