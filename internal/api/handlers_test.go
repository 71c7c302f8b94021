package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clear25/internal/config"
	"clear25/internal/store"
	"clear25/internal/types"
)

// --- Fakes ---

type fakeDirectory struct {
	byCity map[string][]types.Station
	all    []types.Station
}

func (f *fakeDirectory) Load(cityKey string) []types.Station { return f.byCity[cityKey] }
func (f *fakeDirectory) LoadAll() []types.Station            { return f.all }

type fakeResults struct {
	stored *store.StoredResult
	err    error
}

func (f *fakeResults) Latest(ctx context.Context) (*store.StoredResult, error) {
	return f.stored, f.err
}

type fakeRunner struct {
	result *types.EvaluationResult
	err    error
	calls  int
}

func (f *fakeRunner) RunCycle(ctx context.Context) (*types.EvaluationResult, error) {
	f.calls++
	return f.result, f.err
}

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

// --- Helpers ---

const testAPIKey = "test-api-key"
const testCronSecret = "0123456789abcdef-cron"

func demoStation(id, city string) types.Station {
	return types.Station{
		ID:         id,
		Name:       "Station " + id,
		TargetCity: city,
		DistanceKm: 150,
		Tier:       1,
		R:          0.9,
		Slope:      1.0,
		Intercept:  0,
	}
}

func newTestServer(t *testing.T, dir *fakeDirectory, results *fakeResults, runner *fakeRunner, db Pinger, clock types.Clock) *Server {
	t.Helper()
	if dir == nil {
		dir = &fakeDirectory{}
	}
	if results == nil {
		results = &fakeResults{err: types.NewAppError(types.ErrCodeNotFoundResult, "empty", nil)}
	}
	if clock == nil {
		clock = types.RealClock{}
	}

	cfg := &config.Config{
		Environment: "local",
		Security: config.SecurityConfig{
			APIKeys:    []config.SecretString{testAPIKey},
			CronSecret: config.SecretString(testCronSecret),
		},
		Build: config.BuildInfo{Version: "test", Commit: "abc123"},
	}

	srv, err := NewServer(ServerConfig{
		Config:   cfg,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Stations: dir,
		Results:  results,
		Runner:   runner,
		DB:       db,
		Clock:    clock,
	})
	require.NoError(t, err)
	srv.MountRoutes()
	return srv
}

func doRequest(t *testing.T, srv *Server, method, path, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

// --- Stations ---

func TestHandleStations_AllCities(t *testing.T) {
	dir := &fakeDirectory{
		all: []types.Station{demoStation("ST-1", "Toronto"), demoStation("ST-2", "Montreal")},
	}
	srv := newTestServer(t, dir, nil, nil, nil, nil)

	rec := doRequest(t, srv, http.MethodGet, "/v1/stations", testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp stationsResponse
	decodeBody(t, rec, &resp)
	assert.Len(t, resp.Stations, 2)
	assert.Len(t, resp.Cities, 4)
	assert.Equal(t, "Montréal", resp.Cities["Montreal"].Label)
}

func TestHandleStations_SingleCity(t *testing.T) {
	dir := &fakeDirectory{
		byCity: map[string][]types.Station{
			"Toronto": {demoStation("ST-1", "Toronto")},
		},
	}
	srv := newTestServer(t, dir, nil, nil, nil, nil)

	rec := doRequest(t, srv, http.MethodGet, "/v1/stations/Toronto", testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp stationsResponse
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Stations, 1)
	assert.Equal(t, "ST-1", resp.Stations[0].ID)
}

func TestHandleStations_UnknownCity(t *testing.T) {
	srv := newTestServer(t, nil, nil, nil, nil, nil)

	rec := doRequest(t, srv, http.MethodGet, "/v1/stations/Atlantis", testAPIKey)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp APIErrorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, string(types.ErrCodeValidationInvalidCity), resp.Error.Code)
	assert.NotEmpty(t, resp.Error.RequestID)
}

func TestHandleStations_EmptyRegistry(t *testing.T) {
	srv := newTestServer(t, &fakeDirectory{}, nil, nil, nil, nil)

	rec := doRequest(t, srv, http.MethodGet, "/v1/stations", testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"stations":[]`)
}

// --- Demo ---

func TestHandleDemo_FiresAlerts(t *testing.T) {
	// Two Toronto stations whose demo readings exceed both sustained
	// thresholds; with demo data doubling as previous readings, rule 2 is
	// reachable and rule 1 fires outright on the 85 µg/m³ reading.
	dir := &fakeDirectory{
		byCity: map[string][]types.Station{
			"Toronto": {demoStation("60106", "Toronto"), demoStation("66201", "Toronto")},
		},
	}
	srv := newTestServer(t, dir, nil, nil, nil, nil)

	rec := doRequest(t, srv, http.MethodGet, "/v1/demo/Toronto", testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp evaluationResponse
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Results, 2)

	state := resp.CityAlerts["Toronto"]
	assert.True(t, state.Alert)
	assert.Equal(t, types.AlertRuleInstant, state.Rule)
	assert.Equal(t, 2, state.StationCount)
}

func TestHandleDemo_SeverityFieldsSerialized(t *testing.T) {
	dir := &fakeDirectory{
		byCity: map[string][]types.Station{
			"Toronto": {demoStation("60106", "Toronto")},
		},
	}
	srv := newTestServer(t, dir, nil, nil, nil, nil)

	rec := doRequest(t, srv, http.MethodGet, "/v1/demo/Toronto", testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var raw struct {
		Results []struct {
			Predicted float64 `json:"predicted"`
			LevelInfo struct {
				Level     int    `json:"level"`
				LevelName string `json:"level_name"`
				LevelHex  string `json:"level_hex"`
			} `json:"level_info"`
			Lead string `json:"lead"`
		} `json:"results"`
	}
	decodeBody(t, rec, &raw)
	require.Len(t, raw.Results, 1)
	assert.Equal(t, 85.0, raw.Results[0].Predicted)
	assert.Equal(t, 4, raw.Results[0].LevelInfo.Level)
	assert.Equal(t, "VERY HIGH", raw.Results[0].LevelInfo.LevelName)
	assert.NotEmpty(t, raw.Results[0].Lead)
}

func TestHandleDemo_UnknownCity(t *testing.T) {
	srv := newTestServer(t, nil, nil, nil, nil, nil)

	rec := doRequest(t, srv, http.MethodGet, "/v1/demo/Gotham", testAPIKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- Live ---

func TestHandleLive_ReturnsStoredResult(t *testing.T) {
	now := time.Date(2026, 2, 10, 14, 5, 0, 0, time.UTC)
	stored := &store.StoredResult{
		Result: types.EvaluationResult{
			Stations: []types.PredictionResult{
				{StationID: "ST-1", TargetCity: "Toronto", PM25: 40, Predicted: 44.5},
			},
			CityAlerts: map[string]types.CityAlertState{
				"Toronto": {City: "Toronto", Alert: true, Rule: types.AlertRuleInstant},
			},
			Timestamp: now.Add(-2 * time.Minute),
		},
		UpdatedAt: now.Add(-2 * time.Minute),
	}
	srv := newTestServer(t, nil, &fakeResults{stored: stored}, nil, nil, fixedClock{now})

	rec := doRequest(t, srv, http.MethodGet, "/v1/live", testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp liveResponse
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.CityAlerts["Toronto"].Alert)
	require.NotNil(t, resp.AgeSeconds)
	assert.Equal(t, 120, *resp.AgeSeconds)
}

func TestHandleLive_ColdStart(t *testing.T) {
	srv := newTestServer(t, nil, nil, nil, nil, nil)

	rec := doRequest(t, srv, http.MethodGet, "/v1/live", testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp liveResponse
	decodeBody(t, rec, &resp)
	assert.Empty(t, resp.Results)
	assert.Nil(t, resp.Timestamp)
	assert.Nil(t, resp.AgeSeconds)
}

func TestHandleLive_DBError(t *testing.T) {
	results := &fakeResults{err: types.NewAppError(types.ErrCodeInternalDB, "db down", nil)}
	srv := newTestServer(t, nil, results, nil, nil, nil)

	rec := doRequest(t, srv, http.MethodGet, "/v1/live", testAPIKey)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// --- Refresh ---

func TestHandleRefresh_RunsCycle(t *testing.T) {
	runner := &fakeRunner{result: &types.EvaluationResult{
		Stations: []types.PredictionResult{
			{StationID: "ST-1", TargetCity: "Toronto"},
		},
		CityAlerts: map[string]types.CityAlertState{
			"Toronto": {City: "Toronto", Alert: true},
		},
	}}
	srv := newTestServer(t, nil, nil, runner, nil, nil)

	rec := doRequest(t, srv, http.MethodPost, "/internal/refresh", testCronSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, runner.calls)

	var resp refreshResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.StationsEvaluated)
	assert.Equal(t, []string{"Toronto"}, resp.AlertingCities)
}

func TestHandleRefresh_CycleError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("cycle failed")}
	srv := newTestServer(t, nil, nil, runner, nil, nil)

	rec := doRequest(t, srv, http.MethodPost, "/internal/refresh", testCronSecret)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// --- Health ---

func TestHandleHealth_OK(t *testing.T) {
	srv := newTestServer(t, nil, nil, nil, &fakePinger{}, nil)

	rec := doRequest(t, srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
}

func TestHandleHealth_DegradedOnPingFailure(t *testing.T) {
	srv := newTestServer(t, nil, nil, nil, &fakePinger{err: errors.New("no route to host")}, nil)

	rec := doRequest(t, srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded"`)
}
