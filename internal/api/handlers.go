package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"clear25/internal/alerts"
	"clear25/internal/eval"
	"clear25/internal/types"
)

// stationsResponse is the payload for GET /v1/stations.
type stationsResponse struct {
	Stations []types.Station       `json:"stations"`
	Cities   map[string]types.City `json:"cities"`
}

// evaluationResponse is the payload for GET /v1/demo and the evaluated part
// of GET /v1/live.
type evaluationResponse struct {
	Results    []types.PredictionResult        `json:"results"`
	CityAlerts map[string]types.CityAlertState `json:"city_alerts"`
}

// liveResponse is the payload for GET /v1/live.
type liveResponse struct {
	Results    []types.PredictionResult        `json:"results"`
	CityAlerts map[string]types.CityAlertState `json:"city_alerts"`
	Timestamp  *time.Time                      `json:"timestamp"`
	AgeSeconds *int                            `json:"age_seconds,omitempty"`
}

// refreshResponse is the payload for POST /internal/refresh.
type refreshResponse struct {
	Status            string   `json:"status"`
	StationsEvaluated int      `json:"stations_evaluated"`
	AlertingCities    []string `json:"alerting_cities"`
}

// healthResponse is the payload for GET /healthz.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// cityParam extracts and validates the optional {city} route parameter.
func cityParam(r *http.Request) (string, error) {
	city := chi.URLParam(r, "city")
	if city != "" && !types.IsCity(city) {
		return "", types.NewAppError(types.ErrCodeValidationInvalidCity,
			"unknown city: "+city, nil)
	}
	return city, nil
}

// HandleStations serves the coordinated station registry, for one city or
// all cities.
func (s *Server) HandleStations(w http.ResponseWriter, r *http.Request) {
	city, err := cityParam(r)
	if err != nil {
		Error(w, r, err)
		return
	}

	var stations []types.Station
	if city != "" {
		stations = s.Stations.Load(city)
	} else {
		stations = s.Stations.LoadAll()
	}
	if stations == nil {
		stations = []types.Station{}
	}

	JSON(w, r, http.StatusOK, stationsResponse{
		Stations: stations,
		Cities:   types.Cities,
	})
}

// HandleDemo evaluates the fixed wildfire scenario through the full pipeline.
// The demo readings also act as the previous cycle's readings so the
// sustained rule is exercised.
func (s *Server) HandleDemo(w http.ResponseWriter, r *http.Request) {
	city, err := cityParam(r)
	if err != nil {
		Error(w, r, err)
		return
	}

	var stations []types.Station
	if city != "" {
		stations = s.Stations.Load(city)
	} else {
		stations = s.Stations.LoadAll()
	}
	readings := demoReadingsFor(city)

	results := eval.Evaluate(stations, readings)
	if results == nil {
		results = []types.PredictionResult{}
	}
	previous := make(map[string]types.Readings, len(types.Cities))
	for _, key := range types.CityKeys() {
		previous[key] = readings
	}
	cityAlerts := alerts.DecideAll(results, previous)

	JSON(w, r, http.StatusOK, evaluationResponse{
		Results:    results,
		CityAlerts: cityAlerts,
	})
}

// HandleLive serves the latest persisted evaluation result with its age. When
// no cycle has completed yet, it returns an empty payload rather than an
// error so dashboards can render a cold-start state.
func (s *Server) HandleLive(w http.ResponseWriter, r *http.Request) {
	stored, err := s.Results.Latest(r.Context())
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundResult {
			JSON(w, r, http.StatusOK, liveResponse{
				Results:    []types.PredictionResult{},
				CityAlerts: map[string]types.CityAlertState{},
			})
			return
		}
		Error(w, r, err)
		return
	}

	age := int(s.Clock.Now().Sub(stored.UpdatedAt).Seconds())
	JSON(w, r, http.StatusOK, liveResponse{
		Results:    stored.Result.Stations,
		CityAlerts: stored.Result.CityAlerts,
		Timestamp:  &stored.Result.Timestamp,
		AgeSeconds: &age,
	})
}

// HandleRefresh runs one evaluation cycle synchronously. It backs the
// scheduled cron trigger; the same cycle is available as the poller binary.
func (s *Server) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.Runner == nil {
		Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected,
			"refresh is not available", nil))
		return
	}

	result, err := s.Runner.RunCycle(r.Context())
	if err != nil {
		Error(w, r, err)
		return
	}

	JSON(w, r, http.StatusOK, refreshResponse{
		Status:            "ok",
		StationsEvaluated: len(result.Stations),
		AlertingCities:    alerts.AlertingCities(result.CityAlerts),
	})
}

// HandleHealth reports process liveness and database connectivity.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Version: s.Config.Build.Version,
		Commit:  s.Config.Build.Commit,
	}

	if s.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.DB.Ping(ctx); err != nil {
			resp.Status = "degraded"
			JSON(w, r, http.StatusServiceUnavailable, resp)
			return
		}
	}

	JSON(w, r, http.StatusOK, resp)
}
