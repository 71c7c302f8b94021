// Package api provides the HTTP chassis for the CLEAR25 early-warning
// service: a chi router with request-ID propagation, structured request
// logging, Prometheus instrumentation, and bearer-key authentication in front
// of the domain handlers.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clear25/internal/config"
	"clear25/internal/observability"
	"clear25/internal/store"
	"clear25/internal/types"
)

// StationDirectory serves the cached station registry.
type StationDirectory interface {
	Load(cityKey string) []types.Station
	LoadAll() []types.Station
}

// ResultReader serves the latest persisted evaluation result.
type ResultReader interface {
	Latest(ctx context.Context) (*store.StoredResult, error)
}

// CycleRunner executes one evaluation cycle on demand.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*types.EvaluationResult, error)
}

// Pinger verifies database connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server encapsulates all dependencies for the API, allowing for easy
// injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Stations StationDirectory
	Results  ResultReader
	Runner   CycleRunner
	DB       Pinger
	Clock    types.Clock

	router *chi.Mux
}

// ServerConfig holds the dependencies for creating a Server.
type ServerConfig struct {
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Stations StationDirectory
	Results  ResultReader
	Runner   CycleRunner
	DB       Pinger
	Clock    types.Clock
}

// NewServer initializes dependencies, sets up the router, and prepares the
// server for route mounting. It performs a fail-fast check on critical
// dependencies.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Config == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if cfg.Stations == nil {
		return nil, fmt.Errorf("station directory must not be nil")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("result reader must not be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}

	return &Server{
		Config:   cfg.Config,
		Logger:   logger,
		Metrics:  cfg.Metrics,
		Stations: cfg.Stations,
		Results:  cfg.Results,
		Runner:   cfg.Runner,
		DB:       cfg.DB,
		Clock:    clock,
		router:   chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// MountRoutes registers the global middleware chain and all routes.
//
// Ordering rationale:
//  1. Recoverer      - catches panics; outermost to catch all failures.
//  2. RequestID      - generates/propagates the correlation ID.
//  3. RequestLogger  - structured logging with redacted credentials.
//  4. Metrics        - request latency and count recording.
//
// Authentication applies per route group: bearer API keys on /v1, the cron
// secret on /internal.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger))
	s.router.Use(s.MetricsMiddleware)

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(s.APIKeyMiddleware)
		r.Get("/stations", s.HandleStations)
		r.Get("/stations/{city}", s.HandleStations)
		r.Get("/demo", s.HandleDemo)
		r.Get("/demo/{city}", s.HandleDemo)
		r.Get("/live", s.HandleLive)
	})

	s.router.Route("/internal", func(r chi.Router) {
		r.Use(s.CronSecretMiddleware)
		r.Post("/refresh", s.HandleRefresh)
	})

	s.router.Get("/healthz", s.HandleHealth)
	s.router.Method(http.MethodGet, "/metrics", promhttp.Handler())
}
