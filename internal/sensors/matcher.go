package sensors

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"clear25/internal/geo"
	"clear25/internal/types"
)

const (
	// BoxPaddingDeg expands each city's bounding box (~55 km per 0.5°) to
	// tolerate sensor sparsity at the box edges.
	BoxPaddingDeg = 0.5

	// MatchCeilingKm is the hard ceiling on station-to-sensor distance. A
	// station farther than this from every sensor gets no reading.
	MatchCeilingKm = 30.0

	// cityFetchConcurrency bounds the number of in-flight bounding-box
	// queries.
	cityFetchConcurrency = 4
)

// Network is the sensor-network query interface the matcher consumes.
// Satisfied by *Client.
type Network interface {
	SensorsInBox(ctx context.Context, box geo.BoundingBox) ([]Sensor, error)
}

// FetchRecorder receives per-city fetch telemetry. Implementations must be
// safe for concurrent use. A nil recorder disables telemetry.
type FetchRecorder interface {
	RecordCityFetch(city string, sensors, matched int, failed bool)
}

// Matcher assigns each station its nearest live sensor reading. Matching is
// greedy nearest-neighbor per station, not a global bipartite assignment:
// multiple stations may bind to the same sensor, which matches real sensor
// density around smaller cities.
type Matcher struct {
	network  Network
	logger   *slog.Logger
	recorder FetchRecorder
	timeout  time.Duration
}

// MatcherConfig holds the dependencies for creating a Matcher.
type MatcherConfig struct {
	Network  Network
	Logger   *slog.Logger
	Recorder FetchRecorder
	// Timeout bounds each city's bounding-box query. Defaults to 30s.
	Timeout time.Duration
}

// NewMatcher creates a Matcher.
func NewMatcher(cfg MatcherConfig) *Matcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Matcher{
		network:  cfg.Network,
		logger:   logger,
		recorder: cfg.Recorder,
		timeout:  timeout,
	}
}

// FetchReadings resolves a PM2.5 reading for every station that has a sensor
// within the match ceiling. Stations are grouped by target city; one padded
// bounding-box query is issued per city, concurrently. A timeout, transport
// error, or empty result for one city zeroes that city's coverage only.
//
// The returned map is never nil.
func (m *Matcher) FetchReadings(ctx context.Context, stations []types.Station) types.Readings {
	groups := make(map[string][]types.Station)
	for _, st := range stations {
		if !st.HasCoordinates() {
			continue
		}
		groups[st.TargetCity] = append(groups[st.TargetCity], st)
	}

	readings := make(types.Readings)
	if len(groups) == 0 {
		return readings
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(cityFetchConcurrency)

	for city, cityStations := range groups {
		g.Go(func() error {
			cityReadings := m.fetchCity(gCtx, city, cityStations)
			mu.Lock()
			for id, pm := range cityReadings {
				readings[id] = pm
			}
			mu.Unlock()
			// City failures never propagate; each city is independent.
			return nil
		})
	}

	// Goroutines only return nil; Wait just joins them.
	_ = g.Wait()

	return readings
}

// fetchCity runs one city's bounding-box query and nearest-sensor scan.
func (m *Matcher) fetchCity(ctx context.Context, city string, stations []types.Station) types.Readings {
	lats := make([]float64, len(stations))
	lons := make([]float64, len(stations))
	for i, st := range stations {
		lats[i] = *st.Lat
		lons[i] = *st.Lon
	}
	box := geo.BoxAround(lats, lons, BoxPaddingDeg)

	fetchCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	sensorList, err := m.network.SensorsInBox(fetchCtx, box)
	if err != nil {
		m.logger.WarnContext(ctx, "sensor fetch failed, city degrades to zero readings",
			"city", city,
			"error", err,
		)
		m.record(city, 0, 0, true)
		return nil
	}
	if len(sensorList) == 0 {
		m.logger.InfoContext(ctx, "no sensors in city bounding box", "city", city)
		m.record(city, 0, 0, false)
		return nil
	}

	readings := make(types.Readings)
	for _, st := range stations {
		bestDist := MatchCeilingKm
		var bestPM float64
		found := false
		for _, s := range sensorList {
			pm, ok := s.Concentration()
			if !ok {
				continue
			}
			d := geo.DistanceKm(*st.Lat, *st.Lon, s.Lat, s.Lon)
			if d < bestDist {
				bestDist = d
				bestPM = pm
				found = true
			}
		}
		if found {
			readings[st.ID] = bestPM
		}
	}

	m.logger.InfoContext(ctx, "matched city sensors",
		"city", city,
		"sensors", len(sensorList),
		"stations_matched", len(readings),
	)
	m.record(city, len(sensorList), len(readings), false)

	return readings
}

func (m *Matcher) record(city string, sensors, matched int, failed bool) {
	if m.recorder != nil {
		m.recorder.RecordCityFetch(city, sensors, matched, failed)
	}
}
