// Package observability holds the Prometheus instrumentation for the
// evaluation pipeline and the HTTP API.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// early-warning service.
type Metrics struct {
	// Evaluation cycle metrics.
	CyclesTotal       *prometheus.CounterVec // labels: outcome={success,error}
	CycleDuration     prometheus.Histogram
	StationsEvaluated prometheus.Gauge
	CitiesAlerting    prometheus.Gauge

	// Sensor network fetch metrics.
	SensorFetches   *prometheus.CounterVec // labels: city, outcome={success,error}
	SensorsReturned *prometheus.GaugeVec   // labels: city
	StationsMatched *prometheus.GaugeVec   // labels: city

	// HTTP API metrics.
	HTTPRequests *prometheus.CounterVec   // labels: route, method, status
	HTTPDuration *prometheus.HistogramVec // labels: route
}

// NewMetrics creates and registers all service metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.StationsEvaluated,
		m.CitiesAlerting,
		m.SensorFetches,
		m.SensorsReturned,
		m.StationsMatched,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clear25",
			Name:      "evaluation_cycles_total",
			Help:      "Evaluation cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clear25",
			Name:      "evaluation_cycle_duration_seconds",
			Help:      "Duration of a complete load-fetch-evaluate-persist cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		StationsEvaluated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clear25",
			Name:      "stations_evaluated",
			Help:      "Stations with a live reading in the last cycle.",
		}),
		CitiesAlerting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clear25",
			Name:      "cities_alerting",
			Help:      "Cities with an active alert after the last cycle.",
		}),
		SensorFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clear25",
			Name:      "sensor_fetches_total",
			Help:      "Per-city sensor network queries by outcome.",
		}, []string{"city", "outcome"}),
		SensorsReturned: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "clear25",
			Name:      "sensors_returned",
			Help:      "Sensors returned by the last bounding-box query per city.",
		}, []string{"city"}),
		StationsMatched: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "clear25",
			Name:      "stations_matched",
			Help:      "Stations matched to a sensor in the last cycle per city.",
		}, []string{"city"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clear25",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method, and status code.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clear25",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route"}),
	}
}

// RecordCityFetch implements the sensor matcher's telemetry hook.
func (m *Metrics) RecordCityFetch(city string, sensors, matched int, failed bool) {
	outcome := "success"
	if failed {
		outcome = "error"
	}
	m.SensorFetches.WithLabelValues(city, outcome).Inc()
	if !failed {
		m.SensorsReturned.WithLabelValues(city).Set(float64(sensors))
		m.StationsMatched.WithLabelValues(city).Set(float64(matched))
	}
}

// RecordEvaluation records the headline gauges for a completed cycle.
func (m *Metrics) RecordEvaluation(stationsEvaluated, citiesAlerting int) {
	m.StationsEvaluated.Set(float64(stationsEvaluated))
	m.CitiesAlerting.Set(float64(citiesAlerting))
}

// RecordCycle records one evaluation cycle's outcome and duration.
func (m *Metrics) RecordCycle(durationSeconds float64, err error) {
	if err != nil {
		m.CyclesTotal.WithLabelValues("error").Inc()
	} else {
		m.CyclesTotal.WithLabelValues("success").Inc()
	}
	m.CycleDuration.Observe(durationSeconds)
}
