// Package types defines the shared domain records, error taxonomy, and
// cross-cutting interfaces for the CLEAR25 early-warning service. Records are
// built once per evaluation cycle and never mutated afterwards; every stage of
// the pipeline communicates through these types.
package types

import "time"

// City identifies a monitored city and its map center.
type City struct {
	Key   string  `json:"key"`
	Label string  `json:"label"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
}

// Cities is the fixed set of monitored cities, keyed by city key.
// Order of Keys() is the canonical display order.
var Cities = map[string]City{
	"Toronto":   {Key: "Toronto", Label: "Toronto", Lat: 43.7479, Lon: -79.2741},
	"Montreal":  {Key: "Montreal", Label: "Montréal", Lat: 45.5027, Lon: -73.6639},
	"Edmonton":  {Key: "Edmonton", Label: "Edmonton", Lat: 53.5482, Lon: -113.3681},
	"Vancouver": {Key: "Vancouver", Label: "Vancouver", Lat: 49.3686, Lon: -123.2767},
}

// CityKeys returns the monitored city keys in canonical order.
func CityKeys() []string {
	return []string{"Toronto", "Montreal", "Edmonton", "Vancouver"}
}

// IsCity reports whether key names a monitored city.
func IsCity(key string) bool {
	_, ok := Cities[key]
	return ok
}

// Station is a regression-calibrated upwind reference point. A station's
// predicted local PM2.5 is derived from the nearest live sensor reading via
// the linear model Predicted = Slope*pm25 + Intercept.
//
// Stations are immutable after registry load. Lat/Lon are nil when the
// coordinate join against the source workbook found no match; such stations
// stay in the registry but are skipped by geo-matching.
type Station struct {
	ID         string   `json:"id"`
	Name       string   `json:"station"`
	TargetCity string   `json:"target_city"`
	DistanceKm float64  `json:"dist"`
	Direction  string   `json:"dir"`
	Tier       int      `json:"tier"`
	R          float64  `json:"R"`
	Slope      float64  `json:"slope"`
	Intercept  float64  `json:"intercept"`
	Lat        *float64 `json:"lat"`
	Lon        *float64 `json:"lon"`
}

// HasCoordinates reports whether the station carries a usable coordinate pair.
func (s *Station) HasCoordinates() bool {
	return s.Lat != nil && s.Lon != nil
}

// Readings maps station ID to a PM2.5 concentration in µg/m³. A Readings map
// is produced once per evaluation cycle and is never persisted by the core
// pipeline itself; the snapshot store keeps the prior cycle's copy.
type Readings map[string]float64

// AlertLevel is one row of the severity breakpoint table. Levels partition
// [0, +inf) contiguously; classification picks the highest level whose Min
// does not exceed the value.
type AlertLevel struct {
	Name      string  `json:"level_name"`
	Severity  int     `json:"level"`
	Min       float64 `json:"-"`
	Max       float64 `json:"-"`
	Hex       string  `json:"level_hex"`
	TextColor string  `json:"level_text_color"`
	Health    string  `json:"health"`
}

// PredictionResult is the per-station outcome of one evaluation cycle:
// the raw matched reading, the calibrated prediction, its severity level,
// and a qualitative lead-time label. Immutable once computed.
type PredictionResult struct {
	StationID  string   `json:"id"`
	Station    string   `json:"station"`
	TargetCity string   `json:"target_city"`
	DistanceKm float64  `json:"dist"`
	Direction  string   `json:"dir"`
	Tier       int      `json:"tier"`
	R          float64  `json:"R"`
	Lat        *float64 `json:"lat"`
	Lon        *float64 `json:"lon"`

	PM25      float64    `json:"pm25"`
	Predicted float64    `json:"predicted"`
	Level     AlertLevel `json:"level_info"`
	LeadTime  string     `json:"lead"`
}

// AlertRule identifies which trigger rule fired for a city.
type AlertRule string

const (
	// AlertRuleNone means no rule fired this cycle.
	AlertRuleNone AlertRule = ""
	// AlertRuleInstant fires when any station's raw reading meets the
	// instant threshold.
	AlertRuleInstant AlertRule = "rule1"
	// AlertRuleSustained fires when two distinct stations corroborate an
	// elevated reading across consecutive cycles.
	AlertRuleSustained AlertRule = "rule2"
)

// CityAlertState is the per-city decision for one evaluation cycle. It is
// recomputed from scratch every cycle and never partially updated.
type CityAlertState struct {
	City          string     `json:"city"`
	Alert         bool       `json:"alert"`
	Rule          AlertRule  `json:"rule,omitempty"`
	PredictedPM25 float64    `json:"predicted_pm25"`
	MaxPM25       float64    `json:"max_pm25"`
	Level         AlertLevel `json:"level_info"`
	StationCount  int        `json:"station_count"`
}

// Snapshot is the persisted set of readings from a prior evaluation cycle for
// one city, used by the sustained-condition rule. The pipeline only hands a
// snapshot to the rule engine when its age is inside the validity window.
type Snapshot struct {
	City      string    `json:"city"`
	Readings  Readings  `json:"readings"`
	Timestamp time.Time `json:"timestamp"`
}

// EvaluationResult is the complete outcome of one evaluation cycle: the sorted
// per-station results, the per-city alert decisions, and the raw readings that
// become the next cycle's snapshots.
type EvaluationResult struct {
	Stations   []PredictionResult        `json:"stations"`
	CityAlerts map[string]CityAlertState `json:"city_alerts"`
	Readings   Readings                  `json:"readings"`
	Timestamp  time.Time                 `json:"timestamp"`
}
