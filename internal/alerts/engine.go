// Package alerts implements the city-level alert decision logic: an
// R-weighted severity estimate and two independent trigger rules evaluated
// against current and prior-cycle readings.
package alerts

import (
	"math"
	"sort"

	"clear25/internal/eval"
	"clear25/internal/types"
)

const (
	// InstantThreshold is the raw PM2.5 reading at which a single station
	// triggers rule 1 on its own.
	InstantThreshold = 55.0

	// PrimarySustainedThreshold and SecondarySustainedThreshold are the
	// dual-station corroboration thresholds for rule 2. A reading counts as
	// sustained when it met the threshold in both the current and the prior
	// cycle.
	PrimarySustainedThreshold   = 35.0
	SecondarySustainedThreshold = 25.0

	// MinStationWeight floors each station's influence on the city-level
	// weighted severity so low-R stations still contribute.
	MinStationWeight = 0.1
)

// Decide computes the alert state for one city from its current prediction
// results and the (possibly empty) prior-cycle readings. The state is fully
// recomputed; no hysteresis exists beyond what the sustained rule derives
// from the snapshot itself.
func Decide(city string, results []types.PredictionResult, previous types.Readings) types.CityAlertState {
	state := types.CityAlertState{
		City:         city,
		StationCount: len(results),
	}

	weighted := weightedSeverity(results)
	state.PredictedPM25 = round1(weighted)
	state.Level = eval.Classify(weighted)
	for _, r := range results {
		if r.PM25 > state.MaxPM25 {
			state.MaxPM25 = r.PM25
		}
	}

	rule := firedRule(results, previous)

	// A fired rule with a low weighted estimate is suppressed: the city only
	// reports alerting when the weighted severity is above the NONE band.
	if rule != types.AlertRuleNone && weighted >= eval.AlertLevels[1].Min {
		state.Alert = true
		state.Rule = rule
	}

	return state
}

// DecideAll groups results by target city and decides each city
// independently. previousByCity carries only in-window prior readings; cities
// absent from it simply cannot fire rule 2.
func DecideAll(results []types.PredictionResult, previousByCity map[string]types.Readings) map[string]types.CityAlertState {
	byCity := make(map[string][]types.PredictionResult)
	for _, r := range results {
		byCity[r.TargetCity] = append(byCity[r.TargetCity], r)
	}

	states := make(map[string]types.CityAlertState, len(byCity))
	for city, cityResults := range byCity {
		states[city] = Decide(city, cityResults, previousByCity[city])
	}
	return states
}

// weightedSeverity computes the R-weighted average of predicted values across
// a city's stations. Weight is max(R*R, MinStationWeight): squaring favors
// high-reliability stations while the floor guarantees every station some
// influence. Falls back to a simple mean if no weight accumulates.
func weightedSeverity(results []types.PredictionResult) float64 {
	if len(results) == 0 {
		return 0
	}

	var sum, totalWeight float64
	for _, r := range results {
		w := r.R * r.R
		if w < MinStationWeight {
			w = MinStationWeight
		}
		sum += w * r.Predicted
		totalWeight += w
	}

	if totalWeight == 0 {
		var mean float64
		for _, r := range results {
			mean += r.Predicted
		}
		return mean / float64(len(results))
	}

	return sum / totalWeight
}

// firedRule evaluates the two trigger rules and returns the first that fires.
// Rule 1 (instant) takes precedence over rule 2 (sustained).
func firedRule(results []types.PredictionResult, previous types.Readings) types.AlertRule {
	// Rule 1: any station's raw reading at or above the instant threshold.
	// The predicted value plays no part here.
	for _, r := range results {
		if r.PM25 >= InstantThreshold {
			return types.AlertRuleInstant
		}
	}

	// Rule 2 needs prior readings to corroborate against.
	if len(previous) == 0 {
		return types.AlertRuleNone
	}

	var primary, secondary []string
	for _, r := range results {
		prev, ok := previous[r.StationID]
		if !ok {
			continue
		}
		if r.PM25 >= PrimarySustainedThreshold && prev >= PrimarySustainedThreshold {
			primary = append(primary, r.StationID)
		}
		if r.PM25 >= SecondarySustainedThreshold && prev >= SecondarySustainedThreshold {
			secondary = append(secondary, r.StationID)
		}
	}

	// Two distinct stations must corroborate; a single station sustaining
	// both thresholds does not count.
	for _, p := range primary {
		for _, s := range secondary {
			if p != s {
				return types.AlertRuleSustained
			}
		}
	}

	return types.AlertRuleNone
}

// AlertingCities returns the keys of alerting cities in sorted order, for
// deterministic logging.
func AlertingCities(states map[string]types.CityAlertState) []string {
	var cities []string
	for city, st := range states {
		if st.Alert {
			cities = append(cities, city)
		}
	}
	sort.Strings(cities)
	return cities
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
