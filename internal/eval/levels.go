// Package eval applies each station's linear calibration to its matched
// sensor reading and buckets the result into a severity level.
package eval

import (
	"math"

	"clear25/internal/types"
)

// AlertLevels is the canonical severity breakpoint table. Breakpoints are
// contiguous and monotonically increasing in Min, covering [0, +inf);
// classification of a value always yields exactly one level.
var AlertLevels = []types.AlertLevel{
	{Name: "NONE", Severity: 1, Min: 0, Max: 31, Hex: "#A8D5A0", TextColor: "black",
		Health: "No precautions needed."},
	{Name: "MODERATE", Severity: 2, Min: 31, Max: 60, Hex: "#D2CC9A", TextColor: "black",
		Health: "Sensitive groups (children/elderly) avoid strenuous activities."},
	{Name: "HIGH", Severity: 3, Min: 60, Max: 80, Hex: "#F0BFA0", TextColor: "black",
		Health: "Everyone should reduce physical exertion. N95 or KN95 mask. Keep doors and windows closed. HVAC to recirculate. Run HEPA filter."},
	{Name: "VERY HIGH", Severity: 4, Min: 80, Max: 120, Hex: "#E8988A", TextColor: "white",
		Health: "Avoid all outdoor activity. Keep hydrated."},
	{Name: "EXTREME", Severity: 5, Min: 120, Max: math.Inf(1), Hex: "#E65C50", TextColor: "white",
		Health: "Halt indoor pollution. No frying or sauteing. No vacuuming. No candles. No wood-burning stoves."},
}

// Classify returns the severity level for a PM2.5 value in µg/m³: the highest
// level whose Min is <= the value. Negative values clamp to the lowest level.
func Classify(pm25 float64) types.AlertLevel {
	for i := len(AlertLevels) - 1; i >= 0; i-- {
		if pm25 >= AlertLevels[i].Min {
			return AlertLevels[i]
		}
	}
	return AlertLevels[0]
}
