package api

import "clear25/internal/types"

// demoReadings is a fixed wildfire scenario: elevated upwind readings for
// every city, used to exercise the full evaluation path without live sensor
// data. Keys are station IDs from the city workbooks.
var demoReadings = map[string]types.Readings{
	"Toronto": {
		"60106": 85.0, "66201": 78.0, "65701": 72.0, "61201": 90.0,
		"60302": 65.0, "65401": 55.0, "60609": 30.0, "360291007": 20.0, "61502": 18.0,
	},
	"Montreal": {
		"54801": 80.0, "52001": 75.0, "50801": 68.0, "500070012": 55.0,
		"500070014": 50.0, "500070007": 45.0, "60106": 70.0, "60302": 40.0,
	},
	"Edmonton": {
		"92801": 90.0, "90302": 75.0, "94401": 65.0, "90304": 70.0,
		"91901": 55.0, "92901": 80.0,
	},
	"Vancouver": {
		"100316": 60.0, "100313": 55.0, "102301": 85.0, "102302": 80.0,
		"100304": 50.0, "100308": 45.0,
	},
}

// demoReadingsFor returns the demo scenario for one city, or every city's
// readings merged when cityKey is empty.
func demoReadingsFor(cityKey string) types.Readings {
	if cityKey != "" {
		readings := make(types.Readings, len(demoReadings[cityKey]))
		for id, v := range demoReadings[cityKey] {
			readings[id] = v
		}
		return readings
	}

	merged := make(types.Readings)
	for _, cityData := range demoReadings {
		for id, v := range cityData {
			merged[id] = v
		}
	}
	return merged
}
