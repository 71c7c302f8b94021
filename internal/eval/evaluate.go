package eval

import (
	"math"
	"sort"

	"clear25/internal/types"
)

// Lead-time band edges in kilometres. Tier 1 stations sit farther upwind and
// give longer warning; within a tier, farther stations lead longer.
const (
	tier1FarKm = 500
	tier1MidKm = 350
	tier2FarKm = 150
)

// LeadTime returns the qualitative lead-time label for a station's tier and
// distance from the city center.
func LeadTime(tier int, distanceKm float64) string {
	if tier == 1 {
		switch {
		case distanceKm > tier1FarKm:
			return "24-48 hrs"
		case distanceKm > tier1MidKm:
			return "18-36 hrs"
		default:
			return "12-24 hrs"
		}
	}
	if distanceKm > tier2FarKm {
		return "8-18 hrs"
	}
	return "6-12 hrs"
}

// Predict applies the station's linear calibration to a raw PM2.5 reading,
// rounded to one decimal place.
func Predict(st *types.Station, pm25 float64) float64 {
	return math.Round((st.Slope*pm25+st.Intercept)*10) / 10
}

// Evaluate computes one PredictionResult per station that has a matched
// reading. Stations absent from readings are silently omitted. The output is
// sorted by Predicted descending; ties preserve input order.
func Evaluate(stations []types.Station, readings types.Readings) []types.PredictionResult {
	results := make([]types.PredictionResult, 0, len(stations))
	for i := range stations {
		st := &stations[i]
		pm, ok := readings[st.ID]
		if !ok {
			continue
		}
		predicted := Predict(st, pm)
		results = append(results, types.PredictionResult{
			StationID:  st.ID,
			Station:    st.Name,
			TargetCity: st.TargetCity,
			DistanceKm: st.DistanceKm,
			Direction:  st.Direction,
			Tier:       st.Tier,
			R:          st.R,
			Lat:        st.Lat,
			Lon:        st.Lon,
			PM25:       pm,
			Predicted:  predicted,
			Level:      Classify(predicted),
			LeadTime:   LeadTime(st.Tier, st.DistanceKm),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Predicted > results[j].Predicted
	})

	return results
}
