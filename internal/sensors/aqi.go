package sensors

// aqiBreakpoint is one segment of the US EPA PM2.5 AQI table. Segments are
// monotonic and contiguous; conversion is piecewise linear within a segment.
type aqiBreakpoint struct {
	aqiLo, aqiHi float64
	pmLo, pmHi   float64
}

var aqiBreakpoints = []aqiBreakpoint{
	{0, 50, 0, 12.0},
	{51, 100, 12.1, 35.4},
	{101, 150, 35.5, 55.4},
	{151, 200, 55.5, 150.4},
	{201, 300, 150.5, 250.4},
	{301, 400, 250.5, 350.4},
	{401, 500, 350.5, 500.4},
}

// AQIToPM25 converts an AQI index value to a PM2.5 concentration in µg/m³
// by inverting the EPA breakpoint table. Values above the top breakpoint
// extrapolate linearly with the last segment's slope rather than failing:
// hazardous wildfire plumes routinely exceed the table.
func AQIToPM25(aqi float64) float64 {
	if aqi <= 0 {
		return 0
	}

	for _, bp := range aqiBreakpoints {
		if aqi <= bp.aqiHi {
			return bp.pmLo + (aqi-bp.aqiLo)*(bp.pmHi-bp.pmLo)/(bp.aqiHi-bp.aqiLo)
		}
	}

	last := aqiBreakpoints[len(aqiBreakpoints)-1]
	slope := (last.pmHi - last.pmLo) / (last.aqiHi - last.aqiLo)
	return last.pmHi + (aqi-last.aqiHi)*slope
}
