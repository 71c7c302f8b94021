// Package geo provides great-circle distance and bounding-box helpers for
// matching monitoring stations against external sensor coordinates.
package geo

import "math"

// EarthRadiusKm is the spherical Earth radius used by the haversine formula.
const EarthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance in kilometres between two
// coordinate pairs using the haversine formula on a spherical Earth.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// BoundingBox is an axis-aligned lat/lon rectangle. SW is the minimum corner,
// NE the maximum.
type BoundingBox struct {
	SWLat float64
	SWLon float64
	NELat float64
	NELon float64
}

// BoxAround computes the minimal bounding box covering the given coordinate
// pairs, expanded by pad degrees on every side. The two slices are parallel
// and must be non-empty and of equal length.
func BoxAround(lats, lons []float64, pad float64) BoundingBox {
	minLat, maxLat := lats[0], lats[0]
	minLon, maxLon := lons[0], lons[0]
	for i := 1; i < len(lats); i++ {
		minLat = math.Min(minLat, lats[i])
		maxLat = math.Max(maxLat, lats[i])
		minLon = math.Min(minLon, lons[i])
		maxLon = math.Max(maxLon, lons[i])
	}
	return BoundingBox{
		SWLat: minLat - pad,
		SWLon: minLon - pad,
		NELat: maxLat + pad,
		NELon: maxLon + pad,
	}
}

// Contains reports whether the point lies inside the box (inclusive).
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.SWLat && lat <= b.NELat && lon >= b.SWLon && lon <= b.NELon
}
