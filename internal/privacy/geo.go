package privacy

import (
	"math"

	"gps2rest/internal/model"
)

const (
	EarthRadiusMeters = 6371000.0

	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi
)

// Distance returns the haversine great-circle distance in meters.
func Distance(a, b model.Coordinate) float64 {
	lat1 := a.Latitude * degToRad
	lat2 := b.Latitude * degToRad
	dLat := (b.Latitude - a.Latitude) * degToRad
	dLon := (b.Longitude - a.Longitude) * degToRad

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}
