// Package geotest builds synthetic rider tracks for tests.
package geotest

import (
	"math"

	"github.com/geoquest/platform/internal/geo"
)

// Offset returns the point reached by moving north and east by the given meters.
// Accurate for the short hops a rider covers between fixes.
func Offset(p geo.Point, northMeters, eastMeters float64) geo.Point {
	dLat := northMeters / geo.EarthRadiusMeters * 180.0 / math.Pi
	dLon := eastMeters / (geo.EarthRadiusMeters * math.Cos(p.Lat*math.Pi/180.0)) * 180.0 / math.Pi
	return geo.Point{Lat: p.Lat + dLat, Lon: p.Lon + dLon}
}
