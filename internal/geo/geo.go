// Package geo holds the great-circle math used to turn fixes into movement.
package geo

import "math"

// EarthRadiusMeters is the sphere radius used by DistanceMeters.
const EarthRadiusMeters = 6_371_000.0

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// DistanceMeters returns the haversine distance between a and b.
func DistanceMeters(a, b Point) float64 {
	if a == b {
		return 0
	}
	φ1 := a.Lat * math.Pi / 180.0
	φ2 := b.Lat * math.Pi / 180.0
	dφ := (b.Lat - a.Lat) * math.Pi / 180.0
	dλ := (b.Lon - a.Lon) * math.Pi / 180.0

	sinDφ := math.Sin(dφ / 2)
	sinDλ := math.Sin(dλ / 2)

	h := sinDφ*sinDφ + math.Cos(φ1)*math.Cos(φ2)*sinDλ*sinDλ
	// rounding can push h a hair outside [0, 1] for near-antipodal points
	h = math.Min(1, math.Max(0, h))
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// SpeedKmh converts a distance covered in elapsedMs into km/h.
// Returns 0 when no time elapsed.
func SpeedKmh(meters float64, elapsedMs int64) float64 {
	if elapsedMs <= 0 {
		return 0
	}
	dt := float64(elapsedMs) / 1000.0
	return meters / dt * 3.6
}
