package guard

import (
	"fmt"

	"github.com/geoquest/platform/internal/domain"
	"github.com/geoquest/platform/internal/geo"
)

// Movement classifies how a sample relates to the rider's last accepted fix.
type Movement int

const (
	// MovementInitial is the rider's first-ever fix.
	MovementInitial Movement = iota
	// MovementForward has a strictly later timestamp and may accrue distance.
	MovementForward
	// MovementStale has a duplicate or earlier timestamp and accrues nothing.
	MovementStale
)

// SpeedVerdict is the outcome of the anti-cheat speed gate.
type SpeedVerdict struct {
	domain.GuardResult
	Movement    Movement `json:"movement"`
	DeltaMeters float64  `json:"delta_meters"`
	SpeedKmh    float64  `json:"speed_kmh"`
}

// SpeedFilter rejects samples whose implied speed exceeds a ceiling.
type SpeedFilter struct {
	maxKmh float64
}

// NewSpeedFilter creates a filter with the given ceiling in km/h.
func NewSpeedFilter(maxKmh float64) *SpeedFilter {
	return &SpeedFilter{maxKmh: maxKmh}
}

// MaxKmh returns the configured ceiling.
func (f *SpeedFilter) MaxKmh() float64 { return f.maxKmh }

// Check evaluates next against last. A nil last is the first fix and is always allowed.
func (f *SpeedFilter) Check(last *domain.Position, next domain.Position) SpeedVerdict {
	if last == nil {
		return SpeedVerdict{GuardResult: domain.GuardResult{Allowed: true}, Movement: MovementInitial}
	}

	elapsed := next.TimestampMs - last.TimestampMs
	if elapsed <= 0 {
		return SpeedVerdict{GuardResult: domain.GuardResult{Allowed: true}, Movement: MovementStale}
	}

	delta := geo.DistanceMeters(
		geo.Point{Lat: last.Lat, Lon: last.Lon},
		geo.Point{Lat: next.Lat, Lon: next.Lon},
	)
	speed := geo.SpeedKmh(delta, elapsed)

	v := SpeedVerdict{Movement: MovementForward, DeltaMeters: delta, SpeedKmh: speed}
	if speed > f.maxKmh {
		v.GuardResult = domain.GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("implied speed %.1f km/h exceeds %.0f km/h", speed, f.maxKmh),
			Guard:   "speed_filter",
		}
		return v
	}
	v.GuardResult = domain.GuardResult{Allowed: true}
	return v
}
