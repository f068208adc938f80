package gamification

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/geoquest/platform/internal/domain"
)

// Award is the points outcome of one distance delta.
type Award struct {
	KmGained     int64 `json:"km_gained"`
	PointsGained int64 `json:"points_gained"`
}

// Scorer converts accumulated distance into points and one-time milestone badges.
type Scorer struct {
	pointsPerKm int64
	milestones  []float64
}

// NewScorer creates a scorer. Milestones are sorted ascending; duplicates are dropped.
func NewScorer(pointsPerKm int64, milestones []float64) *Scorer {
	ms := append([]float64(nil), milestones...)
	sort.Float64s(ms)
	uniq := ms[:0]
	for i, m := range ms {
		if m <= 0 || (i > 0 && m == ms[i-1]) {
			continue
		}
		uniq = append(uniq, m)
	}
	return &Scorer{pointsPerKm: pointsPerKm, milestones: uniq}
}

// Award counts whole kilometers crossed between prev and next.
func (s *Scorer) Award(prev, next float64) Award {
	km := int64(math.Floor(next/1000)) - int64(math.Floor(prev/1000))
	if km < 0 {
		km = 0
	}
	return Award{KmGained: km, PointsGained: km * s.pointsPerKm}
}

// CheckBadges returns the milestones crossed in (prev, next] that owned does not already hold.
func (s *Scorer) CheckBadges(prev, next float64, owned func(id string) bool) []domain.Badge {
	var out []domain.Badge
	for _, m := range s.milestones {
		if prev < m && m <= next {
			id := BadgeID(m)
			if owned != nil && owned(id) {
				continue
			}
			out = append(out, domain.Badge{ID: id, Label: BadgeLabel(m)})
		}
	}
	return out
}

// BadgeID names the badge for a milestone, e.g. badge_1000.
func BadgeID(meters float64) string {
	return "badge_" + strconv.FormatInt(int64(meters), 10)
}

// BadgeLabel is the human label for a milestone, e.g. "1 km".
func BadgeLabel(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%d m", int64(meters))
	}
	return strconv.FormatFloat(meters/1000, 'f', -1, 64) + " km"
}
