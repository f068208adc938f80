package gamification

import (
	"math"
	"time"

	"github.com/geoquest/platform/internal/domain"
)

const windowKeyLayout = "2006-01-02"

// WindowKey returns the calendar window a timestamp falls into: the UTC date
// for daily challenges, the date of the Monday on or before it for weekly ones.
func WindowKey(period domain.Period, tsMs int64) string {
	t := time.UnixMilli(tsMs).UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if period == domain.PeriodWeekly {
		back := (int(day.Weekday()) + 6) % 7
		day = day.AddDate(0, 0, -back)
	}
	return day.Format(windowKeyLayout)
}

// Tracker advances per-rider challenge progress within rolling windows.
type Tracker struct {
	bonusPerKm int64
}

// NewTracker creates a tracker paying bonusPerKm points per target kilometer on completion.
func NewTracker(bonusPerKm int64) *Tracker {
	return &Tracker{bonusPerKm: bonusPerKm}
}

// Bonus is the completion bonus for a challenge.
func (t *Tracker) Bonus(ch domain.Challenge) int64 {
	return int64(math.Floor(ch.TargetMeters/1000)) * t.bonusPerKm
}

// Advance applies a distance delta observed at tsMs to one challenge's progress.
// The window rolls over first, even for a zero delta, whenever the sample's
// window key differs from the stored one, in either direction. A completion
// event is returned at most once per stored window.
func (t *Tracker) Advance(p domain.ChallengeProgress, ch domain.Challenge, riderID string, tsMs int64, delta float64) (domain.ChallengeProgress, *domain.ChallengeEvent) {
	key := WindowKey(ch.Period, tsMs)
	if key != p.WindowKey {
		p = domain.ChallengeProgress{WindowKey: key}
	}
	if p.Completed {
		return p, nil
	}

	p.ProgressMeters += delta
	if p.ProgressMeters < ch.TargetMeters {
		return p, nil
	}

	p.Completed = true
	p.CompletedAtMs = tsMs
	return p, &domain.ChallengeEvent{
		Type:        domain.ChallengeCompleted,
		ChallengeID: ch.ID,
		RiderID:     riderID,
		BonusPoints: t.Bonus(ch),
	}
}

// AdvanceAll applies a delta to every challenge for the rider, mutating its
// progress map and score. Events are returned in challenge order.
func (t *Tracker) AdvanceAll(r *domain.Rider, challenges []domain.Challenge, tsMs int64, delta float64) []domain.ChallengeEvent {
	if r.ChallengeProgress == nil {
		r.ChallengeProgress = make(map[string]domain.ChallengeProgress, len(challenges))
	}
	var events []domain.ChallengeEvent
	for _, ch := range challenges {
		next, ev := t.Advance(r.ChallengeProgress[ch.ID], ch, r.ID, tsMs, delta)
		r.ChallengeProgress[ch.ID] = next
		if ev != nil {
			r.Score += ev.BonusPoints
			events = append(events, *ev)
		}
	}
	return events
}
