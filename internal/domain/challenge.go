package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Period is the window length a challenge is measured over.
type Period string

const (
	PeriodDaily  Period = "daily"
	PeriodWeekly Period = "weekly"
)

// Valid reports whether p is a known period.
func (p Period) Valid() bool {
	return p == PeriodDaily || p == PeriodWeekly
}

// Challenge is a distance goal within a recurring time window.
type Challenge struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Period       Period  `json:"period"`
	TargetMeters float64 `json:"target"`
}

// ChallengeProgress tracks one rider against one challenge in the current window.
type ChallengeProgress struct {
	ProgressMeters float64 `json:"progress"`
	WindowKey      string  `json:"windowKey"`
	Completed      bool    `json:"completed"`
	CompletedAtMs  int64   `json:"completedAt,omitempty"`
}

// DefaultChallenges are seeded at startup when absent from the loaded state.
func DefaultChallenges() []Challenge {
	return []Challenge{
		{ID: "daily_1k", Name: "Daily 1 km", Period: PeriodDaily, TargetMeters: 1000},
		{ID: "weekly_5k", Name: "Weekly 5 km", Period: PeriodWeekly, TargetMeters: 5000},
	}
}

// ParseChallenges parses a comma-separated list of id:period:targetMeters[:name].
func ParseChallenges(s string) ([]Challenge, error) {
	var out []Challenge
	seen := make(map[string]bool)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, ":", 4)
		if len(parts) < 3 {
			return nil, fmt.Errorf("challenge %q: want id:period:target[:name]", item)
		}
		ch := Challenge{ID: parts[0], Period: Period(parts[1]), Name: parts[0]}
		if len(parts) == 4 && parts[3] != "" {
			ch.Name = parts[3]
		}
		if err := ValidateID(ch.ID); err != nil {
			return nil, fmt.Errorf("challenge %q: %w", item, err)
		}
		if !ch.Period.Valid() {
			return nil, fmt.Errorf("challenge %q: unknown period %q", item, parts[1])
		}
		target, err := strconv.ParseFloat(parts[2], 64)
		if err != nil || target <= 0 {
			return nil, fmt.Errorf("challenge %q: target must be a positive number", item)
		}
		ch.TargetMeters = target
		if seen[ch.ID] {
			return nil, fmt.Errorf("challenge %q: duplicate id", ch.ID)
		}
		seen[ch.ID] = true
		out = append(out, ch)
	}
	return out, nil
}
