package domain

// EngineConfig holds the tunable constants of the telemetry pipeline.
type EngineConfig struct {
	MaxSpeedKmh         float64     `json:"max_speed_kmh"`          // default 140
	PointsPerKm         int64       `json:"points_per_km"`          // default 10
	BadgeMilestones     []float64   `json:"badge_milestones"`       // meters
	HistoryCapacity     int         `json:"history_capacity"`       // default 200
	ChallengeBonusPerKm int64       `json:"challenge_bonus_per_km"` // default 5
	Challenges          []Challenge `json:"challenges"`
}

// DefaultBadgeMilestones are the cumulative-distance thresholds in meters.
func DefaultBadgeMilestones() []float64 {
	return []float64{1000, 5000, 10000, 25000, 50000, 100000}
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxSpeedKmh:         140,
		PointsPerKm:         10,
		BadgeMilestones:     DefaultBadgeMilestones(),
		HistoryCapacity:     200,
		ChallengeBonusPerKm: 5,
		Challenges:          DefaultChallenges(),
	}
}

// GuardResult is the verdict of a guard check.
type GuardResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Guard   string `json:"guard,omitempty"` // which guard blocked
}
