package domain

import "time"

// Position is a single geolocation fix. TimestampMs is Unix milliseconds.
type Position struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	TimestampMs int64   `json:"ts"`
}

// HistoryEntry is an accepted fix together with the distance it contributed.
type HistoryEntry struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	TimestampMs int64   `json:"ts"`
	DeltaMeters float64 `json:"delta"`
}

// Rider is the authoritative per-participant state.
type Rider struct {
	ID                       string                       `json:"id"`
	Name                     string                       `json:"name"`
	Email                    string                       `json:"email,omitempty"`
	LastPosition             *Position                    `json:"lastPosition,omitempty"`
	CumulativeDistanceMeters float64                      `json:"distance"`
	Score                    int64                        `json:"score"`
	Badges                   []string                     `json:"badges"`
	RecentHistory            []HistoryEntry               `json:"history"`
	ChallengeProgress        map[string]ChallengeProgress `json:"challengeProgress"`
	SuspiciousCount          int                          `json:"suspiciousCount"`
	CreatedAt                time.Time                    `json:"createdAt"`
}

// NewRider returns a rider with zero progress, as created by registration.
func NewRider(id, name, email string) *Rider {
	return &Rider{
		ID:                id,
		Name:              name,
		Email:             email,
		Badges:            []string{},
		RecentHistory:     []HistoryEntry{},
		ChallengeProgress: make(map[string]ChallengeProgress),
		CreatedAt:         time.Now().UTC(),
	}
}

// HasBadge reports whether the badge has already been awarded.
func (r *Rider) HasBadge(id string) bool {
	for _, b := range r.Badges {
		if b == id {
			return true
		}
	}
	return false
}

// AwardBadge adds a badge once. It returns false if the rider already had it.
func (r *Rider) AwardBadge(id string) bool {
	if r.HasBadge(id) {
		return false
	}
	r.Badges = append(r.Badges, id)
	return true
}

// AppendHistory records an accepted fix, evicting the oldest entries beyond capacity.
func (r *Rider) AppendHistory(e HistoryEntry, capacity int) {
	if capacity <= 0 {
		return
	}
	r.RecentHistory = append(r.RecentHistory, e)
	if over := len(r.RecentHistory) - capacity; over > 0 {
		kept := make([]HistoryEntry, capacity)
		copy(kept, r.RecentHistory[over:])
		r.RecentHistory = kept
	}
}

// Clone returns a deep copy safe to mutate independently of the receiver.
func (r *Rider) Clone() *Rider {
	if r == nil {
		return nil
	}
	c := *r
	if r.LastPosition != nil {
		p := *r.LastPosition
		c.LastPosition = &p
	}
	c.Badges = append([]string(nil), r.Badges...)
	if c.Badges == nil {
		c.Badges = []string{}
	}
	c.RecentHistory = append([]HistoryEntry(nil), r.RecentHistory...)
	if c.RecentHistory == nil {
		c.RecentHistory = []HistoryEntry{}
	}
	c.ChallengeProgress = make(map[string]ChallengeProgress, len(r.ChallengeProgress))
	for k, v := range r.ChallengeProgress {
		c.ChallengeProgress[k] = v
	}
	return &c
}

// Public returns a copy safe to show other riders and observers.
func (r *Rider) Public() *Rider {
	c := r.Clone()
	c.Email = ""
	return c
}

// RoundedDistance is the cumulative distance in whole meters as shown to observers.
func (r *Rider) RoundedDistance() int64 {
	return int64(r.CumulativeDistanceMeters + 0.5)
}

// State is the whole engine state exchanged with the durable store.
type State struct {
	Riders     map[string]*Rider    `json:"riders"`
	Users      map[string]string    `json:"users"` // email -> rider id
	Challenges map[string]Challenge `json:"challenges"`
	SavedAt    time.Time            `json:"savedAt"`
}

// EmptyState returns a state with initialized, empty maps.
func EmptyState() *State {
	return &State{
		Riders:     make(map[string]*Rider),
		Users:      make(map[string]string),
		Challenges: make(map[string]Challenge),
	}
}
