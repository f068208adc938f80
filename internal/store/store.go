// Package store owns the authoritative in-memory rider and challenge state.
//
// Each rider has its own writer lock; riders never share one. Committed rider
// values are immutable and swapped atomically, so readers (REST, snapshots,
// persistence) never wait on a writer.
package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geoquest/platform/internal/domain"
	"github.com/google/uuid"
)

type slot struct {
	mu    sync.Mutex
	rider atomic.Pointer[domain.Rider]
}

// RiderStore holds every rider and challenge definition.
type RiderStore struct {
	mu         sync.RWMutex // guards the maps, not rider contents
	riders     map[string]*slot
	users      map[string]string // normalized email -> rider id
	challenges map[string]domain.Challenge
	newID      func() string
}

// New creates an empty store.
func New() *RiderStore {
	return &RiderStore{
		riders:     make(map[string]*slot),
		users:      make(map[string]string),
		challenges: make(map[string]domain.Challenge),
		newID:      func() string { return uuid.New().String() },
	}
}

func (s *RiderStore) slot(id string) (*slot, error) {
	s.mu.RLock()
	sl, ok := s.riders[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownRider, id)
	}
	return sl, nil
}

// Resolve returns a private copy of the rider. Unknown ids yield ErrUnknownRider.
func (s *RiderStore) Resolve(id string) (*domain.Rider, error) {
	sl, err := s.slot(id)
	if err != nil {
		return nil, err
	}
	return sl.rider.Load().Clone(), nil
}

// Lock acquires the writer lock scoped to one rider and returns its release func.
// Unknown ids yield ErrUnknownRider and acquire nothing.
func (s *RiderStore) Lock(id string) (func(), error) {
	sl, err := s.slot(id)
	if err != nil {
		return nil, err
	}
	sl.mu.Lock()
	return sl.mu.Unlock, nil
}

// Commit replaces the stored rider. Callers should hold the rider's lock.
func (s *RiderStore) Commit(r *domain.Rider) error {
	sl, err := s.slot(r.ID)
	if err != nil {
		return err
	}
	sl.rider.Store(r.Clone())
	return nil
}

// Update runs fn on a copy of the rider under its lock and commits the copy if
// fn returns nil. then, if non-nil, runs after the commit while the lock is
// still held, so per-rider side effects observe commit order. The committed
// value is returned.
func (s *RiderStore) Update(id string, fn func(r *domain.Rider) error, then func(committed *domain.Rider)) (*domain.Rider, error) {
	unlock, err := s.Lock(id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	r, err := s.Resolve(id)
	if err != nil {
		return nil, err
	}
	if err := fn(r); err != nil {
		return nil, err
	}
	if err := s.Commit(r); err != nil {
		return nil, err
	}
	if then != nil {
		then(r.Clone())
	}
	return r, nil
}

// Register creates a rider for an email, or returns the existing one.
// The bool reports whether a new rider was created.
func (s *RiderStore) Register(email, name string) (*domain.Rider, bool, error) {
	email = domain.NormalizeEmail(email)
	if err := domain.ValidateEmail(email); err != nil {
		return nil, false, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = email[:strings.IndexByte(email, '@')]
	}
	if err := domain.ValidateName(name); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.users[email]; ok {
		if sl, ok := s.riders[id]; ok {
			return sl.rider.Load().Clone(), false, nil
		}
	}

	r := domain.NewRider(s.newID(), name, email)
	sl := &slot{}
	sl.rider.Store(r)
	s.riders[r.ID] = sl
	s.users[email] = r.ID
	return r.Clone(), true, nil
}

// SeedChallenges adds definitions whose ids are not yet present. Existing
// definitions are left untouched. It returns the number added.
func (s *RiderStore) SeedChallenges(defs []domain.Challenge) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, ch := range defs {
		if err := domain.ValidateID(ch.ID); err != nil {
			return added, fmt.Errorf("seed challenge: %w", err)
		}
		if !ch.Period.Valid() || ch.TargetMeters <= 0 {
			return added, fmt.Errorf("seed challenge %s: invalid period or target", ch.ID)
		}
		if _, ok := s.challenges[ch.ID]; ok {
			continue
		}
		s.challenges[ch.ID] = ch
		added++
	}
	return added, nil
}

// Challenges returns all challenge definitions ordered by id.
func (s *RiderStore) Challenges() []domain.Challenge {
	s.mu.RLock()
	out := make([]domain.Challenge, 0, len(s.challenges))
	for _, ch := range s.challenges {
		out = append(out, ch)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Riders returns copies of all riders ordered by id.
func (s *RiderStore) Riders() []*domain.Rider {
	s.mu.RLock()
	out := make([]*domain.Rider, 0, len(s.riders))
	for _, sl := range s.riders {
		out = append(out, sl.rider.Load().Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of riders.
func (s *RiderStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.riders)
}

// Leaderboard returns up to limit riders by score, then distance, then id.
func (s *RiderStore) Leaderboard(limit int) []*domain.Rider {
	riders := s.Riders()
	sort.SliceStable(riders, func(i, j int) bool {
		a, b := riders[i], riders[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.CumulativeDistanceMeters != b.CumulativeDistanceMeters {
			return a.CumulativeDistanceMeters > b.CumulativeDistanceMeters
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(riders) > limit {
		riders = riders[:limit]
	}
	return riders
}

// Snapshot copies the whole state without taking any rider lock.
func (s *RiderStore) Snapshot() *domain.State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := domain.EmptyState()
	for id, sl := range s.riders {
		st.Riders[id] = sl.rider.Load().Clone()
	}
	for email, id := range s.users {
		st.Users[email] = id
	}
	for id, ch := range s.challenges {
		st.Challenges[id] = ch
	}
	st.SavedAt = time.Now().UTC()
	return st
}

// Restore replaces the store contents with a loaded state. Riders with an
// empty id are skipped; nil collections are normalized.
func (s *RiderStore) Restore(st *domain.State) {
	riders := make(map[string]*slot, len(st.Riders))
	for id, r := range st.Riders {
		if r == nil || id == "" {
			continue
		}
		c := r.Clone()
		c.ID = id
		if c.ChallengeProgress == nil {
			c.ChallengeProgress = make(map[string]domain.ChallengeProgress)
		}
		sl := &slot{}
		sl.rider.Store(c)
		riders[id] = sl
	}

	users := make(map[string]string, len(st.Users))
	for email, id := range st.Users {
		if _, ok := riders[id]; ok {
			users[domain.NormalizeEmail(email)] = id
		}
	}
	for id, sl := range riders {
		if email := sl.rider.Load().Email; email != "" {
			if _, ok := users[email]; !ok {
				users[email] = id
			}
		}
	}

	challenges := make(map[string]domain.Challenge, len(st.Challenges))
	for id, ch := range st.Challenges {
		challenges[id] = ch
	}

	s.mu.Lock()
	s.riders = riders
	s.users = users
	s.challenges = challenges
	s.mu.Unlock()
}
