package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/geoquest/platform/internal/domain"
)

// frameWindow is a ring of the last accepted frame times for one connection.
// Once full, stamps[head] is the oldest.
type frameWindow struct {
	stamps []time.Time
	head   int
}

// RateLimiter caps inbound frames per connection over a sliding window.
// Memory per connection is bounded by the limit.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*frameWindow
	limit   int
	window  time.Duration
	now     func() time.Time
}

// NewRateLimiter allows limit frames per window for each key.
// A non-positive limit disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*frameWindow),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Check records a frame for key if it fits in the window. Denied frames are
// not recorded, so a flooding connection recovers as soon as its oldest
// accepted frame ages out.
func (rl *RateLimiter) Check(_ context.Context, key string) domain.GuardResult {
	if rl.limit <= 0 {
		return domain.GuardResult{Allowed: true}
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok {
		w = &frameWindow{stamps: make([]time.Time, 0, rl.limit)}
		rl.windows[key] = w
	}

	if len(w.stamps) < rl.limit {
		w.stamps = append(w.stamps, now)
		return domain.GuardResult{Allowed: true}
	}

	if age := now.Sub(w.stamps[w.head]); age < rl.window {
		return domain.GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("rate limit exceeded: %d/%s, retry in %s", rl.limit, rl.window, rl.window-age),
			Guard:   "rate_limiter",
		}
	}
	w.stamps[w.head] = now
	w.head = (w.head + 1) % rl.limit
	return domain.GuardResult{Allowed: true}
}

// Forget drops the window for a key, e.g. when its connection closes.
func (rl *RateLimiter) Forget(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.windows, key)
}
