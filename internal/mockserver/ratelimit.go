package mockserver

import (
	"sync"
	"time"
)

// DefaultRequestsPerMinute is the per-user REST request budget.
const DefaultRequestsPerMinute = 600

// rateLimiter is a fixed one-minute window counter per user.
// ARCHITECTURAL DISCOVERY: Per-client state tracking with proper cleanup prevents memory leaks
type rateLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	now       func() time.Time
	users     map[string]*userWindow
	lastPrune time.Time
}

type userWindow struct {
	count int
	start time.Time
}

func newRateLimiter(limit int) *rateLimiter {
	return &rateLimiter{
		limit:  limit,
		window: time.Minute,
		now:    time.Now,
		users:  make(map[string]*userWindow),
	}
}

// Allow counts one request for userID and reports whether it fits the
// current window. A non-positive limit disables limiting.
func (rl *rateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.limit <= 0 {
		return true
	}

	now := rl.now()
	rl.pruneLocked(now)

	w, ok := rl.users[userID]
	if !ok || now.Sub(w.start) >= rl.window {
		rl.users[userID] = &userWindow{count: 1, start: now}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// pruneLocked drops users idle for five windows, at most once per window.
func (rl *rateLimiter) pruneLocked(now time.Time) {
	if now.Sub(rl.lastPrune) < rl.window {
		return
	}
	rl.lastPrune = now
	for id, w := range rl.users {
		if now.Sub(w.start) > 5*rl.window {
			delete(rl.users, id)
		}
	}
}

func (rl *rateLimiter) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.users)
}
