package realtime

import (
	"sync"
	"time"
)

// FrameLimiter bounds inbound frames per principal over a sliding window.
// Every feed a principal has open draws from the same budget, so opening more
// sockets does not buy more frames.
type FrameLimiter struct {
	limit  int
	window time.Duration

	mu        sync.Mutex
	frames    map[string][]time.Time
	lastSweep time.Time
}

// NewFrameLimiter falls back to the package limits for non-positive inputs.
func NewFrameLimiter(limit int, window time.Duration) *FrameLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &FrameLimiter{
		limit:  limit,
		window: window,
		frames: make(map[string][]time.Time),
	}
}

// Allow records a frame from principalID at now unless the budget is spent.
func (l *FrameLimiter) Allow(principalID string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	kept := l.live(principalID, now)
	if len(kept) >= l.limit {
		return false
	}
	l.frames[principalID] = append(kept, now)
	return true
}

// live drops frames that left the window. Caller holds mu.
func (l *FrameLimiter) live(principalID string, now time.Time) []time.Time {
	ts := l.frames[principalID]
	cut := now.Add(-l.window)
	i := 0
	for i < len(ts) && !ts[i].After(cut) {
		i++
	}
	if i == len(ts) {
		delete(l.frames, principalID)
		return nil
	}
	return ts[i:]
}

// sweep forgets idle principals at most once per window. Caller holds mu.
func (l *FrameLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for id := range l.frames {
		if kept := l.live(id, now); kept != nil {
			l.frames[id] = kept
		}
	}
}

// tracked reports how many principals currently hold budget state.
func (l *FrameLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames)
}
