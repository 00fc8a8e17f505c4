package authapi

import (
	"net"
	"sync"
	"time"
)

// failureWindow counts failed attempts per key over a sliding window.
// It is safe for concurrent use.
type failureWindow struct {
	max    int
	window time.Duration

	mu        sync.Mutex
	hits      map[string][]time.Time
	lastSweep time.Time
}

func newFailureWindow(max int, window time.Duration) *failureWindow {
	return &failureWindow{
		max:    max,
		window: window,
		hits:   make(map[string][]time.Time),
	}
}

// blocked reports whether key has reached the limit, and how long until the
// oldest counted failure leaves the window.
func (f *failureWindow) blocked(key string, now time.Time) (bool, time.Duration) {
	if f == nil || f.max <= 0 || key == "" {
		return false, 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.prune(key, now)
	if len(kept) < f.max {
		return false, 0
	}
	retry := kept[0].Add(f.window).Sub(now)
	if retry < time.Second {
		retry = time.Second
	}
	return true, retry
}

func (f *failureWindow) record(key string, now time.Time) {
	if f == nil || f.max <= 0 || key == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.prune(key, now)
	f.hits[key] = append(kept, now)
	f.sweep(now)
}

// prune drops expired entries for key. Caller holds mu.
func (f *failureWindow) prune(key string, now time.Time) []time.Time {
	ts := f.hits[key]
	cut := now.Add(-f.window)
	i := 0
	for i < len(ts) && !ts[i].After(cut) {
		i++
	}
	ts = ts[i:]
	if len(ts) == 0 {
		delete(f.hits, key)
		return nil
	}
	f.hits[key] = ts
	return ts
}

// sweep forgets idle keys at most once per window. Caller holds mu.
func (f *failureWindow) sweep(now time.Time) {
	if now.Sub(f.lastSweep) < f.window {
		return
	}
	f.lastSweep = now
	for k := range f.hits {
		f.prune(k, now)
	}
}

func ipKey(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
