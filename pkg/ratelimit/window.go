// Package ratelimit provides per-caller request limiting: an hourly sliding
// window that is the quota of record, and a token-bucket burst guard for
// short-horizon abuse.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is an in-memory sliding-window request counter keyed by caller id.
// State is transient and not persisted across restarts.
type Limiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	callers map[string][]time.Time

	now func() time.Time
}

// New creates a Limiter allowing max requests per caller within window.
func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		max:     max,
		window:  window,
		callers: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow reports whether a request from callerID is within quota and how many
// requests remain in the current window. A rejected request is not recorded.
// Unseen callers are always allowed.
func (l *Limiter) Allow(callerID string) (allowed bool, remaining int) {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	times := l.callers[callerID]
	live := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}

	if len(live) >= l.max {
		l.callers[callerID] = live
		return false, 0
	}

	live = append(live, now)
	l.callers[callerID] = live
	return true, l.max - len(live)
}

// ResetAt returns when the caller's oldest in-window request falls out of the
// window, i.e. when a rejected caller may retry. ok is false for callers with
// no recorded requests.
func (l *Limiter) ResetAt(callerID string) (reset time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	times := l.callers[callerID]
	if len(times) == 0 {
		return time.Time{}, false
	}
	return times[0].Add(l.window), true
}

// Sweep drops callers whose every recorded request has left the window.
// Callers reappear on their next request, so dropping them is safe.
func (l *Limiter) Sweep() {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	for id, times := range l.callers {
		idle := true
		for _, t := range times {
			if t.After(cutoff) {
				idle = false
				break
			}
		}
		if idle {
			delete(l.callers, id)
		}
	}
}
