package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Guard is a per-key token-bucket limiter used in front of the sliding
// window to absorb request bursts. Idle keys are dropped by the janitor.
type Guard struct {
	mu      sync.Mutex
	entries map[string]*guardEntry
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
}

type guardEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewGuard creates a Guard allowing rps sustained requests per key with the
// given burst size.
func NewGuard(rps float64, burst int) *Guard {
	return &Guard{
		entries: make(map[string]*guardEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: 15 * time.Minute,
	}
}

// Allow reports whether the key may proceed right now.
func (g *Guard) Allow(key string) bool {
	now := time.Now()

	g.mu.Lock()
	ent, ok := g.entries[key]
	if !ok {
		ent = &guardEntry{lim: rate.NewLimiter(g.rps, g.burst)}
		g.entries[key] = ent
	}
	ent.lastSeen = now
	g.mu.Unlock()

	return ent.lim.Allow()
}

// Cleanup drops keys not seen within the idle TTL.
func (g *Guard) Cleanup() {
	cutoff := time.Now().Add(-g.idleTTL)

	g.mu.Lock()
	defer g.mu.Unlock()

	for k, ent := range g.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(g.entries, k)
		}
	}
}

// StartJanitor periodically removes idle keys until ctx is cancelled.
func (g *Guard) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				g.Cleanup()
			}
		}
	}()
}
