package server

import (
	"sync"
	"time"

	"realm-server/internal/config"
)

type rateEntry struct {
	count       int
	windowStart time.Time
	limited     bool
	limitedAt   time.Time
}

// RateLimiter counts non-exempt packets per session. A session that sends
// more than MaxRequests within one window is flagged until the cooldown
// elapses; Expire lifts flags and is driven by the fixed-rate loop.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	cooldown    time.Duration
	now         func() time.Time

	mu      sync.Mutex
	entries map[string]*rateEntry
}

// NewRateLimiter creates a limiter from config
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		maxRequests: cfg.MaxRequests,
		window:      cfg.Window,
		cooldown:    cfg.Cooldown,
		now:         time.Now,
		entries:     make(map[string]*rateEntry),
	}
}

// Allow counts one packet. It returns allowed=false for flagged sessions,
// and notify=true only on the packet that caused the flag.
func (r *RateLimiter) Allow(id string) (allowed, notify bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	e, ok := r.entries[id]
	if !ok {
		e = &rateEntry{windowStart: now}
		r.entries[id] = e
	}
	if e.limited {
		return false, false
	}
	if now.Sub(e.windowStart) >= r.window {
		e.count = 0
		e.windowStart = now
	}
	e.count++
	if e.count > r.maxRequests {
		e.limited = true
		e.limitedAt = now
		return false, true
	}
	return true, false
}

// Limited reports whether a session is currently flagged
func (r *RateLimiter) Limited(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return ok && e.limited
}

// Expire unflags sessions whose cooldown has elapsed and returns their ids
func (r *RateLimiter) Expire() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var lifted []string
	for id, e := range r.entries {
		if e.limited && now.Sub(e.limitedAt) >= r.cooldown {
			e.limited = false
			e.count = 0
			e.windowStart = now
			lifted = append(lifted, id)
		}
	}
	return lifted
}

// Remove forgets a session
func (r *RateLimiter) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Len returns the number of tracked sessions
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
