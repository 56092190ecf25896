package handlers

import (
	"strings"
	"sync"
	"time"
)

// RateLimiter gates requests per caller key.
type RateLimiter interface {
	Allow(key string) bool
}

type simpleRateLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	buckets map[string]windowState
}

type windowState struct {
	count int
	reset time.Time
}

// NewSimpleRateLimiter builds a fixed-window in-memory limiter allowing limit
// requests per window. A non-positive limit or window returns nil, which
// callers treat as throttling disabled.
func NewSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) RateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &simpleRateLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		buckets: make(map[string]windowState),
	}
}

func (l *simpleRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.buckets[key]
	if !ok || now.After(state.reset) {
		l.buckets[key] = windowState{count: 1, reset: now.Add(l.window)}
		// Opening a new window is a convenient moment to drop stale keys.
		l.dropExpiredLocked(now)
		return true
	}

	if state.count >= l.limit {
		return false
	}
	state.count++
	l.buckets[key] = state
	return true
}

func (l *simpleRateLimiter) dropExpiredLocked(now time.Time) {
	for key, state := range l.buckets {
		if now.After(state.reset) {
			delete(l.buckets, key)
		}
	}
}
