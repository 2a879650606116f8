// Package ratelimiter bounds how many requests each client identity may make
// per fixed window.
//
// The window restarts on the first request after the previous one has fully
// elapsed, so a client can get up to twice the limit through in a short span
// that straddles a window boundary.
package ratelimiter

import (
	"sync"
	"time"
)

const (
	DefaultLimit  = 10
	DefaultWindow = time.Minute
)

type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
	now     func() time.Time
}

type window struct {
	count int
	start time.Time
}

type Option func(*RateLimiter)

func WithClock(now func() time.Time) Option {
	return func(rl *RateLimiter) { rl.now = now }
}

// New builds a limiter admitting limit requests per period for each identity.
// Non-positive values fall back to DefaultLimit and DefaultWindow.
func New(limit int, period time.Duration, opts ...Option) *RateLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if period <= 0 {
		period = DefaultWindow
	}

	rl := &RateLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}

	return rl
}

func (rl *RateLimiter) Limit() int            { return rl.limit }
func (rl *RateLimiter) Window() time.Duration { return rl.period }

func (rl *RateLimiter) Allow(identity string) bool {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[identity]
	if !ok {
		rl.windows[identity] = &window{count: 1, start: now}

		return true
	}

	if now.Sub(w.start) > rl.period {
		w.count = 1
		w.start = now

		return true
	}

	if w.count < rl.limit {
		w.count++

		return true
	}

	return false
}

// Cleanup drops windows that have fully elapsed. Such a window would be reset
// by the identity's next request anyway, so dropping it changes nothing but
// memory use.
func (rl *RateLimiter) Cleanup() int {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for identity, w := range rl.windows {
		if now.Sub(w.start) > rl.period {
			delete(rl.windows, identity)
			removed++
		}
	}

	return removed
}

func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return len(rl.windows)
}
