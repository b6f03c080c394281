// Package ratelimit caps auto-responses per sender per hour.
//
// The window is tumbling, anchored to each sender's first message in the
// window, not to a global clock boundary.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// Window is the duration of one rate window.
const Window = time.Hour

type counter struct {
	count         int
	windowResetAt time.Time
}

// Limiter tracks per-sender counters. It is a constructor-injected service
// object, not a process-wide singleton, so tests can instantiate independent
// instances and control the clock.
type Limiter struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates an empty Limiter.
func NewLimiter(opts ...Option) *Limiter {
	l := &Limiter{
		counters: make(map[string]*counter),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether senderID may receive another auto-response this hour,
// incrementing the sender's counter when it may. The check-and-increment is
// atomic so two concurrent messages from one sender cannot both pass the
// threshold.
func (l *Limiter) Allow(senderID string, maxPerHour int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.counters[senderID]
	if !ok || now.After(c.windowResetAt) {
		c = &counter{count: 0, windowResetAt: now.Add(Window)}
		l.counters[senderID] = c
	}

	if c.count >= maxPerHour {
		slog.Debug("Limiter sender over quota", "sender", senderID, "count", c.count, "max", maxPerHour)
		return false
	}

	c.count++
	return true
}
