// Package server implements a token bucket that throttles how many lines a
// single session may broadcast.
package server

import (
	"time"
)

// lineLimiter is owned by one session goroutine and is not safe for
// concurrent use. A disabled limiter allows every line.
type lineLimiter struct {
	disabled bool
	tokens   float64
	capacity float64
	perSec   float64
	last     time.Time
	now      func() time.Time
}

func newLineLimiter(cfg RateLimitConfig) *lineLimiter {
	return newLineLimiterWithClock(cfg, time.Now)
}

func newLineLimiterWithClock(cfg RateLimitConfig, now func() time.Time) *lineLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		return &lineLimiter{disabled: true, now: now}
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}

	return &lineLimiter{
		tokens:   float64(burst),
		capacity: float64(burst),
		perSec:   float64(burst) / interval.Seconds(),
		last:     now(),
		now:      now,
	}
}

// allow spends one token if available, refilling for the time elapsed since
// the previous call.
func (l *lineLimiter) allow() bool {
	if l.disabled {
		return true
	}
	t := l.now()
	if elapsed := t.Sub(l.last).Seconds(); elapsed > 0 {
		l.tokens = min(l.capacity, l.tokens+elapsed*l.perSec)
	}
	l.last = t

	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}
