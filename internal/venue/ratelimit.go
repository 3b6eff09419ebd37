// ratelimit.go implements sliding-window rate limiting for venue APIs.
//
// Each venue publishes a requests-per-minute budget (Venue-A ~100/min,
// Venue-B ~50/min). The limiter keeps the timestamps of every request made
// in the trailing 60 seconds; when the window is full, Wait suspends the
// caller until the oldest request ages out. Only the caller blocks — other
// goroutines using other limiters are unaffected.
package venue

import (
	"context"
	"sync"
	"time"
)

// WindowLimiter is a sliding-window rate limiter. Callers block in Wait()
// until a slot is available or the context is cancelled.
type WindowLimiter struct {
	mu     sync.Mutex
	limit  int           // max requests per window
	window time.Duration // window length
	stamps []time.Time   // request times still inside the window, oldest first
}

// NewWindowLimiter creates a limiter allowing limit requests per window.
func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		limit:  limit,
		window: window,
	}
}

// Wait blocks until the window has room, then records the request.
// Returns ctx.Err() if the context is cancelled while waiting.
func (l *WindowLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		l.prune(now)

		if len(l.stamps) < l.limit {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return nil
		}

		// Window full: wait until the oldest request ages out.
		wait := l.stamps[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Pending returns how many requests currently occupy the window.
func (l *WindowLimiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(time.Now())
	return len(l.stamps)
}

// prune drops timestamps older than the window. Caller holds the lock.
func (l *WindowLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}
