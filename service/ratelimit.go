package service

import (
	"context"
	"sync"
	"time"
)

// SlidingWindowLimiter caps the number of provider call attempts started
// within any one rolling window. It is an injected, explicitly-owned
// object shared by every client that talks to the same credential, and is
// safe for concurrent use.
type SlidingWindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time // start times of the most recent attempts, oldest first
}

// NewSlidingWindowLimiter creates a limiter allowing limit attempts per window
func NewSlidingWindowLimiter(limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		limit:  limit,
		window: window,
		stamps: make([]time.Time, 0, limit),
	}
}

// Wait blocks until an attempt may start, then records its timestamp.
// The wait is cooperative: it sleeps until the oldest recorded attempt
// leaves the window instead of spinning. Returns the context error if ctx
// is done first.
func (l *SlidingWindowLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()

		// Drop timestamps that have left the window
		expired := 0
		for expired < len(l.stamps) && now.Sub(l.stamps[expired]) >= l.window {
			expired++
		}
		l.stamps = append(l.stamps[:0], l.stamps[expired:]...)

		if len(l.stamps) < l.limit {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return nil
		}

		wait := l.window - now.Sub(l.stamps[0])
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// InWindow returns how many attempts are currently counted in the window
func (l *SlidingWindowLimiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	count := 0
	for _, ts := range l.stamps {
		if now.Sub(ts) < l.window {
			count++
		}
	}
	return count
}
