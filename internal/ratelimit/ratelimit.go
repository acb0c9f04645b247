// Package ratelimit implements per-user sliding-window admission control.
// Each user id keeps an ordered list of admission timestamps, trimmed of
// entries older than the window on every check.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter allows at most limit admissions per user per rolling window.
type Limiter struct {
	mu     sync.Mutex
	admits map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
	stop   chan struct{}
}

// NewLimiter creates a limiter and starts a background cleanup loop that
// drops idle user entries.
func NewLimiter(limit int, window time.Duration) *Limiter {
	l := &Limiter{
		admits: make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Close stops the cleanup loop.
func (l *Limiter) Close() {
	close(l.stop)
}

// Allow records one admission for the user if the window has room. When the
// limit is exceeded it returns false and the time until the oldest admission
// falls out of the window; session state must not change in that case.
func (l *Limiter) Allow(userID string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.trim(userID, now)

	if len(recent) >= l.limit {
		l.admits[userID] = recent
		retry := recent[0].Add(l.window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return false, retry
	}

	l.admits[userID] = append(recent, now)
	return true, 0
}

// Remaining reports how many admissions the user has left in the current
// window.
func (l *Limiter) Remaining(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	left := l.limit - len(l.trim(userID, l.now()))
	if left < 0 {
		return 0
	}
	return left
}

// trim drops admissions older than the window. Timestamps are appended in
// order, so the surviving slice stays sorted. Caller holds the lock.
func (l *Limiter) trim(userID string, now time.Time) []time.Time {
	windowStart := now.Add(-l.window)
	recent := l.admits[userID][:0:len(l.admits[userID])]
	for _, t := range l.admits[userID] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}
	return recent
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := l.now()
			for id := range l.admits {
				if recent := l.trim(id, now); len(recent) == 0 {
					delete(l.admits, id)
				} else {
					l.admits[id] = recent
				}
			}
			l.mu.Unlock()
		}
	}
}
