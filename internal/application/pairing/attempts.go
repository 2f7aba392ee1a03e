package pairing

import (
	"sync"
	"time"
)

// attemptTracker caps failed approve attempts per user inside a sliding
// window, so user codes cannot be guessed by brute force.
type attemptTracker struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	max      int
	window   time.Duration
}

func newAttemptTracker(max int, window time.Duration) *attemptTracker {
	return &attemptTracker{
		failures: make(map[string][]time.Time),
		max:      max,
		window:   window,
	}
}

// Allow reports whether userID may attempt another approval.
func (t *attemptTracker) Allow(userID string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.prune(userID, now)) < t.max
}

// RecordFailure notes a failed attempt for userID.
func (t *attemptTracker) RecordFailure(userID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[userID] = append(t.prune(userID, now), now)
}

// prune drops entries older than the window. Caller holds the lock.
func (t *attemptTracker) prune(userID string, now time.Time) []time.Time {
	cutoff := now.Add(-t.window)
	kept := t.failures[userID][:0]
	for _, at := range t.failures[userID] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(t.failures, userID)
		return nil
	}
	t.failures[userID] = kept
	return kept
}
