/*
Package cooldown enforces a minimum interval between fetches of the same entity.

The global rate limiter caps aggregate throughput; this tracker adds a
per-entity floor so a handful of hot entities cannot starve the rest of the
catalog of fetch opportunities.
*/
package cooldown

import (
	"sync"
	"time"
)

// Tracker records the last fetch time per entity and answers whether an
// entity may be fetched again.
type Tracker struct {
	mu          sync.RWMutex
	lastFetched map[string]time.Time
	minInterval time.Duration
	now         func() time.Time
}

// NewTracker creates a tracker enforcing minInterval between fetches of the
// same entity.
func NewTracker(minInterval time.Duration) *Tracker {
	t := &Tracker{
		lastFetched: make(map[string]time.Time),
		minInterval: minInterval,
		now:         time.Now,
	}

	go t.startCleanup()

	return t
}

// CanFetch reports whether entityID is outside its cooldown window.
func (t *Tracker) CanFetch(entityID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	last, exists := t.lastFetched[entityID]
	if !exists {
		return true
	}
	return t.now().Sub(last) >= t.minInterval
}

// MarkFetched records a fetch of entityID at the current time.
func (t *Tracker) MarkFetched(entityID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastFetched[entityID] = t.now()
}

// Remaining returns how long until entityID may be fetched again. Zero means
// the entity is fetchable now.
func (t *Tracker) Remaining(entityID string) time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	last, exists := t.lastFetched[entityID]
	if !exists {
		return 0
	}
	remaining := t.minInterval - t.now().Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Tracked returns the number of entities currently tracked.
func (t *Tracker) Tracked() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.lastFetched)
}

// startCleanup periodically drops entries well past their cooldown so the map
// does not grow with the full catalog forever.
func (t *Tracker) startCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		t.cleanup()
	}
}

func (t *Tracker) cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	horizon := 2 * t.minInterval
	cutoff := t.now().Add(-horizon)
	for entityID, last := range t.lastFetched {
		if last.Before(cutoff) {
			delete(t.lastFetched, entityID)
		}
	}
}
