/*
Package cache provides the stale-response fallback for the upstream client.

When the circuit breaker is open, or rate-limiter admission would exceed the
latency budget, the last good upstream response is served instead of failing
outright. Entries are only served within a bounded staleness age and are
purged once they pass the absolute ceiling.
*/
package cache

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tradewatch/price-feed-backend/monitoring"
)

// Entry is a cached upstream response with its storage time.
type Entry struct {
	Value    interface{}
	StoredAt time.Time
}

// Age returns how old the entry is.
func (e *Entry) Age() time.Duration {
	return time.Since(e.StoredAt)
}

// Cache defines storage for last-good upstream responses.
type Cache interface {
	Get(key string) (*Entry, bool)
	Set(key string, value interface{}) error
	Delete(key string) error
	Clear() error
}

// InMemoryCache implements Cache with a mutex-guarded map and a cleanup
// ticker that drops entries past the absolute staleness ceiling.
type InMemoryCache struct {
	entries map[string]*Entry
	mutex   sync.RWMutex
	ceiling time.Duration
}

// NewInMemoryCache creates an in-memory cache. Entries older than ceiling are
// removed by the background cleanup and never served.
func NewInMemoryCache(ceiling time.Duration) *InMemoryCache {
	c := &InMemoryCache{
		entries: make(map[string]*Entry),
		ceiling: ceiling,
	}

	go c.startCleanup()

	return c
}

// Get retrieves an entry. Entries past the ceiling are treated as absent.
func (c *InMemoryCache) Get(key string) (*Entry, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.entries[key]
	if !exists || entry.Age() > c.ceiling {
		return nil, false
	}
	return entry, true
}

// Set stores a value with the current time as its storage time.
func (c *InMemoryCache) Set(key string, value interface{}) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = &Entry{
		Value:    value,
		StoredAt: time.Now(),
	}
	return nil
}

// Delete removes an entry.
func (c *InMemoryCache) Delete(key string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.entries, key)
	return nil
}

// Clear removes all entries.
func (c *InMemoryCache) Clear() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries = make(map[string]*Entry)
	return nil
}

// startCleanup periodically removes entries past the ceiling.
func (c *InMemoryCache) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.cleanup()
	}
}

func (c *InMemoryCache) cleanup() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for key, entry := range c.entries {
		if entry.Age() > c.ceiling {
			delete(c.entries, key)
		}
	}
}

// StaleCache manages last-good responses with logging and metrics.
type StaleCache struct {
	cache  Cache
	logger *logrus.Logger
}

// NewStaleCache creates a stale cache manager.
func NewStaleCache(cache Cache, logger *logrus.Logger) *StaleCache {
	return &StaleCache{
		cache:  cache,
		logger: logger,
	}
}

// StoreGood records a successful upstream response for later fallback.
func (sc *StaleCache) StoreGood(key string, value interface{}) error {
	if err := sc.cache.Set(key, value); err != nil {
		sc.logger.WithFields(logrus.Fields{
			"key":   key,
			"error": err.Error(),
		}).Error("Failed to store last-good response")
		return err
	}

	sc.logger.WithField("key", key).Debug("Stored last-good response")
	return nil
}

// GetStale returns the last good value for key if its age does not exceed
// maxAge. Absence forces the caller to propagate a hard failure.
func (sc *StaleCache) GetStale(key string, maxAge time.Duration) (interface{}, bool) {
	entry, found := sc.cache.Get(key)
	if !found || entry.Age() > maxAge {
		monitoring.RecordCacheMiss("get_stale")
		sc.logger.WithFields(logrus.Fields{
			"key":     key,
			"max_age": maxAge.String(),
		}).Debug("No usable stale response")
		return nil, false
	}

	monitoring.RecordCacheHit("get_stale")
	sc.logger.WithFields(logrus.Fields{
		"key":         key,
		"age_seconds": entry.Age().Seconds(),
	}).Debug("Serving stale response")
	return entry.Value, true
}

// Invalidate removes the cached value for key.
func (sc *StaleCache) Invalidate(key string) error {
	return sc.cache.Delete(key)
}

// ClearAll clears all cached responses.
func (sc *StaleCache) ClearAll() error {
	if err := sc.cache.Clear(); err != nil {
		sc.logger.WithError(err).Error("Failed to clear stale cache")
		return err
	}

	sc.logger.Info("Stale cache cleared")
	return nil
}
