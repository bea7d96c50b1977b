// Package cache implements the time-bounded answer cache for NS lookup
// results. Empty results are cached the same as populated ones; the TTL
// is what throttles repeatedly failing lookups.
package cache

import (
	"fmt"
	"sync"
	"time"

	"zonegate/pkg/config"
	"zonegate/pkg/doh"
	"zonegate/pkg/logging"
)

// Cache is a thread-safe TTL cache of NS lookup results keyed by
// queried name, with LRU eviction when full.
type Cache struct {
	cfg         *config.CacheConfig
	logger      *logging.Logger
	entries     map[string]*cacheEntry
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	stats       cacheStats
	maxEntries  int
	mu          sync.RWMutex
}

// cacheEntry holds a cached lookup result with metadata
type cacheEntry struct {
	result     doh.Result
	storedAt   time.Time
	lastAccess time.Time
}

// cacheStats tracks cache performance counters
type cacheStats struct {
	hits      uint64
	misses    uint64
	entries   int
	evictions uint64
	sets      uint64
}

// Stats is a copy of the current cache statistics
type Stats struct {
	Hits      uint64
	Misses    uint64
	Entries   int
	Evictions uint64
	Sets      uint64
	HitRate   float64 // hits / (hits + misses)
}

// New creates a new answer cache with the given configuration
func New(cfg *config.CacheConfig, logger *logging.Logger) (*Cache, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cache config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("ttl must be positive, got %v", cfg.TTL)
	}
	if cfg.MaxEntries <= 0 {
		return nil, fmt.Errorf("max_entries must be positive, got %d", cfg.MaxEntries)
	}

	c := &Cache{
		cfg:         cfg,
		logger:      logger,
		entries:     make(map[string]*cacheEntry),
		maxEntries:  cfg.MaxEntries,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	go c.cleanupLoop()

	logger.Info("Answer cache initialized",
		"ttl", cfg.TTL,
		"max_entries", cfg.MaxEntries)

	return c, nil
}

// Get retrieves a cached lookup result for the given name.
// The second return value is false on a miss or an expired entry.
func (c *Cache) Get(name string) (doh.Result, bool) {
	if !c.cfg.Enabled {
		return doh.Empty(), false
	}

	c.mu.RLock()
	entry, found := c.entries[name]
	c.mu.RUnlock()

	if !found {
		c.recordMiss()
		return doh.Empty(), false
	}

	now := time.Now()
	if now.Sub(entry.storedAt) >= c.cfg.TTL {
		c.recordMiss()
		// Evict the expired entry eagerly; re-check under the write
		// lock so a fresh entry stored by a concurrent Set survives
		c.mu.Lock()
		if cur, ok := c.entries[name]; ok && now.Sub(cur.storedAt) >= c.cfg.TTL {
			delete(c.entries, name)
			c.stats.entries = len(c.entries)
			c.stats.evictions++
		}
		c.mu.Unlock()
		return doh.Empty(), false
	}

	c.mu.Lock()
	entry.lastAccess = now
	c.mu.Unlock()

	c.recordHit()
	return entry.result, true
}

// Set stores a lookup result for the given name
func (c *Cache) Set(name string, result doh.Result) {
	if !c.cfg.Enabled {
		return
	}

	now := time.Now()
	entry := &cacheEntry{
		result:     result,
		storedAt:   now,
		lastAccess: now,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[name]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLRU()
	}

	c.entries[name] = entry
	c.stats.entries = len(c.entries)
	c.stats.sets++
}

// evictLRU removes the least recently used entry.
// Must be called with write lock held.
func (c *Cache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.lastAccess.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.lastAccess
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.stats.evictions++
		c.logger.Debug("Evicted LRU cache entry", "name", oldestKey)
	}
}

// cleanupLoop runs in the background to remove expired entries
func (c *Cache) cleanupLoop() {
	defer close(c.cleanupDone)

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

// cleanup removes all expired entries
func (c *Cache) cleanup() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if now.Sub(entry.storedAt) >= c.cfg.TTL {
			delete(c.entries, key)
			removed++
		}
	}

	if removed > 0 {
		c.stats.evictions += uint64(removed)
		c.stats.entries = len(c.entries)
		c.logger.Debug("Cleaned up expired cache entries", "removed", removed, "remaining", c.stats.entries)
	}
}

// Stats returns current cache statistics
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.stats.hits + c.stats.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.stats.hits) / float64(total)
	}

	return Stats{
		Hits:      c.stats.hits,
		Misses:    c.stats.misses,
		Entries:   c.stats.entries,
		Evictions: c.stats.evictions,
		Sets:      c.stats.sets,
		HitRate:   hitRate,
	}
}

// Clear removes all entries from the cache
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.stats.entries = 0
	c.logger.Info("Answer cache cleared")
}

// Close stops the cache and its cleanup goroutine
func (c *Cache) Close() error {
	close(c.stopCleanup)
	<-c.cleanupDone

	c.logger.Info("Answer cache closed",
		"final_hits", c.stats.hits,
		"final_misses", c.stats.misses,
		"final_entries", c.stats.entries)

	return nil
}

// recordHit increments the hit counter
func (c *Cache) recordHit() {
	c.mu.Lock()
	c.stats.hits++
	c.mu.Unlock()
}

// recordMiss increments the miss counter
func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.stats.misses++
	c.mu.Unlock()
}
