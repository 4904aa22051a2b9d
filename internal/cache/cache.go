// Package cache provides TTL caching for fetched repository files.
package cache

import (
	"sync"
	"time"
)

// Entry is one cached file body.
type Entry struct {
	Data      []byte
	ExpiresAt time.Time
	StaleAt   time.Time // After this the entry is stale but still usable as a fallback
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// IsStale returns true if the entry is past its fresh window but not expired.
// Stale entries serve as fallbacks when the origin host is unreachable.
func (e *Entry) IsStale() bool {
	now := time.Now()
	return now.After(e.StaleAt) && now.Before(e.ExpiresAt)
}

// Cache is the interface the loader caches fetched files through.
type Cache interface {
	// Get returns (data, found, stale); stale data is usable but should be
	// refreshed when the origin answers.
	Get(key string) ([]byte, bool, bool)

	// Set stores data with a single TTL (fresh until expiry).
	Set(key string, data []byte, ttl time.Duration)

	// SetWithStale stores data that goes stale after staleAfter and expires
	// completely after expireAfter.
	SetWithStale(key string, data []byte, staleAfter, expireAfter time.Duration)

	// Invalidate removes one entry.
	Invalidate(key string)

	// InvalidateAll removes every entry.
	InvalidateAll()
}

// MemoryCache is an in-memory Cache with background expiry cleanup.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewMemoryCache creates a cache and starts its cleanup goroutine. Call Stop
// when done.
func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{
		entries:         make(map[string]*Entry),
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get returns (data, found, stale).
func (c *MemoryCache) Get(key string) ([]byte, bool, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false, false
	}
	if entry.IsExpired() {
		c.Invalidate(key)
		return nil, false, false
	}
	return entry.Data, true, entry.IsStale()
}

// Set stores data in the cache with the given TTL.
func (c *MemoryCache) Set(key string, data []byte, ttl time.Duration) {
	c.SetWithStale(key, data, ttl, ttl)
}

// SetWithStale stores data with separate stale and expire times.
func (c *MemoryCache) SetWithStale(key string, data []byte, staleAfter, expireAfter time.Duration) {
	now := time.Now()
	entry := &Entry{
		Data:      data,
		StaleAt:   now.Add(staleAfter),
		ExpiresAt: now.Add(expireAfter),
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// Invalidate removes an entry from the cache.
func (c *MemoryCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll removes all entries from the cache.
func (c *MemoryCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()
}

func (c *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
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

func (c *MemoryCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}
}

// Stop halts the cleanup goroutine. Safe to call multiple times.
func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCleanup)
	})
}

// Len returns the number of entries in the cache.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
