// Package cache provides a small in-memory TTL cache for directory
// listings fetched from object storage. Listings are keyed by storage
// config and virtual path so an update against one backend only
// invalidates that backend's entries.
package cache

import (
	"sync"
	"time"

	"wharf/internal/server/objectstore"
)

type dirEntry struct {
	items     []objectstore.Entry
	configID  string
	expiresAt time.Time
}

// DirCache caches directory listings per (config, path) pair for a
// fixed TTL. Expired entries are dropped lazily on read.
type DirCache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]dirEntry
}

func New(ttl time.Duration) *DirCache {
	return &DirCache{
		ttl:     ttl,
		entries: make(map[string]dirEntry),
	}
}

func cacheKey(configID, path string) string {
	return configID + "\x00" + path
}

// Get returns the cached listing for the given config and path, or
// false if the entry is missing or has expired.
func (c *DirCache) Get(configID, path string) ([]objectstore.Entry, bool) {
	key := cacheKey(configID, path)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock in case a fresh entry
		// was stored while we upgraded.
		if cur, ok := c.entries[key]; ok && time.Now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return entry.items, true
}

// Put stores a listing for the given config and path.
func (c *DirCache) Put(configID, path string, items []objectstore.Entry) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[cacheKey(configID, path)] = dirEntry{
		items:     items,
		configID:  configID,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// Invalidate drops every cached listing that belongs to the given
// storage config. Called after uploads and deletes so stale listings
// are not served for the affected backend.
func (c *DirCache) Invalidate(configID string) {
	c.mu.Lock()
	for key, entry := range c.entries {
		if entry.configID == configID {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}
