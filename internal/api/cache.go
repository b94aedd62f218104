package api

import (
	"sync"
	"time"
)

// ConfigTTL is how long a fetched widget config stays servable from cache.
const ConfigTTL = 5 * time.Minute

// cacheEntry pairs a config with its absolute expiry instant. Entries are
// replaced, never mutated in place.
type cacheEntry struct {
	config    *WidgetConfig
	expiresAt time.Time
}

// configCache is a per-widget config cache with wall-clock TTL expiry.
// A stale entry is indistinguishable from an absent one.
type configCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func newConfigCache(ttl time.Duration) *configCache {
	if ttl <= 0 {
		ttl = ConfigTTL
	}
	return &configCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached config for a widget if it has not expired.
func (c *configCache) Get(widgetID string) (*WidgetConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[widgetID]
	if !ok || !c.now().Before(entry.expiresAt) {
		return nil, false
	}
	return entry.config, true
}

// Set replaces the entry for a widget with a fresh TTL.
func (c *configCache) Set(widgetID string, config *WidgetConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[widgetID] = cacheEntry{
		config:    config,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Invalidate drops one widget's entry.
func (c *configCache) Invalidate(widgetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, widgetID)
}

// Clear drops every entry.
func (c *configCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
