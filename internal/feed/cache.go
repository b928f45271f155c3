package feed

import (
	"sort"
	"sync"
	"time"
)

// Entry is a cached rendered feed for one tenant.
type Entry struct {
	Content     string
	GeneratedAt time.Time
}

// Stats is a point-in-time snapshot of the cache for the operator endpoints.
type Stats struct {
	Size            int       `json:"size"`
	Keys            []string  `json:"keys"`
	LastGeneratedAt time.Time `json:"lastGeneratedAt"`
}

// Cache holds at most one rendered feed per tenant with a fixed TTL. Expired
// entries are treated as absent and removed lazily on read; SweepExpired
// removes the rest on a schedule.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time
}

// NewCache builds an empty cache. A non-positive ttl disables caching
// entirely; Get then never hits.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached feed for a tenant when a fresh entry exists.
func (c *Cache) Get(tenantID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[tenantID]
	if !ok {
		return Entry{}, false
	}
	if c.expired(entry) {
		delete(c.entries, tenantID)
		return Entry{}, false
	}
	return entry, true
}

// Put stores the rendered feed, replacing any previous entry for the tenant.
func (c *Cache) Put(tenantID, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tenantID] = Entry{Content: content, GeneratedAt: c.now()}
}

// Clear discards every entry and returns how many were dropped.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]Entry)
	return n
}

// SweepExpired removes entries past their TTL and returns the live count.
func (c *Cache) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, entry := range c.entries {
		if c.expired(entry) {
			delete(c.entries, id)
		}
	}
	return len(c.entries)
}

// Snapshot reports the current size, sorted tenant keys, and the most recent
// generation time across live entries.
func (c *Cache) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{Keys: make([]string, 0, len(c.entries))}
	for id, entry := range c.entries {
		if c.expired(entry) {
			continue
		}
		stats.Keys = append(stats.Keys, id)
		if entry.GeneratedAt.After(stats.LastGeneratedAt) {
			stats.LastGeneratedAt = entry.GeneratedAt
		}
	}
	sort.Strings(stats.Keys)
	stats.Size = len(stats.Keys)
	return stats
}

func (c *Cache) expired(entry Entry) bool {
	if c.ttl <= 0 {
		return true
	}
	return c.now().Sub(entry.GeneratedAt) >= c.ttl
}
