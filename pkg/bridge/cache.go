package bridge

import (
	"sync"
	"time"

	"github.com/code-atlantic/abridge/pkg/ability"
)

type cacheEntry struct {
	tools   []ability.Tool
	expires time.Time
}

// toolCache holds per-caller tool lists with TTL expiry. Invalidation is
// coarse: any ability-set or settings change flushes every entry —
// correctness over precision.
type toolCache struct {
	entries map[int64]*cacheEntry
	ttl     time.Duration
	mu      sync.RWMutex
	now     func() time.Time
}

func newToolCache(ttl time.Duration) *toolCache {
	return &toolCache{
		entries: make(map[int64]*cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *toolCache) get(userID int64) ([]ability.Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[userID]
	if !ok || c.now().After(entry.expires) {
		return nil, false
	}
	return entry.tools, true
}

func (c *toolCache) set(userID int64, tools []ability.Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[userID] = &cacheEntry{
		tools:   tools,
		expires: c.now().Add(c.ttl),
	}
}

func (c *toolCache) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[int64]*cacheEntry)
}

// prune removes expired entries and returns how many were dropped.
func (c *toolCache) prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}
