package profile

import (
	"github.com/golang/groupcache/lru"
)

// DefaultCapacity is the number of per-app profiles kept in memory.
const DefaultCapacity = 5

// CacheEntry is one cached profile. A nil Profile records a known-absent profile.
type CacheEntry struct {
	AppID        string
	Profile      *Profile
	LastUsedTick uint64
}

// appCache is the bounded evicting map for per-app profiles. It is not
// safe for concurrent use; the engine goroutine is its only caller.
type appCache struct {
	entries  *lru.Cache
	tick     uint64
	removing bool
	onEvict  func(appID string)
}

func newAppCache(capacity int, onEvict func(appID string)) *appCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &appCache{entries: lru.New(capacity), onEvict: onEvict}
	c.entries.OnEvicted = func(key lru.Key, _ interface{}) {
		if c.removing || c.onEvict == nil {
			return
		}
		c.onEvict(key.(string))
	}
	return c
}

// get returns the entry for appID and marks it most recently used.
func (c *appCache) get(appID string) (*CacheEntry, bool) {
	v, ok := c.entries.Get(appID)
	if !ok {
		return nil, false
	}
	entry := v.(*CacheEntry)
	c.tick++
	entry.LastUsedTick = c.tick
	return entry, true
}

func (c *appCache) put(appID string, p *Profile) *CacheEntry {
	c.tick++
	entry := &CacheEntry{AppID: appID, Profile: p, LastUsedTick: c.tick}
	c.entries.Add(appID, entry)
	return entry
}

func (c *appCache) remove(appID string) {
	c.removing = true
	c.entries.Remove(appID)
	c.removing = false
}

func (c *appCache) clear() {
	c.removing = true
	c.entries.Clear()
	c.removing = false
}

func (c *appCache) len() int { return c.entries.Len() }

// globalCell holds the global profile. It is never touched by per-app eviction.
type globalCell struct {
	entry *CacheEntry
}

func (g *globalCell) get() (*CacheEntry, bool) {
	return g.entry, g.entry != nil
}

func (g *globalCell) set(p *Profile) *CacheEntry {
	g.entry = &CacheEntry{AppID: GlobalID, Profile: p}
	return g.entry
}

func (g *globalCell) clear() { g.entry = nil }
