package server

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/mapbiomas-cli/internal/landcover"
)

// LayerCache is a concurrent-safe LRU cache of published map layers with TTL
// expiration. Tile URLs handed out by the compute service stop working after
// a while, so entries must not outlive them.
type LayerCache struct {
	mu         sync.Mutex
	entries    map[string]*layerCacheEntry
	order      []string // front=oldest, back=newest
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	hits       atomic.Int64
	misses     atomic.Int64
}

type layerCacheEntry struct {
	layer     landcover.Layer
	createdAt time.Time
}

// CacheStats contains cache performance statistics.
type CacheStats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// NewLayerCache creates a LayerCache with the given capacity and TTL.
func NewLayerCache(maxEntries int, ttl time.Duration) *LayerCache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &LayerCache{
		entries:    make(map[string]*layerCacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// layerKey identifies a layer by year and clip region. An empty regionHash
// means unclipped.
func layerKey(year int, regionHash string) string {
	return strconv.Itoa(year) + "/" + regionHash
}

// Get returns a cached layer. ok is false on miss or expiration.
func (c *LayerCache) Get(year int, regionHash string) (landcover.Layer, bool) {
	key := layerKey(year, regionHash)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return landcover.Layer{}, false
	}
	if c.now().Sub(entry.createdAt) > c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.misses.Add(1)
		return landcover.Layer{}, false
	}

	c.removeFromOrder(key)
	c.order = append(c.order, key)
	c.hits.Add(1)
	return entry.layer, true
}

// Put stores a layer, evicting the least recently used entry at capacity.
func (c *LayerCache) Put(regionHash string, layer landcover.Layer) {
	key := layerKey(layer.Year, regionHash)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = &layerCacheEntry{layer: layer, createdAt: c.now()}
		c.removeFromOrder(key)
		c.order = append(c.order, key)
		return
	}

	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = &layerCacheEntry{layer: layer, createdAt: c.now()}
	c.order = append(c.order, key)
}

// InvalidateRegion drops every layer clipped to regionHash.
func (c *LayerCache) InvalidateRegion(regionHash string) {
	suffix := "/" + regionHash

	c.mu.Lock()
	defer c.mu.Unlock()

	var remaining []string
	for _, key := range c.order {
		if strings.HasSuffix(key, suffix) {
			delete(c.entries, key)
		} else {
			remaining = append(remaining, key)
		}
	}
	c.order = remaining
}

// Stats returns cache performance statistics.
func (c *LayerCache) Stats() CacheStats {
	c.mu.Lock()
	entries := len(c.entries)
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return CacheStats{
		Entries:    entries,
		MaxEntries: c.maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}

func (c *LayerCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
