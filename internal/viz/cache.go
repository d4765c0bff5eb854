package viz

import (
	"sync"
	"sync/atomic"
)

// DefaultMaxFrames bounds the render cache. Keys are (class, grid) pairs,
// so even a maximal index config stays far below this; the cap exists so a
// misconfigured caller cannot grow the map without bound.
const DefaultMaxFrames = 64

type frameKey struct {
	Class int
	Grid  string
}

type cachedFrame struct {
	tick uint64
	png  []byte
}

// RenderCache memoizes encoded heatmap PNGs with LRU eviction. The grid
// only changes when the simulation commits a tick, while dashboards poll
// much faster, so frames are keyed by (class, grid) and invalidated by
// tick instead of a TTL.
type RenderCache struct {
	mu      sync.RWMutex
	frames  map[frameKey]*cachedFrame
	order   []frameKey // LRU order (oldest first)
	maxSize int

	// Stats for monitoring
	hits   uint64 // atomic
	misses uint64 // atomic
}

// NewRenderCache creates a render cache. maxSize <= 0 uses
// DefaultMaxFrames.
func NewRenderCache(maxSize int) *RenderCache {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrames
	}
	return &RenderCache{
		frames:  make(map[frameKey]*cachedFrame),
		order:   make([]frameKey, 0, maxSize),
		maxSize: maxSize,
	}
}

// Get returns the cached PNG for the key at exactly the given tick, or nil.
// A frame rendered for an earlier tick is stale and counts as a miss.
func (c *RenderCache) Get(class int, grid string, tick uint64) []byte {
	key := frameKey{Class: class, Grid: grid}

	c.mu.RLock()
	cached, exists := c.frames[key]
	c.mu.RUnlock()

	if !exists || cached.tick != tick {
		atomic.AddUint64(&c.misses, 1)
		return nil
	}
	atomic.AddUint64(&c.hits, 1)
	return cached.png
}

// Put stores a rendered PNG for the key at the given tick, evicting the
// oldest key if the cache is full. The caller must not mutate png after
// handing it over.
func (c *RenderCache) Put(class int, grid string, tick uint64, png []byte) {
	key := frameKey{Class: class, Grid: grid}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.frames[key]; ok {
		existing.tick = tick
		existing.png = png
		return
	}

	if len(c.frames) >= c.maxSize {
		c.evict()
	}
	c.frames[key] = &cachedFrame{tick: tick, png: png}
	c.order = append(c.order, key)
}

// evict removes the oldest cached frame. Caller holds the lock.
func (c *RenderCache) evict() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.frames, oldest)
}

// Size returns the current cache size.
func (c *RenderCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.frames)
}

// Hits returns how many lookups were served from cache.
func (c *RenderCache) Hits() uint64 { return atomic.LoadUint64(&c.hits) }

// Misses returns how many lookups had to render.
func (c *RenderCache) Misses() uint64 { return atomic.LoadUint64(&c.misses) }
