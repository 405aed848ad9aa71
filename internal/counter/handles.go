package counter

import (
	"container/list"
	"sync"

	"tally/internal/metrics"
)

// HandleCache maps counter paths to handles, creating each at most once
// while it stays cached. A positive max bounds the cache with LRU eviction;
// evicting is safe because handles only hold a path binding.
type HandleCache struct {
	mu      sync.Mutex
	store   Store
	max     int
	items   map[string]*list.Element
	order   *list.List
	metrics *metrics.Metrics
}

type handleEntry struct {
	path   string
	handle Atomic
}

// NewHandleCache builds a cache over store. max <= 0 means unbounded.
func NewHandleCache(store Store, max int, m *metrics.Metrics) *HandleCache {
	if m == nil {
		m = metrics.New(nil, "")
	}
	return &HandleCache{
		store:   store,
		max:     max,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		metrics: m,
	}
}

// Get returns the handle for path, inserting one if absent.
func (c *HandleCache) Get(path string) Atomic {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[path]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*handleEntry).handle
	}
	entry := &handleEntry{path: path, handle: c.store.Handle(path)}
	c.items[path] = c.order.PushFront(entry)
	if c.max > 0 && c.order.Len() > c.max {
		c.removeOldest()
	}
	c.metrics.HandleCacheSize.Set(float64(c.order.Len()))
	return entry.handle
}

// Len returns the number of cached handles.
func (c *HandleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// removeOldest evicts the least recently used handle. c.mu must be held.
func (c *HandleCache) removeOldest() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*handleEntry).path)
	c.metrics.HandleCacheEvictions.Inc()
}
