package limits

import (
	"math"
	"sort"
	"sync"

	"tally/internal/metrics"
)

// Unbounded is reported for categories that have no limit.
const Unbounded int64 = math.MaxInt64

// Entry is one cached category limit.
type Entry struct {
	Category string `json:"category"`
	Limit    int64  `json:"limit"`
}

// Cache holds the latest observed limit per category.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]int64
	metrics *metrics.Metrics
}

// NewCache returns an empty cache.
func NewCache(m *metrics.Metrics) *Cache {
	if m == nil {
		m = metrics.New(nil, "")
	}
	return &Cache{entries: map[string]int64{}, metrics: m}
}

// Get returns the cached limit for category.
func (c *Cache) Get(category string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	limit, ok := c.entries[category]
	return limit, ok
}

// Limit returns the cached limit, or Unbounded when none was observed.
func (c *Cache) Limit(category string) int64 {
	if limit, ok := c.Get(category); ok {
		return limit
	}
	return Unbounded
}

// Store replaces the limit for category and reports the previous value.
func (c *Cache) Store(category string, limit int64) (previous int64, existed bool) {
	c.mu.Lock()
	previous, existed = c.entries[category]
	c.entries[category] = limit
	size := len(c.entries)
	c.mu.Unlock()

	c.metrics.LimitCacheSize.Set(float64(size))
	c.metrics.LimitValue.WithLabelValues(category).Set(float64(limit))
	return previous, existed
}

// Len returns the number of cached categories.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot lists every entry, largest limit first.
func (c *Cache) Snapshot() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries))
	for category, limit := range c.entries {
		out = append(out, Entry{Category: category, Limit: limit})
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Limit != out[j].Limit {
			return out[i].Limit > out[j].Limit
		}
		return out[i].Category < out[j].Category
	})
	return out
}
