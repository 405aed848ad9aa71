package counter

import (
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"tally/internal/coord"
	"tally/internal/coord/memory"
	"tally/internal/metrics"
)

// TestHandleCacheInsertsOnce verifies repeated lookups share one handle.
func TestHandleCacheInsertsOnce(t *testing.T) {
	m := metrics.New(nil, "")
	cache := NewHandleCache(NewCoordStore(memory.New(), coord.DefaultRetry()), 0, m)
	first := cache.Get("/c/a")
	if cache.Get("/c/a") != first {
		t.Fatalf("expected the cached handle")
	}
	cache.Get("/c/b")
	if cache.Len() != 2 {
		t.Fatalf("expected 2 handles, got %d", cache.Len())
	}
	if got := promtest.ToFloat64(m.HandleCacheSize); got != 2 {
		t.Fatalf("expected size gauge 2, got %v", got)
	}
}

// TestHandleCacheEvictsLeastRecentlyUsed verifies the bound and eviction order.
func TestHandleCacheEvictsLeastRecentlyUsed(t *testing.T) {
	m := metrics.New(nil, "")
	cache := NewHandleCache(NewCoordStore(memory.New(), coord.RetryNTimes{Attempts: 1, Sleep: time.Millisecond}), 2, m)
	a := cache.Get("/c/a")
	cache.Get("/c/b")
	cache.Get("/c/a")
	cache.Get("/c/c")

	if cache.Len() != 2 {
		t.Fatalf("expected bound of 2, got %d", cache.Len())
	}
	if cache.Get("/c/a") != a {
		t.Fatalf("recently used handle must survive eviction")
	}
	if got := promtest.ToFloat64(m.HandleCacheEvictions); got != 1 {
		t.Fatalf("expected 1 eviction, got %v", got)
	}
}
