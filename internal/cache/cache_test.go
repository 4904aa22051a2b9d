package cache

import (
	"testing"
	"time"
)

func TestMemoryCacheBasic(t *testing.T) {
	c := NewMemoryCache()
	defer c.Stop()

	_, found, _ := c.Get("https://raw.example.com/manifest.json")
	if found {
		t.Error("expected cache miss for non-existent key")
	}

	c.Set("https://raw.example.com/manifest.json", []byte(`{"groups":[]}`), time.Minute)

	data, found, stale := c.Get("https://raw.example.com/manifest.json")
	if !found {
		t.Error("expected cache hit")
	}
	if stale {
		t.Error("expected fresh data, got stale")
	}
	if string(data) != `{"groups":[]}` {
		t.Errorf("unexpected data: %s", data)
	}
}

func TestMemoryCacheTTL(t *testing.T) {
	c := NewMemoryCache()
	defer c.Stop()

	c.Set("short", []byte("body"), 50*time.Millisecond)

	_, found, _ := c.Get("short")
	if !found {
		t.Error("expected cache hit immediately after set")
	}

	time.Sleep(100 * time.Millisecond)

	_, found, _ = c.Get("short")
	if found {
		t.Error("expected cache miss after TTL expired")
	}
}

func TestMemoryCacheInvalidate(t *testing.T) {
	c := NewMemoryCache()
	defer c.Stop()

	c.Set("a", []byte("one"), time.Minute)
	c.Set("b", []byte("two"), time.Minute)

	c.Invalidate("a")

	if _, found, _ := c.Get("a"); found {
		t.Error("expected a to be invalidated")
	}
	if _, found, _ := c.Get("b"); !found {
		t.Error("expected b to still exist")
	}
}

func TestMemoryCacheInvalidateAll(t *testing.T) {
	c := NewMemoryCache()
	defer c.Stop()

	c.Set("a", []byte("one"), time.Minute)
	c.Set("b", []byte("two"), time.Minute)
	c.Set("c", []byte("three"), time.Minute)

	if c.Len() != 3 {
		t.Errorf("expected 3 entries, got %d", c.Len())
	}

	c.InvalidateAll()

	if c.Len() != 0 {
		t.Errorf("expected 0 entries after InvalidateAll, got %d", c.Len())
	}
}

func TestMemoryCacheStaleWhileUsable(t *testing.T) {
	c := NewMemoryCache()
	defer c.Stop()

	c.SetWithStale("swr", []byte("body"), 50*time.Millisecond, 200*time.Millisecond)

	_, found, stale := c.Get("swr")
	if !found {
		t.Error("expected cache hit")
	}
	if stale {
		t.Error("expected fresh data immediately after set")
	}

	time.Sleep(80 * time.Millisecond)

	_, found, stale = c.Get("swr")
	if !found {
		t.Error("expected cache hit while stale")
	}
	if !stale {
		t.Error("expected stale data after stale time")
	}

	time.Sleep(150 * time.Millisecond)

	_, found, _ = c.Get("swr")
	if found {
		t.Error("expected cache miss after expire time")
	}
}

func TestEntryStates(t *testing.T) {
	now := time.Now()

	entry := &Entry{
		Data:      []byte("body"),
		StaleAt:   now.Add(30 * time.Second),
		ExpiresAt: now.Add(time.Minute),
	}
	if entry.IsExpired() {
		t.Error("expected entry to not be expired")
	}
	if entry.IsStale() {
		t.Error("expected entry to be fresh")
	}

	entry.StaleAt = now.Add(-30 * time.Second)
	if !entry.IsStale() {
		t.Error("expected entry to be stale")
	}

	entry.ExpiresAt = now.Add(-time.Second)
	if !entry.IsExpired() {
		t.Error("expected entry to be expired")
	}
	if entry.IsStale() {
		t.Error("expected entry to not be stale when expired")
	}
}

func TestMemoryCacheStopIdempotent(t *testing.T) {
	c := NewMemoryCache()

	c.Stop()
	c.Stop()
}
