package correct

import (
	"fmt"
	"testing"
)

func TestCacheKeyNormalization(t *testing.T) {
	if Key("  Hello World  ") != "hello world" {
		t.Fatalf("key: %q", Key("  Hello World  "))
	}
}

func TestCacheRoundTrip(t *testing.T) {
	c := NewCache(10)
	if _, ok := c.Get("missing"); ok {
		t.Fatal("unexpected hit")
	}
	c.Put("k", "v")
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("get: %q %v", v, ok)
	}
	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Size != 1 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestCacheEvictsOldestTenth(t *testing.T) {
	c := NewCache(10)
	for i := 0; i < 10; i++ {
		c.Put(fmt.Sprintf("k%d", i), "v")
	}
	if c.Len() != 10 {
		t.Fatalf("len: %d", c.Len())
	}

	// The next insert evicts the single oldest entry.
	c.Put("k10", "v")
	if c.Len() != 10 {
		t.Fatalf("len after eviction: %d", c.Len())
	}
	if _, ok := c.Get("k0"); ok {
		t.Fatal("oldest entry should be evicted")
	}
	if _, ok := c.Get("k1"); !ok {
		t.Fatal("second-oldest entry should survive")
	}
	if _, ok := c.Get("k10"); !ok {
		t.Fatal("new entry should be present")
	}
}

func TestCacheBulkEviction(t *testing.T) {
	c := NewCache(100)
	for i := 0; i < 100; i++ {
		c.Put(fmt.Sprintf("k%d", i), "v")
	}
	c.Put("fresh", "v")
	// A tenth of the capacity goes in one sweep.
	if c.Len() != 91 {
		t.Fatalf("len after bulk eviction: %d", c.Len())
	}
	for i := 0; i < 10; i++ {
		if _, ok := c.Get(fmt.Sprintf("k%d", i)); ok {
			t.Fatalf("k%d should be evicted", i)
		}
	}
	if _, ok := c.Get("k10"); !ok {
		t.Fatal("k10 should survive")
	}
}

func TestCacheUpdateDoesNotGrow(t *testing.T) {
	c := NewCache(5)
	c.Put("k", "v1")
	c.Put("k", "v2")
	if c.Len() != 1 {
		t.Fatalf("len: %d", c.Len())
	}
	if v, _ := c.Get("k"); v != "v2" {
		t.Fatalf("value: %q", v)
	}
}
