// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	c := newCache("test", ttl, time.Hour)
	c.now = clock.Now
	t.Cleanup(c.Stop)
	return c, clock
}

func TestCache_GetSet(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Error("Get on empty cache returned ok")
	}
	c.Set("stats", 42)
	v, ok := c.Get("stats")
	if !ok || v.(int) != 42 {
		t.Errorf("Get = %v, %v; want 42, true", v, ok)
	}

	stats := c.GetStats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.TotalKeys != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if got := c.HitRate(); got != 50 {
		t.Errorf("HitRate = %v, want 50", got)
	}
}

func TestCache_Expiry(t *testing.T) {
	c, clock := newTestCache(t, time.Minute)
	c.Set("k", "v")

	clock.Advance(59 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry expired early")
	}
	clock.Advance(2 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expired entry returned")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0 after lazy eviction", c.Len())
	}
	if c.GetStats().Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", c.GetStats().Evictions)
	}
}

func TestCache_CleanupSweep(t *testing.T) {
	c, clock := newTestCache(t, time.Minute)
	c.Set("a", 1)
	c.SetWithTTL("b", 2, time.Hour)

	clock.Advance(2 * time.Minute)
	c.cleanup()

	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("long-lived entry swept")
	}
}

func TestCache_ClearAndDelete(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}
	c.Delete("k0")
	c.Delete("never-set")
	if c.Len() != 4 {
		t.Errorf("Len after Delete = %d, want 4", c.Len())
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", c.Len())
	}
	if got := c.GetStats().Evictions; got != 5 {
		t.Errorf("Evictions = %d, want 5", got)
	}
}

func TestCache_SetIfGenerationSkipsAfterClear(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)

	gen := c.Generation()
	if !c.SetIfGeneration("fresh", 1, gen) {
		t.Fatal("SetIfGeneration() = false with an unchanged generation")
	}

	stale := c.Generation()
	c.Clear()
	if c.SetIfGeneration("stale", 2, stale) {
		t.Error("SetIfGeneration() = true after Clear")
	}
	if _, ok := c.Get("stale"); ok {
		t.Error("value computed before Clear was cached")
	}
	if c.Generation() == stale {
		t.Error("Clear did not advance the generation")
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%10)
				c.Set(key, g)
				c.Get(key)
				if i%50 == 0 {
					c.Clear()
				}
			}
		}(g)
	}
	wg.Wait()
}

func TestCache_StopIsIdempotent(t *testing.T) {
	c := New("stop", time.Minute)
	c.Stop()
	c.Stop()
	c.Set("k", 1)
	if _, ok := c.Get("k"); !ok {
		t.Error("cache unusable after Stop")
	}
}

func TestGenerateKey(t *testing.T) {
	type params struct {
		Start string
		End   string
	}
	a := GenerateKey("range", params{"2024-01-01", "2024-01-31"})
	b := GenerateKey("range", params{"2024-01-01", "2024-01-31"})
	c := GenerateKey("range", params{"2024-01-01", "2024-02-01"})
	d := GenerateKey("date", params{"2024-01-01", "2024-01-31"})

	if a != b {
		t.Error("same inputs produced different keys")
	}
	if a == c || a == d {
		t.Error("different inputs produced the same key")
	}
	if a[:6] != "range:" {
		t.Errorf("key %q lacks method prefix", a)
	}
}
