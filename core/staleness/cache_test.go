package staleness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fleetconf/fleetconf/core/configstate"
)

// countingChecker counts evaluations and serves a scripted verdict.
type countingChecker struct {
	mu    sync.Mutex
	calls int
	stale bool
	err   error
}

func (c *countingChecker) IsStale(context.Context, configstate.ComponentRef) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.stale, c.err
}

func (c *countingChecker) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestCacheMemoizesWithinTTL(t *testing.T) {
	checker := &countingChecker{stale: true}
	clock := &fakeClock{t: time.Unix(0, 0)}
	cache := NewCache(checker, true, time.Minute).WithClock(clock.now)

	for i := 0; i < 3; i++ {
		stale, err := cache.IsStale(context.Background(), testRef)
		if err != nil {
			t.Fatalf("isStale: %v", err)
		}
		if !stale {
			t.Fatalf("expected stale verdict")
		}
	}
	if checker.callCount() != 1 {
		t.Fatalf("expected single evaluation, got %d", checker.callCount())
	}
}

func TestCacheExpiresAfterWrite(t *testing.T) {
	checker := &countingChecker{}
	clock := &fakeClock{t: time.Unix(0, 0)}
	cache := NewCache(checker, true, time.Minute).WithClock(clock.now)

	if _, err := cache.IsStale(context.Background(), testRef); err != nil {
		t.Fatalf("isStale: %v", err)
	}
	clock.advance(59 * time.Second)
	if _, err := cache.IsStale(context.Background(), testRef); err != nil {
		t.Fatalf("isStale: %v", err)
	}
	if checker.callCount() != 1 {
		t.Fatalf("entry expired early: %d evaluations", checker.callCount())
	}

	clock.advance(2 * time.Second)
	if _, err := cache.IsStale(context.Background(), testRef); err != nil {
		t.Fatalf("isStale: %v", err)
	}
	if checker.callCount() != 2 {
		t.Fatalf("expected recompute after TTL, got %d evaluations", checker.callCount())
	}
}

func TestCacheDefaultTTL(t *testing.T) {
	cache := NewCache(&countingChecker{}, true, 0)
	if cache.ttl != DefaultTTL {
		t.Fatalf("expected fallback to DefaultTTL, got %v", cache.ttl)
	}
}

func TestCacheDisabledAlwaysComputes(t *testing.T) {
	checker := &countingChecker{}
	cache := NewCache(checker, false, time.Minute)
	for i := 0; i < 3; i++ {
		if _, err := cache.IsStale(context.Background(), testRef); err != nil {
			t.Fatalf("isStale: %v", err)
		}
	}
	if checker.callCount() != 3 {
		t.Fatalf("expected every call evaluated, got %d", checker.callCount())
	}
}

func TestCacheNeverStoresErrors(t *testing.T) {
	checker := &countingChecker{err: errors.New("redis down")}
	cache := NewCache(checker, true, time.Minute)

	if _, err := cache.IsStale(context.Background(), testRef); err == nil {
		t.Fatalf("expected error passed through")
	}
	checker.mu.Lock()
	checker.err = nil
	checker.stale = true
	checker.mu.Unlock()

	stale, err := cache.IsStale(context.Background(), testRef)
	if err != nil {
		t.Fatalf("isStale: %v", err)
	}
	if !stale {
		t.Fatalf("expected fresh evaluation after earlier error, not a cached failure")
	}
	if checker.callCount() != 2 {
		t.Fatalf("expected recompute after error, got %d evaluations", checker.callCount())
	}
}

func TestCacheInvalidateScopes(t *testing.T) {
	refs := []configstate.ComponentRef{
		{Cluster: "c1", Host: "h1", Service: "HDFS", Component: "NAMENODE"},
		{Cluster: "c1", Host: "h1", Service: "HDFS", Component: "DATANODE"},
		{Cluster: "c1", Host: "h2", Service: "HDFS", Component: "DATANODE"},
		{Cluster: "c2", Host: "h1", Service: "YARN", Component: "NODEMANAGER"},
	}
	checker := &countingChecker{}
	cache := NewCache(checker, true, time.Hour)
	prime := func() {
		for _, ref := range refs {
			if _, err := cache.IsStale(context.Background(), ref); err != nil {
				t.Fatalf("isStale: %v", err)
			}
		}
	}
	cached := func() int {
		cache.mu.RLock()
		defer cache.mu.RUnlock()
		return len(cache.entries)
	}

	prime()
	cache.Invalidate(refs[0])
	if cached() != 3 {
		t.Fatalf("expected one entry dropped, have %d", cached())
	}

	prime()
	cache.InvalidateHost("c1", "h1")
	if cached() != 2 {
		t.Fatalf("expected host entries dropped, have %d", cached())
	}

	prime()
	cache.InvalidateCluster("c1")
	if cached() != 1 {
		t.Fatalf("expected cluster entries dropped, have %d", cached())
	}

	prime()
	cache.InvalidateAll()
	if cached() != 0 {
		t.Fatalf("expected empty cache, have %d", cached())
	}
}

func TestCacheInvalidateTriggersRecompute(t *testing.T) {
	checker := &countingChecker{}
	cache := NewCache(checker, true, time.Hour)

	if _, err := cache.IsStale(context.Background(), testRef); err != nil {
		t.Fatalf("isStale: %v", err)
	}
	cache.Invalidate(testRef)
	if _, err := cache.IsStale(context.Background(), testRef); err != nil {
		t.Fatalf("isStale: %v", err)
	}
	if checker.callCount() != 2 {
		t.Fatalf("expected recompute after invalidation, got %d evaluations", checker.callCount())
	}
}

func TestCacheConcurrentReads(t *testing.T) {
	checker := &countingChecker{stale: true}
	cache := NewCache(checker, true, time.Hour)
	if _, err := cache.IsStale(context.Background(), testRef); err != nil {
		t.Fatalf("isStale: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stale, err := cache.IsStale(context.Background(), testRef)
			if err != nil || !stale {
				t.Errorf("concurrent read: stale=%v err=%v", stale, err)
			}
		}()
	}
	wg.Wait()
	if checker.callCount() != 1 {
		t.Fatalf("expected all concurrent reads served from cache, got %d evaluations", checker.callCount())
	}
}
