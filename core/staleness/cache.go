package staleness

import (
	"context"
	"sync"
	"time"

	"github.com/fleetconf/fleetconf/core/configstate"
	"github.com/fleetconf/fleetconf/core/infra/metrics"
)

// DefaultTTL bounds how long a memoized stale verdict may outlive the state
// it was computed from. Explicit invalidation remains the caller's job; the
// TTL is only the safety net.
const DefaultTTL = 300 * time.Second

type cacheEntry struct {
	stale   bool
	written time.Time
}

// Cache memoizes evaluator results per component, expiring entries a fixed
// TTL after write. Only successful computations are stored, so a transient
// lookup failure never pins a wrong verdict. Concurrent misses for the same
// key may both recompute; evaluation is deterministic, so last write wins.
type Cache struct {
	eval    Checker
	enabled bool
	ttl     time.Duration
	now     func() time.Time
	metrics metrics.Staleness

	mu      sync.RWMutex
	entries map[configstate.ComponentRef]cacheEntry
}

// NewCache wraps a checker with a TTL cache. A non-positive ttl falls back
// to DefaultTTL; enabled=false makes IsStale always recompute.
func NewCache(eval Checker, enabled bool, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		eval:    eval,
		enabled: enabled,
		ttl:     ttl,
		now:     time.Now,
		metrics: metrics.Noop{},
		entries: make(map[configstate.ComponentRef]cacheEntry),
	}
}

// WithClock overrides the time source, for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// WithMetrics attaches staleness metrics.
func (c *Cache) WithMetrics(m metrics.Staleness) *Cache {
	if m != nil {
		c.metrics = m
	}
	return c
}

// IsStale returns the cached verdict when present and fresh, otherwise
// computes and stores it. Errors pass through uncached.
func (c *Cache) IsStale(ctx context.Context, ref configstate.ComponentRef) (bool, error) {
	if !c.enabled {
		return c.compute(ctx, ref)
	}

	c.mu.RLock()
	entry, ok := c.entries[ref]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.written) < c.ttl {
		c.metrics.IncCacheHit()
		return entry.stale, nil
	}

	c.metrics.IncCacheMiss()
	stale, err := c.compute(ctx, ref)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	c.entries[ref] = cacheEntry{stale: stale, written: c.now()}
	c.mu.Unlock()
	return stale, nil
}

func (c *Cache) compute(ctx context.Context, ref configstate.ComponentRef) (bool, error) {
	start := c.now()
	stale, err := c.eval.IsStale(ctx, ref)
	c.metrics.ObserveEvaluation(c.now().Sub(start).Seconds())
	switch {
	case err != nil:
		c.metrics.IncEvaluation("error")
	case stale:
		c.metrics.IncEvaluation("stale")
	default:
		c.metrics.IncEvaluation("fresh")
	}
	return stale, err
}

// Invalidate drops the cached verdict for one component.
func (c *Cache) Invalidate(ref configstate.ComponentRef) {
	c.mu.Lock()
	delete(c.entries, ref)
	c.mu.Unlock()
	c.metrics.IncInvalidation("component")
}

// InvalidateHost drops every cached verdict for components on a host.
func (c *Cache) InvalidateHost(clusterID, host string) {
	c.mu.Lock()
	for ref := range c.entries {
		if ref.Cluster == clusterID && ref.Host == host {
			delete(c.entries, ref)
		}
	}
	c.mu.Unlock()
	c.metrics.IncInvalidation("host")
}

// InvalidateCluster drops every cached verdict for a cluster.
func (c *Cache) InvalidateCluster(clusterID string) {
	c.mu.Lock()
	for ref := range c.entries {
		if ref.Cluster == clusterID {
			delete(c.entries, ref)
		}
	}
	c.mu.Unlock()
	c.metrics.IncInvalidation("cluster")
}

// InvalidateAll clears the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[configstate.ComponentRef]cacheEntry)
	c.mu.Unlock()
	c.metrics.IncInvalidation("all")
}
