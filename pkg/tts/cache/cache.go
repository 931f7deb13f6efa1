// Package cache implements the multi-tier TTS audio cache (spec.md §4.2):
// memory LRU → shared KV → filesystem, with promotion-on-hit and
// per-tier statistics.
package cache

import (
	"context"
	"sync"
)

// Cache probes tiers in order on Get, promoting a lower-tier hit into
// every faster tier above it before returning, and writes to every
// enabled tier on Set.
type Cache struct {
	tiers []Tier

	mu    sync.Mutex
	stats Stats
}

func New(tiers ...Tier) *Cache {
	c := &Cache{tiers: tiers}
	c.stats.TierHits = make(map[string]uint64)
	return c
}

// Get probes tiers 0..n in order. A hit in tier k is written back into
// tiers 0..k-1 (promotion) before returning; promotion is best-effort and
// never blocks the return (spec.md §5).
func (c *Cache) Get(ctx context.Context, key Key) ([]byte, bool) {
	c.mu.Lock()
	c.stats.Gets++
	c.mu.Unlock()

	for i, t := range c.tiers {
		if !t.Available() {
			continue
		}
		val, ok, err := t.Get(ctx, key)
		if err != nil {
			// Tier backend is down: skip it silently (spec.md §7).
			continue
		}
		if !ok {
			continue
		}

		c.mu.Lock()
		c.stats.Hits++
		c.stats.TierHits[t.Name()]++
		c.mu.Unlock()

		if i > 0 {
			go c.promote(key, val, i)
		}
		return val, true
	}
	return nil, false
}

// promote writes val into every tier above index k. Run asynchronously:
// two concurrent promotions racing to write the same key are both
// idempotent sets, content-addressed by key, so last-write-wins is
// correctness-neutral (spec.md §9 "cache propagation races").
func (c *Cache) promote(key Key, val []byte, k int) {
	ctx := context.Background()
	for i := 0; i < k; i++ {
		t := c.tiers[i]
		if t.Available() {
			_ = t.Set(ctx, key, val)
		}
	}
}

// Set writes to every enabled tier.
func (c *Cache) Set(ctx context.Context, key Key, value []byte) error {
	c.mu.Lock()
	c.stats.Sets++
	c.mu.Unlock()

	var firstErr error
	for _, t := range c.tiers {
		if !t.Available() {
			continue
		}
		if err := t.Set(ctx, key, value); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats returns a snapshot of cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	hits := make(map[string]uint64, len(c.stats.TierHits))
	for k, v := range c.stats.TierHits {
		hits[k] = v
	}
	return Stats{Gets: c.stats.Gets, Sets: c.stats.Sets, Hits: c.stats.Hits, TierHits: hits}
}

// Health reports per-tier availability, consulted by the facade's
// aggregate health() call.
func (c *Cache) Health() map[string]bool {
	out := make(map[string]bool, len(c.tiers))
	for _, t := range c.tiers {
		out[t.Name()] = t.Available()
	}
	return out
}

// clearer is implemented by tiers that can drop their entire contents
// in-process. The filesystem and KV tiers don't implement it: clearing
// a shared Redis keyspace or walking a blob directory isn't something
// the facade's clear_cache should do implicitly, so those tiers are
// left to their own TTL/eviction policy.
type clearer interface {
	Clear()
}

// Clear empties every tier that supports it (today: memory only).
func (c *Cache) Clear() {
	for _, t := range c.tiers {
		if cl, ok := t.(clearer); ok {
			cl.Clear()
		}
	}
}
