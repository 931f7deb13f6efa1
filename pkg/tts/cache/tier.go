package cache

import "context"

// Tier is one layer of the multi-tier cache (spec.md §4.2). Get returns
// (nil, false, nil) on a clean miss; a non-nil error means the tier's
// backend is unavailable and should be skipped, not treated as a miss
// the caller must propagate (spec.md §7: "C2 backend unavailability
// degrades silently").
type Tier interface {
	Name() string
	Get(ctx context.Context, key Key) ([]byte, bool, error)
	Set(ctx context.Context, key Key, value []byte) error
	Available() bool
}

// Stats accumulates per-tier and aggregate counters.
type Stats struct {
	Gets      uint64
	Sets      uint64
	Hits      uint64
	TierHits  map[string]uint64
}

// HitRatio returns Hits/Gets, or 0 if there have been no gets yet.
func (s Stats) HitRatio() float64 {
	if s.Gets == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Gets)
}
