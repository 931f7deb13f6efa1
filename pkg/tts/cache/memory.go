package cache

import (
	"container/list"
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const memoryShardCount = 16

type memoryEntry struct {
	key       Key
	value     []byte
	expiresAt time.Time
	elem      *list.Element
}

// memoryShard is one independently-locked LRU partition. Sharding by key
// hash lets concurrent Get/Set on unrelated keys proceed without
// contending a single mutex (spec.md §5: "memory tier lock sharded by
// key hash").
type memoryShard struct {
	mu       sync.Mutex
	maxSize  int
	ttl      time.Duration
	order    *list.List
	entries  map[Key]*memoryEntry
}

// Memory is the first, non-blocking cache tier: a bounded, per-entry-TTL
// LRU (spec.md §4.2).
type Memory struct {
	shards    [memoryShardCount]*memoryShard
	now       func() time.Time
}

// NewMemory builds the memory tier. maxEntries is split evenly across
// the shards (rounded down, at least one entry per shard) and each shard
// evicts its own least-recently-used entry, so total capacity is
// maxEntries rounded down to a multiple of memoryShardCount; ttl is the
// per-entry time-to-live.
func NewMemory(maxEntries int, ttl time.Duration) *Memory {
	if maxEntries < memoryShardCount {
		maxEntries = memoryShardCount
	}
	perShard := maxEntries / memoryShardCount

	m := &Memory{now: time.Now}
	for i := range m.shards {
		m.shards[i] = &memoryShard{
			maxSize: perShard,
			ttl:     ttl,
			order:   list.New(),
			entries: make(map[Key]*memoryEntry),
		}
	}
	return m
}

func (m *Memory) Name() string    { return "memory" }
func (m *Memory) Available() bool { return true }

// Clear empties every shard, used by the facade's clear_cache operation.
func (m *Memory) Clear() {
	for _, s := range m.shards {
		s.mu.Lock()
		s.order.Init()
		s.entries = make(map[Key]*memoryEntry)
		s.mu.Unlock()
	}
}

func (m *Memory) shardFor(key Key) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%memoryShardCount]
}

func (m *Memory) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if m.now().After(e.expiresAt) {
		s.order.Remove(e.elem)
		delete(s.entries, key)
		return nil, false, nil
	}

	s.order.MoveToFront(e.elem)
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (m *Memory) Set(ctx context.Context, key Key, value []byte) error {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)

	if e, ok := s.entries[key]; ok {
		e.value = stored
		e.expiresAt = m.now().Add(s.ttl)
		s.order.MoveToFront(e.elem)
		return nil
	}

	e := &memoryEntry{key: key, value: stored, expiresAt: m.now().Add(s.ttl)}
	e.elem = s.order.PushFront(e)
	s.entries[key] = e

	for len(s.entries) > s.maxSize {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		oe := oldest.Value.(*memoryEntry)
		s.order.Remove(oldest)
		delete(s.entries, oe.key)
	}
	return nil
}
