package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// fsMeta is one entry in the metadata sidecar (spec.md §6:
// "<cache_dir>/metadata.json mapping key → {written_at, last_accessed, size}").
type fsMeta struct {
	WrittenAt    time.Time `json:"written_at"`
	LastAccessed time.Time `json:"last_accessed"`
	Size         int64     `json:"size"`
}

// Filesystem is the last, largest-capacity tier: LRU-by-last-access
// eviction under a total byte cap, with per-entry TTL (spec.md §4.2).
type Filesystem struct {
	dir      string
	maxBytes int64
	ttl      time.Duration
	now      func() time.Time

	mu       sync.Mutex
	meta     map[string]*fsMeta
	totalSz  int64
}

func NewFilesystem(dir string, maxBytes int64, ttl time.Duration) (*Filesystem, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	fs := &Filesystem{
		dir:      dir,
		maxBytes: maxBytes,
		ttl:      ttl,
		now:      time.Now,
		meta:     make(map[string]*fsMeta),
	}
	if err := fs.loadMeta(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *Filesystem) Name() string    { return "filesystem" }
func (f *Filesystem) Available() bool { return true }

func (f *Filesystem) metaPath() string { return filepath.Join(f.dir, "metadata.json") }
func (f *Filesystem) blobPath(key Key) string { return filepath.Join(f.dir, key.Filename()) }

func (f *Filesystem) loadMeta() error {
	data, err := os.ReadFile(f.metaPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var m map[string]*fsMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil // corrupt sidecar: start fresh rather than fail cache construction
	}
	f.meta = m
	var total int64
	for _, e := range m {
		total += e.Size
	}
	f.totalSz = total
	return nil
}

// saveMeta must be called with f.mu held.
func (f *Filesystem) saveMeta() error {
	data, err := json.Marshal(f.meta)
	if err != nil {
		return err
	}
	tmp := f.metaPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.metaPath())
}

func (f *Filesystem) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	f.mu.Lock()
	meta, ok := f.meta[key.Filename()]
	f.mu.Unlock()
	if !ok {
		return nil, false, nil
	}

	if f.now().Sub(meta.WrittenAt) > f.ttl {
		f.evict(key)
		return nil, false, nil
	}

	data, err := os.ReadFile(f.blobPath(key))
	if os.IsNotExist(err) {
		f.evict(key)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	f.mu.Lock()
	meta.LastAccessed = f.now()
	_ = f.saveMeta()
	f.mu.Unlock()

	return data, true, nil
}

func (f *Filesystem) Set(ctx context.Context, key Key, value []byte) error {
	if err := os.WriteFile(f.blobPath(key), value, 0o644); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if old, ok := f.meta[key.Filename()]; ok {
		f.totalSz -= old.Size
	}
	now := f.now()
	f.meta[key.Filename()] = &fsMeta{WrittenAt: now, LastAccessed: now, Size: int64(len(value))}
	f.totalSz += int64(len(value))

	f.evictLocked()
	return f.saveMeta()
}

func (f *Filesystem) evict(key Key) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if meta, ok := f.meta[key.Filename()]; ok {
		f.totalSz -= meta.Size
		delete(f.meta, key.Filename())
		_ = os.Remove(f.blobPath(key))
		_ = f.saveMeta()
	}
}

// evictLocked removes least-recently-accessed entries until totalSz is
// back at or under maxBytes. The entry just written by the in-flight Set
// has the newest access time, so it is removed only if the tier is still
// over maxBytes once every older entry is gone.
func (f *Filesystem) evictLocked() {
	if f.totalSz <= f.maxBytes {
		return
	}

	type kv struct {
		key  string
		meta *fsMeta
	}
	all := make([]kv, 0, len(f.meta))
	for k, m := range f.meta {
		all = append(all, kv{k, m})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].meta.LastAccessed.Before(all[j].meta.LastAccessed)
	})

	for _, e := range all {
		if f.totalSz <= f.maxBytes {
			return
		}
		f.totalSz -= e.meta.Size
		delete(f.meta, e.key)
		_ = os.Remove(filepath.Join(f.dir, e.key))
	}
}
