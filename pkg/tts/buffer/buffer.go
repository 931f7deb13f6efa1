// Package buffer implements a thread-safe, duration-aware audio
// chunk queue (spec.md §4.6): threshold-based state monitoring,
// overflow protection, and blocking waits for playback readiness.
package buffer

import (
	"container/list"
	"sync"
	"time"
)

// Threshold is a coarse buffer fullness level, keyed by playback
// duration rather than raw byte/chunk count.
type Threshold string

const (
	ThresholdEmpty    Threshold = "empty"
	ThresholdCritical Threshold = "critical"
	ThresholdLow      Threshold = "low"
	ThresholdNormal   Threshold = "normal"
	ThresholdHigh     Threshold = "high"
	ThresholdOverflow Threshold = "overflow"
)

// Chunk is one unit of PCM audio with its estimated playback duration.
type Chunk struct {
	Data       []byte
	DurationMs float64
}

// Thresholds configures the duration boundaries (ms) for each level.
type Thresholds struct {
	ReadyMs    float64
	CriticalMs float64
	LowMs      float64
	NormalMs   float64
	HighMs     float64
	OverflowMs float64
}

// DefaultThresholds mirrors the original audio buffer's defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ReadyMs:    500,
		CriticalMs: 200,
		LowMs:      500,
		NormalMs:   2000,
		HighMs:     5000,
		OverflowMs: 10000,
	}
}

// Stats is a snapshot of buffer activity.
type Stats struct {
	Chunks     int
	Bytes      int64
	DurationMs float64
	Threshold  Threshold

	TotalChunksAdded     uint64
	TotalChunksRetrieved uint64
	OverflowCount        uint64
	UnderflowCount       uint64
	PeakChunks           int
	PeakBytes            int64
	PeakDurationMs       float64
}

// Buffer is a bounded FIFO of audio chunks with threshold-crossing
// callbacks and blocking readiness/drain waits.
type Buffer struct {
	maxSize    int
	thresholds Thresholds

	mu       sync.Mutex
	chunks   *list.List
	stats    Stats
	readyCh  chan struct{}
	emptyCh  chan struct{}
	isReady  bool
	isEmpty  bool

	callbacksMu sync.Mutex
	callbacks   map[Threshold][]func(Stats)
}

// New builds an empty Buffer with maxSize chunks of capacity.
func New(maxSize int, thresholds Thresholds) *Buffer {
	b := &Buffer{
		maxSize:    maxSize,
		thresholds: thresholds,
		chunks:     list.New(),
		readyCh:    make(chan struct{}),
		emptyCh:    make(chan struct{}),
		isEmpty:    true,
		callbacks:  make(map[Threshold][]func(Stats)),
	}
	close(b.emptyCh) // starts empty: already "reached" empty
	b.stats.Threshold = ThresholdEmpty
	return b
}

// classify returns the threshold level for the current duration.
func (b *Buffer) classify() Threshold {
	if b.stats.Chunks == 0 {
		return ThresholdEmpty
	}
	d := b.stats.DurationMs
	switch {
	case d <= b.thresholds.CriticalMs:
		return ThresholdCritical
	case d <= b.thresholds.LowMs:
		return ThresholdLow
	case d <= b.thresholds.NormalMs:
		return ThresholdNormal
	case d <= b.thresholds.HighMs:
		return ThresholdHigh
	default:
		return ThresholdOverflow
	}
}

// AddChunk appends a chunk, returning false if the buffer is at
// max_size (overflow prevented, not silently dropped).
func (b *Buffer) AddChunk(c Chunk) bool {
	b.mu.Lock()

	if b.chunks.Len() >= b.maxSize {
		b.stats.OverflowCount++
		b.mu.Unlock()
		b.fireCallbacks(ThresholdOverflow)
		return false
	}

	b.chunks.PushBack(c)

	b.stats.Chunks++
	b.stats.Bytes += int64(len(c.Data))
	b.stats.DurationMs += c.DurationMs
	b.stats.TotalChunksAdded++
	if b.stats.Chunks > b.stats.PeakChunks {
		b.stats.PeakChunks = b.stats.Chunks
	}
	if b.stats.Bytes > b.stats.PeakBytes {
		b.stats.PeakBytes = b.stats.Bytes
	}
	if b.stats.DurationMs > b.stats.PeakDurationMs {
		b.stats.PeakDurationMs = b.stats.DurationMs
	}

	prev := b.stats.Threshold
	current := b.classify()
	b.stats.Threshold = current

	becameReady := false
	if b.stats.DurationMs >= b.thresholds.ReadyMs && !b.isReady {
		b.isReady = true
		becameReady = true
	}
	if b.isEmpty {
		b.isEmpty = false
		b.emptyCh = make(chan struct{})
	}

	snapshot := b.stats
	var readyCh chan struct{}
	if becameReady {
		readyCh = b.readyCh
		b.readyCh = make(chan struct{})
	}
	b.mu.Unlock()

	if becameReady {
		close(readyCh)
	}
	if current != prev {
		b.fireCallbacks(current)
	}
	_ = snapshot
	return true
}

// GetChunk pops the oldest chunk, or reports ok=false if empty.
func (b *Buffer) GetChunk() (Chunk, bool) {
	b.mu.Lock()

	front := b.chunks.Front()
	if front == nil {
		wasEmpty := b.isEmpty
		b.isEmpty = true
		var emptyCh chan struct{}
		if !wasEmpty {
			emptyCh = b.emptyCh
			close(b.emptyCh)
			b.isReady = false
		}
		b.mu.Unlock()
		if !wasEmpty {
			b.fireCallbacks(ThresholdEmpty)
			_ = emptyCh
		}
		return Chunk{}, false
	}

	b.chunks.Remove(front)
	c := front.Value.(Chunk)

	b.stats.Chunks--
	b.stats.Bytes -= int64(len(c.Data))
	b.stats.DurationMs -= c.DurationMs
	b.stats.TotalChunksRetrieved++

	prev := b.stats.Threshold
	current := b.classify()
	b.stats.Threshold = current

	if b.stats.DurationMs < b.thresholds.ReadyMs {
		b.isReady = false
	}

	nowEmpty := b.chunks.Len() == 0
	var emptyCh chan struct{}
	if nowEmpty {
		b.isEmpty = true
		emptyCh = b.emptyCh
		close(b.emptyCh)
	}
	b.mu.Unlock()

	if nowEmpty {
		b.fireCallbacks(ThresholdEmpty)
		_ = emptyCh
	} else if current != prev {
		b.fireCallbacks(current)
	}

	return c, true
}

// PeekChunk returns the oldest chunk without removing it.
func (b *Buffer) PeekChunk() (Chunk, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	front := b.chunks.Front()
	if front == nil {
		return Chunk{}, false
	}
	return front.Value.(Chunk), true
}

// WaitUntilReady blocks until the buffer holds at least ReadyMs of
// audio, or timeout elapses (timeout<=0 blocks indefinitely).
func (b *Buffer) WaitUntilReady(timeout time.Duration) bool {
	b.mu.Lock()
	if b.isReady {
		b.mu.Unlock()
		return true
	}
	ch := b.readyCh
	b.mu.Unlock()

	if timeout <= 0 {
		<-ch
		return true
	}
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// WaitUntilEmpty blocks until the buffer has been drained, or timeout
// elapses (timeout<=0 blocks indefinitely).
func (b *Buffer) WaitUntilEmpty(timeout time.Duration) bool {
	b.mu.Lock()
	if b.isEmpty {
		b.mu.Unlock()
		return true
	}
	ch := b.emptyCh
	b.mu.Unlock()

	if timeout <= 0 {
		<-ch
		return true
	}
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// RegisterThresholdCallback registers a callback fired each time the
// buffer transitions into the given threshold level.
func (b *Buffer) RegisterThresholdCallback(t Threshold, fn func(Stats)) {
	b.callbacksMu.Lock()
	defer b.callbacksMu.Unlock()
	b.callbacks[t] = append(b.callbacks[t], fn)
}

func (b *Buffer) fireCallbacks(t Threshold) {
	b.callbacksMu.Lock()
	cbs := append([]func(Stats){}, b.callbacks[t]...)
	b.callbacksMu.Unlock()

	b.mu.Lock()
	snapshot := b.stats
	b.mu.Unlock()

	for _, cb := range cbs {
		cb(snapshot)
	}
}

// Stats returns a snapshot of buffer statistics.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Clear empties the buffer and resets all statistics, including peaks
// and lifetime totals, to a fresh Stats.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.chunks.Init()
	b.stats = Stats{Threshold: ThresholdEmpty}
	b.isReady = false
	if !b.isEmpty {
		close(b.emptyCh)
	}
	b.isEmpty = true
	b.emptyCh = make(chan struct{})
	close(b.emptyCh)
	b.readyCh = make(chan struct{})
	b.mu.Unlock()
}
