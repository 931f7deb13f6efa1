package buffer

import (
	"testing"
	"time"
)

func TestAddChunk_BecomesReadyAtThreshold(t *testing.T) {
	b := New(10, DefaultThresholds())

	if b.WaitUntilReady(10 * time.Millisecond) {
		t.Fatalf("expected buffer to not be ready before any chunks")
	}

	b.AddChunk(Chunk{Data: make([]byte, 100), DurationMs: 600})

	if !b.WaitUntilReady(200 * time.Millisecond) {
		t.Fatalf("expected buffer to become ready once duration crosses ready_threshold_ms")
	}
}

func TestAddChunk_OverflowPrevented(t *testing.T) {
	b := New(2, DefaultThresholds())

	if !b.AddChunk(Chunk{Data: []byte("a"), DurationMs: 10}) {
		t.Fatalf("expected first add to succeed")
	}
	if !b.AddChunk(Chunk{Data: []byte("b"), DurationMs: 10}) {
		t.Fatalf("expected second add to succeed")
	}
	if b.AddChunk(Chunk{Data: []byte("c"), DurationMs: 10}) {
		t.Fatalf("expected third add to be rejected: buffer at max_size")
	}

	stats := b.Stats()
	if stats.OverflowCount != 1 {
		t.Fatalf("expected overflow_count=1, got %d", stats.OverflowCount)
	}
}

func TestGetChunk_EmptyBufferSignalsWaiters(t *testing.T) {
	b := New(10, DefaultThresholds())
	b.AddChunk(Chunk{Data: []byte("a"), DurationMs: 10})

	if b.WaitUntilEmpty(5 * time.Millisecond) {
		t.Fatalf("expected buffer to not be empty with one chunk queued")
	}

	_, ok := b.GetChunk()
	if !ok {
		t.Fatalf("expected a chunk to be retrieved")
	}

	if !b.WaitUntilEmpty(200 * time.Millisecond) {
		t.Fatalf("expected buffer to report empty after draining its only chunk")
	}

	if _, ok := b.GetChunk(); ok {
		t.Fatalf("expected GetChunk on empty buffer to report ok=false")
	}
}

func TestThresholdCallback_FiresOnceOnCrossing(t *testing.T) {
	b := New(20, DefaultThresholds())

	crossings := 0
	b.RegisterThresholdCallback(ThresholdHigh, func(Stats) { crossings++ })

	// Cross into HIGH (>2000ms and <=5000ms) once; repeated adds that
	// stay within HIGH must not re-fire the callback.
	b.AddChunk(Chunk{Data: []byte("a"), DurationMs: 3000})
	b.AddChunk(Chunk{Data: []byte("b"), DurationMs: 100})
	b.AddChunk(Chunk{Data: []byte("c"), DurationMs: 100})

	if crossings != 1 {
		t.Fatalf("expected exactly one threshold crossing into HIGH, got %d", crossings)
	}
}

func TestClear_ResetsBufferAndEmptyState(t *testing.T) {
	b := New(10, DefaultThresholds())
	b.AddChunk(Chunk{Data: []byte("a"), DurationMs: 600})

	b.Clear()

	stats := b.Stats()
	if stats.Chunks != 0 || stats.DurationMs != 0 {
		t.Fatalf("expected cleared buffer to report zero chunks/duration, got %+v", stats)
	}
	if !b.WaitUntilEmpty(10 * time.Millisecond) {
		t.Fatalf("expected cleared buffer to report empty")
	}
}
