package predictive

import (
	"container/heap"
	"time"

	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/cache"
)

// Priority orders prediction tasks: lower values run first.
type Priority int

const (
	PriorityHigh   Priority = 0
	PriorityMedium Priority = 1
	PriorityLow    Priority = 2
)

// Task is one queued background-generation request.
type Task struct {
	ID           string
	CallID       string
	Phrase       string
	ProviderType string
	VoiceID      string
	Speed        float64
	Priority     Priority
	StepID       string
	Params       map[string]string
	CreatedAt    time.Time

	seq int // FIFO tiebreaker within the same priority
}

// CacheKey derives the same key the facade would use to look up or
// store this phrase's audio, so pre-generated audio is found on the
// cache's fast path when the call actually reaches it.
func (t *Task) CacheKey() cache.Key {
	return cache.NewKey(t.Phrase, t.ProviderType, t.VoiceID, t.Speed, t.Params)
}

// taskHeap is a min-heap ordered by (Priority, seq), implementing
// container/heap.Interface.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*Task))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*taskHeap)(nil)
