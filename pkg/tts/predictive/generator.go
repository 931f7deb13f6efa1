package predictive

import (
	"container/heap"
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/cache"
)

// GenerateFunc synthesizes one phrase for background pre-generation.
// It is the same shape of call the facade makes for a live turn, just
// invoked ahead of need.
type GenerateFunc func(ctx context.Context, phrase, providerType, voiceID string, speed float64, params map[string]string) ([]byte, error)

// Config configures a Generator.
type Config struct {
	MaxWorkers      int
	PredictionDepth int
	Enabled         bool
}

func DefaultConfig() Config {
	return Config{MaxWorkers: 2, PredictionDepth: 2, Enabled: true}
}

// Stats summarizes a Generator's background-generation activity.
type Stats struct {
	TasksGenerated        uint64
	CacheHits             uint64
	SuccessfulPredictions uint64
	TotalPredictions      uint64
	AvgGenerationTimeMs   float64
	MinGenerationTimeMs   float64
	MaxGenerationTimeMs   float64
}

// Generator walks registered call flows, predicts the phrases most
// likely to be spoken next, and generates+caches their audio in the
// background ahead of need (spec.md §4.8).
type Generator struct {
	cache    *cache.Cache
	generate GenerateFunc
	cfg      Config

	mu          sync.Mutex
	enabled     bool
	depth       int
	flows       map[string]*Flow
	callStates  map[string]*CallState
	queue       taskHeap
	seqCounter  int
	stopped     bool
	cond        *sync.Cond

	processingMu sync.Mutex
	processing   map[cache.Key]bool

	statsMu         sync.Mutex
	stats           Stats
	generationTimes []float64 // bounded ring, most recent last

	wg sync.WaitGroup
}

// New builds a Generator and starts its fixed worker pool.
func New(c *cache.Cache, generate GenerateFunc, cfg Config) *Generator {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	g := &Generator{
		cache:      c,
		generate:   generate,
		cfg:        cfg,
		enabled:    cfg.Enabled,
		depth:      cfg.PredictionDepth,
		flows:      make(map[string]*Flow),
		callStates: make(map[string]*CallState),
		processing: make(map[cache.Key]bool),
	}
	g.cond = sync.NewCond(&g.mu)

	for i := 0; i < cfg.MaxWorkers; i++ {
		g.wg.Add(1)
		go g.worker()
	}
	return g
}

// RegisterFlow registers a call flow for prediction and returns its
// flow ID (the lowercased, underscored form of its name).
func (g *Generator) RegisterFlow(flow *Flow) string {
	flowID := flowID(flow.Name)
	g.mu.Lock()
	g.flows[flowID] = flow
	g.mu.Unlock()
	return flowID
}

func flowID(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r == ' ' {
			r = '_'
		}
		if r >= 'A' && r <= 'Z' {
			r = r + ('a' - 'A')
		}
		out = append(out, r)
	}
	return string(out)
}

// StartCall begins tracking callID against flowID's entry step and, if
// enabled, queues its first round of predictions.
func (g *Generator) StartCall(callID, flowID string) bool {
	g.mu.Lock()
	flow, ok := g.flows[flowID]
	if !ok {
		g.mu.Unlock()
		return false
	}
	entry, ok := flow.EntryStep()
	if !ok {
		g.mu.Unlock()
		return false
	}
	g.callStates[callID] = &CallState{
		CallID:        callID,
		FlowID:        flowID,
		CurrentStepID: entry.ID,
		Metadata:      make(map[string]any),
	}
	enabled := g.enabled
	g.mu.Unlock()

	if enabled {
		g.PredictNextPhrases(callID)
	}
	return true
}

// UpdateCallStep moves callID to stepID and, if enabled, re-predicts.
func (g *Generator) UpdateCallStep(callID, stepID string) bool {
	g.mu.Lock()
	state, ok := g.callStates[callID]
	if !ok {
		g.mu.Unlock()
		return false
	}
	flow, ok := g.flows[state.FlowID]
	if !ok {
		g.mu.Unlock()
		return false
	}
	if _, ok := flow.GetStep(stepID); !ok {
		g.mu.Unlock()
		return false
	}
	state.UpdateStep(stepID)
	enabled := g.enabled
	g.mu.Unlock()

	if enabled {
		g.PredictNextPhrases(callID)
	}
	return true
}

// EndCall stops tracking callID.
func (g *Generator) EndCall(callID string) {
	g.mu.Lock()
	delete(g.callStates, callID)
	g.mu.Unlock()
}

// SetCallMetadata sets a piece of call metadata (provider_type,
// voice_id, speed) consulted when queuing predictions for callID.
func (g *Generator) SetCallMetadata(callID, key string, value any) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.callStates[callID]
	if !ok {
		return false
	}
	state.Metadata[key] = value
	return true
}

// PredictNextPhrases walks the flow graph ahead of callID's current
// step up to the configured prediction depth, queuing background
// generation for every phrase not already cached.
func (g *Generator) PredictNextPhrases(callID string) []string {
	g.mu.Lock()
	if !g.enabled {
		g.mu.Unlock()
		return nil
	}
	state, ok := g.callStates[callID]
	if !ok {
		g.mu.Unlock()
		return nil
	}
	flow, ok := g.flows[state.FlowID]
	if !ok {
		g.mu.Unlock()
		return nil
	}
	current, ok := flow.GetStep(state.CurrentStepID)
	if !ok {
		g.mu.Unlock()
		return nil
	}
	depth := g.depth
	g.mu.Unlock()

	var queued []string
	g.predictAhead(flow, callID, current, 0, depth, &queued, map[string]bool{})
	return queued
}

// predictAhead recursively queues every phrase in start and its
// reachable next steps, up to maxDepth, never revisiting a step
// already seen on this path (cycles in the flow graph are legal).
func (g *Generator) predictAhead(flow *Flow, callID string, start *Step, depth, maxDepth int, queued *[]string, visited map[string]bool) {
	if depth > maxDepth || visited[start.ID] {
		return
	}
	visited[start.ID] = true

	priority := PriorityLow
	switch depth {
	case 0:
		priority = PriorityHigh
	case 1:
		priority = PriorityMedium
	}

	g.mu.Lock()
	state, ok := g.callStates[callID]
	g.mu.Unlock()
	if !ok {
		return
	}

	providerType := metaString(state.Metadata, "provider_type", "default")
	voiceID := metaString(state.Metadata, "voice_id", "default")
	speed := metaFloat(state.Metadata, "speed", 1.0)

	for _, phrase := range start.Phrases {
		key := cache.NewKey(phrase, providerType, voiceID, speed, nil)
		if _, ok := g.cache.Get(context.Background(), key); ok {
			g.statsMu.Lock()
			g.stats.CacheHits++
			g.statsMu.Unlock()
			continue
		}

		g.queueTask(&Task{
			CallID:       callID,
			Phrase:       phrase,
			ProviderType: providerType,
			VoiceID:      voiceID,
			Speed:        speed,
			Priority:     priority,
			StepID:       start.ID,
		})
		*queued = append(*queued, phrase)
	}

	for _, nextID := range start.AllPossibleNextSteps() {
		next, ok := flow.GetStep(nextID)
		if !ok {
			continue
		}
		// Each branch gets its own copy so sibling branches that
		// rejoin downstream are still considered independently.
		branchVisited := make(map[string]bool, len(visited))
		for k := range visited {
			branchVisited[k] = true
		}
		g.predictAhead(flow, callID, next, depth+1, maxDepth, queued, branchVisited)
	}
}

func metaString(m map[string]any, key, def string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func metaFloat(m map[string]any, key string, def float64) float64 {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

func (g *Generator) queueTask(t *Task) {
	t.ID = newTaskID()
	t.CreatedAt = time.Now()

	g.mu.Lock()
	t.seq = g.seqCounter
	g.seqCounter++
	heap.Push(&g.queue, t)
	g.cond.Signal()
	g.mu.Unlock()

	g.statsMu.Lock()
	g.stats.TotalPredictions++
	g.statsMu.Unlock()
}

func newTaskID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// worker pulls the highest-priority task off the queue and generates
// it, skipping tasks for calls that have since ended or whose cache
// key is already being produced by another worker.
func (g *Generator) worker() {
	defer g.wg.Done()
	for {
		g.mu.Lock()
		for g.queue.Len() == 0 && !g.stopped {
			g.cond.Wait()
		}
		if g.stopped && g.queue.Len() == 0 {
			g.mu.Unlock()
			return
		}
		task := heap.Pop(&g.queue).(*Task)
		_, stillActive := g.callStates[task.CallID]
		g.mu.Unlock()

		if !stillActive {
			continue
		}

		key := task.CacheKey()
		if _, ok := g.cache.Get(context.Background(), key); ok {
			g.statsMu.Lock()
			g.stats.CacheHits++
			g.statsMu.Unlock()
			continue
		}

		g.processingMu.Lock()
		if g.processing[key] {
			g.processingMu.Unlock()
			continue
		}
		g.processing[key] = true
		g.processingMu.Unlock()

		g.generateAudio(task, key)
	}
}

func (g *Generator) generateAudio(task *Task, key cache.Key) {
	defer func() {
		g.processingMu.Lock()
		delete(g.processing, key)
		g.processingMu.Unlock()
	}()

	start := time.Now()
	audio, err := g.generate(context.Background(), task.Phrase, task.ProviderType, task.VoiceID, task.Speed, task.Params)
	elapsedMs := float64(time.Since(start).Milliseconds())

	if err != nil || len(audio) == 0 {
		return
	}

	_ = g.cache.Set(context.Background(), key, audio)

	g.statsMu.Lock()
	g.stats.TasksGenerated++
	g.stats.SuccessfulPredictions++
	g.generationTimes = append(g.generationTimes, elapsedMs)
	if len(g.generationTimes) > 100 {
		g.generationTimes = g.generationTimes[len(g.generationTimes)-100:]
	}
	g.statsMu.Unlock()
}

// Stats returns a snapshot of background-generation activity.
func (g *Generator) Stats() Stats {
	g.statsMu.Lock()
	defer g.statsMu.Unlock()

	out := g.stats
	if len(g.generationTimes) == 0 {
		return out
	}

	sorted := append([]float64(nil), g.generationTimes...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	out.AvgGenerationTimeMs = sum / float64(len(sorted))
	out.MinGenerationTimeMs = sorted[0]
	out.MaxGenerationTimeMs = sorted[len(sorted)-1]
	return out
}

// SetPredictionDepth adjusts how many steps ahead to predict, clamped
// to [1, 5].
func (g *Generator) SetPredictionDepth(depth int) {
	if depth < 1 {
		depth = 1
	}
	if depth > 5 {
		depth = 5
	}
	g.mu.Lock()
	g.depth = depth
	g.mu.Unlock()
}

func (g *Generator) Enable() {
	g.mu.Lock()
	g.enabled = true
	g.mu.Unlock()
}

func (g *Generator) Disable() {
	g.mu.Lock()
	g.enabled = false
	g.mu.Unlock()
}

// Shutdown stops accepting new work and waits for in-flight
// generations to drain.
func (g *Generator) Shutdown() {
	g.mu.Lock()
	g.stopped = true
	g.cond.Broadcast()
	g.mu.Unlock()
	g.wg.Wait()
}
