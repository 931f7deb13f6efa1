package predictive

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/cache"
)

func countingGenerator() (GenerateFunc, *int32) {
	var calls int32
	fn := func(ctx context.Context, phrase, providerType, voiceID string, speed float64, params map[string]string) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("audio:" + phrase), nil
	}
	return fn, &calls
}

func welcomeFlow() *Flow {
	flow := NewFlow("Welcome Flow", "greets and branches left/right")
	flow.EntryPoint = "s0"
	flow.AddStep(&Step{ID: "s0", Phrases: []string{"welcome"}, Transitions: map[string]string{"left": "s1", "right": "s2"}})
	flow.AddStep(&Step{ID: "s1", Phrases: []string{"left"}})
	flow.AddStep(&Step{ID: "s2", Phrases: []string{"right"}})
	return flow
}

func TestStartCall_S6_PopulatesCacheWithinDepth(t *testing.T) {
	c := cache.New(cache.NewMemory(100, time.Minute))
	gen, calls := countingGenerator()
	cfg := DefaultConfig()
	cfg.PredictionDepth = 1
	g := New(c, gen, cfg)
	defer g.Shutdown()

	flowID := g.RegisterFlow(welcomeFlow())
	if !g.StartCall("call-1", flowID) {
		t.Fatalf("expected start_call to succeed")
	}

	for _, phrase := range []string{"welcome", "left", "right"} {
		if !waitForCacheEntry(t, c, phrase) {
			t.Fatalf("expected %q to be cached within bounded time", phrase)
		}
	}

	if atomic.LoadInt32(calls) < 3 {
		t.Fatalf("expected the generator to have been invoked for all 3 phrases, got %d calls", *calls)
	}

	// A second predict pass must not regenerate what's already cached.
	before := atomic.LoadInt32(calls)
	g.PredictNextPhrases("call-1")
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(calls) != before {
		t.Fatalf("expected cached phrases to be skipped on re-prediction, calls went from %d to %d", before, atomic.LoadInt32(calls))
	}
}

func waitForCacheEntry(t *testing.T, c *cache.Cache, phrase string) bool {
	t.Helper()
	key := cache.NewKey(phrase, "default", "default", 1.0, nil)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := c.Get(context.Background(), key); ok {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestPredictAhead_DepthZeroOnlyQueuesCurrentStep(t *testing.T) {
	c := cache.New(cache.NewMemory(100, time.Minute))
	gen, calls := countingGenerator()
	cfg := DefaultConfig()
	cfg.PredictionDepth = 0
	g := New(c, gen, cfg)
	defer g.Shutdown()

	flowID := g.RegisterFlow(welcomeFlow())
	g.StartCall("call-depth0", flowID)

	if !waitForCacheEntry(t, c, "welcome") {
		t.Fatalf("expected welcome to be cached")
	}
	time.Sleep(100 * time.Millisecond)
	if _, ok := c.Get(context.Background(), cache.NewKey("left", "default", "default", 1.0, nil)); ok {
		t.Fatalf("expected depth-0 prediction to not reach step s1")
	}
	_ = calls
}

func TestUpdateCallStep_RePredictsFromNewPosition(t *testing.T) {
	c := cache.New(cache.NewMemory(100, time.Minute))
	gen, _ := countingGenerator()
	cfg := DefaultConfig()
	cfg.PredictionDepth = 1
	g := New(c, gen, cfg)
	defer g.Shutdown()

	flowID := g.RegisterFlow(welcomeFlow())
	g.StartCall("call-2", flowID)
	waitForCacheEntry(t, c, "welcome")

	if !g.UpdateCallStep("call-2", "s1") {
		t.Fatalf("expected update_call_step to succeed for a valid step")
	}
	if !waitForCacheEntry(t, c, "left") {
		t.Fatalf("expected left to be cached after moving to s1")
	}
}

func TestEndCall_StopsFurtherPrediction(t *testing.T) {
	c := cache.New(cache.NewMemory(100, time.Minute))
	gen, _ := countingGenerator()
	g := New(c, gen, DefaultConfig())
	defer g.Shutdown()

	flowID := g.RegisterFlow(welcomeFlow())
	g.StartCall("call-3", flowID)
	g.EndCall("call-3")

	if g.PredictNextPhrases("call-3") != nil {
		t.Fatalf("expected no predictions for an ended call")
	}
}

func TestDisable_SuppressesPrediction(t *testing.T) {
	c := cache.New(cache.NewMemory(100, time.Minute))
	gen, calls := countingGenerator()
	g := New(c, gen, DefaultConfig())
	defer g.Shutdown()
	g.Disable()

	flowID := g.RegisterFlow(welcomeFlow())
	g.StartCall("call-4", flowID)

	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(calls) != 0 {
		t.Fatalf("expected disabled generator to never invoke the generate func, got %d calls", *calls)
	}
}

func TestStats_TracksSuccessfulPredictions(t *testing.T) {
	c := cache.New(cache.NewMemory(100, time.Minute))
	gen, _ := countingGenerator()
	g := New(c, gen, DefaultConfig())
	defer g.Shutdown()

	flowID := g.RegisterFlow(welcomeFlow())
	g.StartCall("call-5", flowID)
	waitForCacheEntry(t, c, "welcome")
	waitForCacheEntry(t, c, "left")
	waitForCacheEntry(t, c, "right")

	stats := g.Stats()
	if stats.SuccessfulPredictions < 3 {
		t.Fatalf("expected at least 3 successful predictions, got %+v", stats)
	}
}

func TestConcurrentCallsDoNotRace(t *testing.T) {
	c := cache.New(cache.NewMemory(100, time.Minute))
	gen, _ := countingGenerator()
	g := New(c, gen, DefaultConfig())
	defer g.Shutdown()

	flowID := g.RegisterFlow(welcomeFlow())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			callID := "call-concurrent-" + string(rune('a'+i))
			g.StartCall(callID, flowID)
			g.EndCall(callID)
		}(i)
	}
	wg.Wait()
}
