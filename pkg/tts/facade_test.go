package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/cache"
	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/dialog"
	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/fallback"
	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/provider"
)

type fakeProvider struct {
	name       string
	calls      int
	failNext   int
	health     provider.Health
	streamable bool
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Capabilities() map[provider.Capability]bool {
	caps := map[provider.Capability]bool{provider.CapBatch: true}
	if f.streamable {
		caps[provider.CapStream] = true
	}
	return caps
}
func (f *fakeProvider) Synthesize(ctx context.Context, text, voice string, speed float64, extras map[string]string) ([]byte, error) {
	f.calls++
	if f.failNext > 0 {
		f.failNext--
		return nil, errors.New("synth failed")
	}
	return []byte(fmt.Sprintf("%s:%s:%s", f.name, voice, text)), nil
}
func (f *fakeProvider) ListVoices(ctx context.Context) ([]provider.Voice, error) { return nil, nil }
func (f *fakeProvider) HasVoice(id string) bool                                 { return true }
func (f *fakeProvider) HealthCheck(ctx context.Context) (provider.Health, error) {
	return f.health, nil
}
func (f *fakeProvider) CacheAffectingParams() []string { return nil }

func (f *fakeProvider) SynthesizeStream(ctx context.Context, text, voice string, speed float64, onChunk func([]byte) error) error {
	f.calls++
	if f.failNext > 0 {
		f.failNext--
		return errors.New("stream failed")
	}
	return onChunk([]byte(text))
}

var _ provider.StreamingProvider = (*fakeProvider)(nil)

func newTestFacade(t *testing.T, providers map[string]provider.Provider, defaultName string) *Facade {
	t.Helper()
	f, err := New(Config{
		Providers:       providers,
		DefaultProvider: defaultName,
		Cache:           cache.New(cache.NewMemory(100, time.Minute)),
	})
	if err != nil {
		t.Fatalf("unexpected error constructing facade: %v", err)
	}
	return f
}

func TestSynthesize_CacheHitAvoidsProviderCall(t *testing.T) {
	p := &fakeProvider{name: "p1", health: provider.Health{Status: provider.HealthOK}}
	f := newTestFacade(t, map[string]provider.Provider{"p1": p}, "p1")

	audio1, err := f.Synthesize(context.Background(), CallContext{CallID: "c1"}, "hello", "voiceA", 1.0, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	audio2, err := f.Synthesize(context.Background(), CallContext{CallID: "c1"}, "hello", "voiceA", 1.0, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio1) != string(audio2) {
		t.Fatalf("expected identical audio from cache hit")
	}
	if p.calls != 1 {
		t.Fatalf("expected exactly one provider call (second served from cache), got %d", p.calls)
	}
}

func TestSynthesize_FallsBackOnProviderError(t *testing.T) {
	primary := &fakeProvider{name: "primary", failNext: 10, health: provider.Health{Status: provider.HealthError}}
	secondary := &fakeProvider{name: "secondary", health: provider.Health{Status: provider.HealthOK}}

	fb := fallback.New(fallback.Config{
		PrimaryProvider:     "primary",
		FallbackProviders:   []string{"secondary"},
		HealthCheckInterval: time.Hour,
		MaxFailures:         1,
		RecoveryBackoffBase: time.Millisecond,
	}, map[string]provider.Provider{"primary": primary, "secondary": secondary})
	defer fb.Stop()

	f, err := New(Config{
		Providers:       map[string]provider.Provider{"primary": primary, "secondary": secondary},
		DefaultProvider: "primary",
		Fallback:        fb,
		Cache:           cache.New(cache.NewMemory(100, time.Minute)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	audio, err := f.Synthesize(context.Background(), CallContext{}, "hi", "", 1.0, false)
	if err != nil {
		t.Fatalf("expected fallback synthesis to succeed, got %v", err)
	}
	if got := string(audio); got == "" {
		t.Fatalf("expected non-empty audio from fallback provider")
	}
}

func TestSynthesizeStream_RequiresStreamingProvider(t *testing.T) {
	p := &fakeProvider{name: "p1", streamable: false}
	f := newTestFacade(t, map[string]provider.Provider{"p1": p}, "p1")

	err := f.SynthesizeStream(context.Background(), CallContext{}, "hi", "", 1.0, func([]byte) error { return nil })
	if err == nil {
		t.Fatalf("expected an error when no streaming-capable provider is registered")
	}
}

func TestSynthesizeStream_YieldsChunks(t *testing.T) {
	p := &fakeProvider{name: "p1", streamable: true}
	f := newTestFacade(t, map[string]provider.Provider{"p1": p}, "p1")

	var got []byte
	err := f.SynthesizeStream(context.Background(), CallContext{}, "hi", "", 1.0, func(b []byte) error {
		got = append(got, b...)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "hi" {
		t.Fatalf("expected streamed chunk %q, got %q", "hi", got)
	}
}

func TestSynthesizeDialogStream_S2_EmitsFragmentsInOrderWithPauses(t *testing.T) {
	p := &fakeProvider{name: "p1", streamable: true, health: provider.Health{Status: provider.HealthOK}}
	f, err := New(Config{
		Providers:       map[string]provider.Provider{"p1": p},
		DefaultProvider: "p1",
		Cache:           cache.New(cache.NewMemory(100, time.Minute)),
		Fragmenter:      dialog.DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var chunks []string
	err = f.SynthesizeDialogStream(context.Background(), CallContext{CallID: "call-1"}, "Hello there. How are you?", "", 1.0, 0.5, func(b []byte) error {
		chunks = append(chunks, string(b))
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 1 {
		t.Fatalf("expected at least one fragment emitted")
	}
}

func TestSynthesizeDialogStream_InterruptStopsRemainingFragments(t *testing.T) {
	p := &fakeProvider{name: "p1", health: provider.Health{Status: provider.HealthOK}}
	f := newTestFacade(t, map[string]provider.Provider{"p1": p}, "p1")

	callID := "call-1"
	fr := f.fragmenterFor(callID)

	var mu sync.Mutex
	var chunks []string
	done := make(chan error, 1)

	go func() {
		done <- f.SynthesizeDialogStream(context.Background(), CallContext{CallID: callID},
			"First sentence here. Second sentence here. Third sentence here.", "", 1.0, 0,
			func(b []byte) error {
				mu.Lock()
				chunks = append(chunks, string(b))
				n := len(chunks)
				mu.Unlock()
				if n == 1 {
					// Interrupt once the first fragment has been emitted;
					// the loop's next iteration must not emit another.
					fr.Interrupt()
				}
				return nil
			})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("SynthesizeDialogStream did not return in time")
	}

	mu.Lock()
	got := len(chunks)
	mu.Unlock()
	if got != 1 {
		t.Fatalf("expected emission to stop right after interrupt, got %d chunks: %v", got, chunks)
	}
	if fr.State() != dialog.StateInterrupted {
		t.Fatalf("expected fragmenter state to remain interrupted after the turn ends, got %v", fr.State())
	}
}

func TestChangeProvider_SwapsCurrent(t *testing.T) {
	p1 := &fakeProvider{name: "p1", health: provider.Health{Status: provider.HealthOK}}
	p2 := &fakeProvider{name: "p2", health: provider.Health{Status: provider.HealthOK}}
	f := newTestFacade(t, map[string]provider.Provider{"p1": p1, "p2": p2}, "p1")

	if !f.ChangeProvider(context.Background(), "p2") {
		t.Fatalf("expected change_provider to succeed for a registered provider")
	}
	cur, err := f.currentProvider()
	if err != nil || cur.Name() != "p2" {
		t.Fatalf("expected current provider to be p2, got %v (err=%v)", cur, err)
	}

	if f.ChangeProvider(context.Background(), "unknown") {
		t.Fatalf("expected change_provider to fail for an unregistered provider")
	}
}

func TestChangeProvider_WithFallbackController_SelectsNonPrimary(t *testing.T) {
	p1 := &fakeProvider{name: "p1", health: provider.Health{Status: provider.HealthOK}}
	p2 := &fakeProvider{name: "p2", health: provider.Health{Status: provider.HealthOK}}
	p3 := &fakeProvider{name: "p3", health: provider.Health{Status: provider.HealthOK}}
	providers := map[string]provider.Provider{"p1": p1, "p2": p2, "p3": p3}

	fb := fallback.New(fallback.Config{
		PrimaryProvider:   "p1",
		FallbackProviders: []string{"p2", "p3"},
		MaxFailures:       3,
	}, providers)

	f, err := New(Config{
		Providers:       providers,
		DefaultProvider: "p1",
		Cache:           cache.New(cache.NewMemory(100, time.Minute)),
		Fallback:        fb,
	})
	if err != nil {
		t.Fatalf("unexpected error constructing facade: %v", err)
	}

	// Switching to a non-primary provider must actually move the
	// controller's active provider there, not revert to primary.
	if !f.ChangeProvider(context.Background(), "p3") {
		t.Fatalf("expected change_provider to p3 to succeed")
	}
	cur, err := f.currentProvider()
	if err != nil || cur.Name() != "p3" {
		t.Fatalf("expected current provider to be p3, got %v (err=%v)", cur, err)
	}

	// Switching back to the primary goes through ResetToPrimary.
	if !f.ChangeProvider(context.Background(), "p1") {
		t.Fatalf("expected change_provider to p1 to succeed")
	}
	cur, err = f.currentProvider()
	if err != nil || cur.Name() != "p1" {
		t.Fatalf("expected current provider to be p1, got %v (err=%v)", cur, err)
	}
}

func TestHealth_AggregatesProvidersAndCache(t *testing.T) {
	p := &fakeProvider{name: "p1", health: provider.Health{Status: provider.HealthOK}}
	f := newTestFacade(t, map[string]provider.Provider{"p1": p}, "p1")

	h := f.Health(context.Background())
	if h.CurrentProvider != "p1" {
		t.Fatalf("expected current_provider p1, got %s", h.CurrentProvider)
	}
	if h.Providers["p1"].Status != provider.HealthOK {
		t.Fatalf("expected p1 health OK, got %+v", h.Providers["p1"])
	}
}

func TestClearCache_EmptiesMemoryTier(t *testing.T) {
	p := &fakeProvider{name: "p1"}
	f := newTestFacade(t, map[string]provider.Provider{"p1": p}, "p1")

	f.Synthesize(context.Background(), CallContext{}, "hello", "", 1.0, true)
	f.ClearCache()

	// A second synthesize must re-invoke the provider since the cache
	// was cleared.
	before := p.calls
	f.Synthesize(context.Background(), CallContext{}, "hello", "", 1.0, true)
	if p.calls != before+1 {
		t.Fatalf("expected clear_cache to force a fresh provider call, calls stayed at %d", p.calls)
	}
}
