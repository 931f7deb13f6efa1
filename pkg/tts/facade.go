package tts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/cache"
	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/carrier"
	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/dialog"
	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/fallback"
	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/pool"
	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/predictive"
	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/provider"
	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/ttserr"
)

// Facade is the TTS engine's public entry point (spec.md §4.9),
// composing the provider registry, fallback controller, provider pool,
// cache, dialog fragmenter, carrier streamer, and predictive generator
// behind the handful of operations the call state machine actually
// drives.
type Facade struct {
	providers   map[string]provider.Provider
	voiceMap    VoiceMap
	fragmentCfg dialog.Config

	fb       *fallback.Controller
	cache    *cache.Cache
	poolMgr  *pool.Manager
	carr     *carrier.Manager
	predict  *predictive.Generator

	mu          sync.RWMutex
	currentName string

	fragMu     sync.Mutex
	fragmenters map[string]*dialog.Fragmenter

	subMu       sync.RWMutex
	subscribers []chan Event
}

// New assembles a Facade from cfg. Providers and DefaultProvider are
// required; every other component is optional and, left nil, simply
// disables the feature it backs.
func New(cfg Config) (*Facade, error) {
	if len(cfg.Providers) == 0 {
		return nil, ttserr.NewError(ttserr.KindConfigError, "tts.New", fmt.Errorf("no providers configured"))
	}
	if _, ok := cfg.Providers[cfg.DefaultProvider]; !ok {
		return nil, ttserr.NewError(ttserr.KindConfigError, "tts.New", fmt.Errorf("default_provider %q not present in providers", cfg.DefaultProvider))
	}

	fragmentCfg := cfg.Fragmenter
	if fragmentCfg.MinFragmentSize == 0 && fragmentCfg.MaxFragmentSize == 0 {
		fragmentCfg = dialog.DefaultConfig()
	}

	f := &Facade{
		providers:   cfg.Providers,
		voiceMap:    cfg.VoiceMap,
		fragmentCfg: fragmentCfg,
		fb:          cfg.Fallback,
		cache:       cfg.Cache,
		poolMgr:     cfg.Pool,
		carr:        cfg.Carrier,
		predict:     cfg.Predictive,
		currentName: cfg.DefaultProvider,
		fragmenters: make(map[string]*dialog.Fragmenter),
	}
	return f, nil
}

// currentProvider resolves the provider a plain call should use: the
// fallback controller's notion of "current" when one is configured,
// else the facade's own currentName.
func (f *Facade) currentProvider() (provider.Provider, error) {
	if f.fb != nil {
		return f.fb.Current()
	}
	f.mu.RLock()
	name := f.currentName
	f.mu.RUnlock()
	p, ok := f.providers[name]
	if !ok {
		return nil, ttserr.NewError(ttserr.KindConfigError, "currentProvider", fmt.Errorf("no provider registered as %q", name))
	}
	return p, nil
}

func (f *Facade) providerNamed(name string) (provider.Provider, bool) {
	p, ok := f.providers[name]
	return p, ok
}

// Synthesize returns complete audio for text (spec.md §4.9). On a
// provider error it attempts one fallback and retries before
// propagating failure.
func (f *Facade) Synthesize(ctx context.Context, cc CallContext, text, voiceID string, speed float64, useCache bool) ([]byte, error) {
	p, err := f.currentProvider()
	if err != nil {
		return nil, err
	}

	voice := f.voiceMap.Resolve(voiceID, p.Name())
	var key cache.Key
	if useCache && f.cache != nil {
		key = cache.NewKey(text, p.Name(), voice, speed, nil)
		if audio, ok := f.cache.Get(ctx, key); ok {
			return audio, nil
		}
	}

	f.emit(cc.CallID, EventGenerationStart, "", map[string]any{"provider": p.Name(), "text_length": len(text)})
	genStart := time.Now()
	audio, genErr := p.Synthesize(ctx, text, voice, speed, nil)
	if genErr == nil {
		f.emit(cc.CallID, EventGenerationComplete, "", map[string]any{"provider": p.Name(), "duration_sec": time.Since(genStart).Seconds()})
	}
	if genErr != nil {
		if f.fb != nil {
			// TryFallback marks the current provider failed itself; a
			// second explicit MarkProviderFailed here would double-count
			// this failure against max_failures (spec.md §4.3).
			if fp, ok := f.fb.TryFallback(ctx, genErr); ok {
				fvoice := f.voiceMap.Resolve(voiceID, fp.Name())
				audio, genErr = fp.Synthesize(ctx, text, fvoice, speed, nil)
				if genErr == nil {
					p = fp
					voice = fvoice
					if useCache && f.cache != nil {
						key = cache.NewKey(text, p.Name(), voice, speed, nil)
					}
				}
			}
		}
	}
	if genErr != nil {
		f.emit(cc.CallID, EventError, "synthesize failed", map[string]any{"provider": p.Name(), "error": genErr.Error()})
		return nil, wrapProviderErr("Synthesize", genErr)
	}

	if useCache && f.cache != nil {
		_ = f.cache.Set(ctx, key, audio)
	}
	return audio, nil
}

// streamCapableProvider returns p if it already supports streaming,
// otherwise the first registered provider that does.
func (f *Facade) streamCapableProvider(p provider.Provider) (provider.StreamingProvider, bool) {
	if sp, ok := p.(provider.StreamingProvider); ok {
		return sp, true
	}
	for _, cand := range f.providers {
		if sp, ok := cand.(provider.StreamingProvider); ok {
			return sp, true
		}
	}
	return nil, false
}

// SynthesizeStream yields audio chunks as the provider emits them
// (spec.md §4.9). On a mid-stream failure it retries once against a
// fallback streaming-capable provider.
func (f *Facade) SynthesizeStream(ctx context.Context, cc CallContext, text, voiceID string, speed float64, onChunk func([]byte) error) error {
	p, err := f.currentProvider()
	if err != nil {
		return err
	}

	sp, ok := f.streamCapableProvider(p)
	if !ok {
		return ttserr.NewError(ttserr.KindProviderUnavailable, "SynthesizeStream", fmt.Errorf("no streaming-capable provider registered"))
	}

	voice := f.voiceMap.Resolve(voiceID, sp.Name())
	streamErr := sp.SynthesizeStream(ctx, text, voice, speed, onChunk)
	if streamErr == nil {
		return nil
	}

	if f.fb != nil {
		// See Synthesize: TryFallback already marks the current provider
		// failed, so no separate MarkProviderFailed call here either.
		if fp, ok := f.fb.TryFallback(ctx, streamErr); ok {
			if fsp, ok := fp.(provider.StreamingProvider); ok {
				f.emit(cc.CallID, EventFragmentRetried, "streaming failed over to fallback provider", map[string]any{"from": sp.Name(), "to": fsp.Name()})
				fvoice := f.voiceMap.Resolve(voiceID, fsp.Name())
				if err := fsp.SynthesizeStream(ctx, text, fvoice, speed, onChunk); err == nil {
					return nil
				}
			}
		}
	}
	return wrapProviderErr("SynthesizeStream", streamErr)
}

// fragmenterFor returns the per-call Fragmenter, creating one on first
// use. Calls are expected to use a stable CallID across a session so
// the fragmenter's turn state (interruption in particular) persists
// across consecutive dialog turns.
func (f *Facade) fragmenterFor(callID string) *dialog.Fragmenter {
	f.fragMu.Lock()
	defer f.fragMu.Unlock()
	fr, ok := f.fragmenters[callID]
	if !ok {
		fr = dialog.New(f.fragmentCfg)
		f.fragmenters[callID] = fr
	}
	return fr
}

// EndDialog releases the fragmenter tracked for callID. Call this when
// a call ends so the facade doesn't accumulate state for dead calls.
func (f *Facade) EndDialog(callID string) {
	f.fragMu.Lock()
	delete(f.fragmenters, callID)
	f.fragMu.Unlock()
}

// SynthesizeDialogStream runs the dialog fragmenter over text, then
// streams each fragment's audio in order, sleeping the fragment's
// pause_after_ms between fragments (spec.md §4.9). Interruption stops
// emission after the in-progress fragment completes.
func (f *Facade) SynthesizeDialogStream(ctx context.Context, cc CallContext, text, voiceID string, speed, urgency float64, onChunk func([]byte) error) error {
	fr := f.fragmenterFor(cc.CallID)
	fr.StartProcessing()

	f.emit(cc.CallID, EventDialogTurnStart, "dialog turn started", map[string]any{"turn_id": cc.TurnID})

	fragments := fr.ProcessText(text, urgency)
	defer fr.EndTurn()
	start := time.Now()
	firstEmitted := false

	for _, frag := range fragments {
		if fr.State() == dialog.StateInterrupted {
			break
		}

		f.emit(cc.CallID, EventFragmentProcessing, frag.Text, map[string]any{"index": frag.Index})

		audio, err := f.Synthesize(ctx, cc, frag.Text, voiceID, speed, true)
		if err != nil {
			return err
		}
		if err := onChunk(audio); err != nil {
			return err
		}

		if !firstEmitted {
			f.emit(cc.CallID, EventFirstResponseLatency, "", map[string]any{"latency_ms": time.Since(start).Milliseconds()})
			firstEmitted = true
		}

		if frag.PauseAfter > 0 && !frag.IsLastFragment {
			f.emit(cc.CallID, EventDialogPause, "", map[string]any{"pause_ms": frag.PauseAfter.Milliseconds()})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(frag.PauseAfter):
			}
		}
	}

	f.emit(cc.CallID, EventDialogTurnEnd, "dialog turn ended", map[string]any{"turn_id": cc.TurnID})
	return nil
}

// SynthesizeWithStyle synthesizes text using a free-form style
// instruction instead of a concrete voice ID, requiring a provider that
// advertises voice_style (spec.md §4.9). Falls back to a style-capable
// provider, then to plain synthesis, in that order.
func (f *Facade) SynthesizeWithStyle(ctx context.Context, cc CallContext, text, style string, speed float64) ([]byte, error) {
	p, err := f.currentProvider()
	if err == nil && provider.HasCapability(p, provider.CapVoiceStyle) {
		return p.Synthesize(ctx, text, style, speed, nil)
	}

	for _, cand := range f.providers {
		if provider.HasCapability(cand, provider.CapVoiceStyle) {
			return cand.Synthesize(ctx, text, style, speed, nil)
		}
	}

	return f.Synthesize(ctx, cc, text, "", speed, true)
}

// SynthesizeAndUpload synthesizes text then hands the resulting audio
// to the carrier's object-storage adapter (spec.md §4.9); never used
// for real-time streaming.
func (f *Facade) SynthesizeAndUpload(ctx context.Context, cc CallContext, text, voiceID string, speed float64, contentType string) (publicURL, id string, err error) {
	if f.carr == nil {
		return "", "", ttserr.NewError(ttserr.KindConfigError, "SynthesizeAndUpload", fmt.Errorf("no carrier manager configured"))
	}
	audio, err := f.Synthesize(ctx, cc, text, voiceID, speed, true)
	if err != nil {
		return "", "", err
	}
	return f.carr.UploadBlob(ctx, audio, contentType)
}

// ChangeProvider swaps the facade's current provider. If a fallback
// controller is configured and name is its primary, this is routed
// through ResetToPrimary (spec.md §9 "manual operational override");
// for any other name the controller's active provider is moved directly
// via SetCurrent, since ResetToPrimary only ever targets the primary.
func (f *Facade) ChangeProvider(ctx context.Context, name string) bool {
	if _, ok := f.providerNamed(name); !ok {
		return false
	}
	if f.fb != nil {
		if name == f.fb.Primary() {
			_, ok := f.fb.ResetToPrimary(ctx)
			return ok
		}
		return f.fb.SetCurrent(name)
	}
	f.mu.Lock()
	f.currentName = name
	f.mu.Unlock()
	return true
}

// ClearCache empties every cache tier that supports it.
func (f *Facade) ClearCache() {
	if f.cache != nil {
		f.cache.Clear()
	}
}

// Health aggregates provider, cache, and fallback health (spec.md §4.9).
func (f *Facade) Health(ctx context.Context) Health {
	cur, _ := f.currentProvider()
	currentName := ""
	if cur != nil {
		currentName = cur.Name()
	}

	providers := make(map[string]provider.Health, len(f.providers))
	for name, p := range f.providers {
		h, err := p.HealthCheck(ctx)
		if err != nil {
			h = provider.Health{Status: provider.HealthError, Detail: err.Error()}
		}
		providers[name] = h
	}

	h := Health{CurrentProvider: currentName, Providers: providers}
	if f.cache != nil {
		h.Cache = f.cache.Stats()
	}
	if f.fb != nil {
		stats, _ := f.fb.Snapshot()
		h.Fallback = &stats
	}
	return h
}

func wrapProviderErr(op string, err error) error {
	kind := ttserr.KindOf(err)
	if kind == "" {
		kind = ttserr.KindProviderUnavailable
	}
	return ttserr.NewError(kind, op, err)
}
