// Package tts is the facade over the TTS engine (spec.md §4.9): it
// composes the provider registry, fallback controller, provider pool,
// multi-tier cache, dialog fragmenter, carrier streamer, and predictive
// generator behind the small public operation surface the call state
// machine actually drives (synthesize*, change_provider, health).
package tts

import (
	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/cache"
	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/carrier"
	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/dialog"
	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/fallback"
	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/pool"
	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/predictive"
	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/provider"
)

// CallContext carries call identity through a facade operation without
// resorting to process-wide mutable state (spec.md §9 "ambient per-call
// context" resolution). The zero value (CallID "") is valid for
// operations outside any particular call.
type CallContext struct {
	CallID string
	TurnID string
}

// VoiceMap resolves a caller-facing voice ID to the concrete voice a
// given provider expects. An entry absent for a provider passes the
// voice ID through unchanged (spec.md §4.9).
type VoiceMap map[string]map[string]string

// Resolve maps voiceID for providerName, passing it through unchanged
// if no mapping is registered.
func (vm VoiceMap) Resolve(voiceID, providerName string) string {
	if voiceID == "" {
		return ""
	}
	byProvider, ok := vm[voiceID]
	if !ok {
		return voiceID
	}
	concrete, ok := byProvider[providerName]
	if !ok {
		return voiceID
	}
	return concrete
}

// Config assembles a Facade from its already-constructed components.
// Each field is optional except Providers/DefaultProvider; a nil
// component disables the feature it backs. Pool and Predictive are
// stored on the Facade, but no Facade operation uses them.
type Config struct {
	Providers       map[string]provider.Provider
	DefaultProvider string
	VoiceMap        VoiceMap

	Cache       *cache.Cache
	Fallback    *fallback.Controller
	Pool        *pool.Manager
	Carrier     *carrier.Manager
	Predictive  *predictive.Generator
	Fragmenter  dialog.Config
}

// Health aggregates the facade's dependency health for operational
// visibility (spec.md §4.9 health()).
type Health struct {
	CurrentProvider string
	Providers       map[string]provider.Health
	Cache           cache.Stats
	Fallback        *fallback.Stats
}
