package tts

import (
	"context"

	"github.com/lokutor-ai/lokutor-tts-engine/pkg/orchestrator"
	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/provider"
)

// OrchestratorAdapter satisfies orchestrator.TTSProvider by delegating
// to a Facade, the same role the teacher's bare provider clients played
// directly before this engine grew a fallback/cache/pool stack in
// front of them. The orchestrator's TTSProvider contract has no notion
// of call identity, so every call goes through with an empty
// CallContext; callers that need per-call metrics or pacing should use
// the Facade directly instead of this adapter.
type OrchestratorAdapter struct {
	facade *Facade
}

func NewOrchestratorAdapter(f *Facade) *OrchestratorAdapter {
	return &OrchestratorAdapter{facade: f}
}

func (a *OrchestratorAdapter) Synthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language) ([]byte, error) {
	return a.facade.Synthesize(ctx, CallContext{}, text, string(voice), 1.0, true)
}

func (a *OrchestratorAdapter) StreamSynthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language, onChunk func([]byte) error) error {
	return a.facade.SynthesizeStream(ctx, CallContext{}, text, string(voice), 1.0, onChunk)
}

// Abort cancels in-flight synthesis on the current provider, if it
// supports out-of-band cancellation (spec.md §4.1 Aborter).
func (a *OrchestratorAdapter) Abort() error {
	p, err := a.facade.currentProvider()
	if err != nil {
		return err
	}
	if ab, ok := p.(provider.Aborter); ok {
		return ab.Abort()
	}
	return nil
}

func (a *OrchestratorAdapter) Name() string {
	p, err := a.facade.currentProvider()
	if err != nil {
		return "tts-facade"
	}
	return p.Name()
}

var _ orchestrator.TTSProvider = (*OrchestratorAdapter)(nil)
