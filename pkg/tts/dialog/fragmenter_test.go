package dialog

import (
	"testing"
	"time"
)

func TestProcessText_S2_SentenceBoundaries(t *testing.T) {
	f := New(DefaultConfig())
	fragments := f.ProcessText("This is sentence one. This is sentence two! Is this three?", 0)

	if len(fragments) == 0 {
		t.Fatalf("expected at least one fragment")
	}
	if !fragments[len(fragments)-1].IsLastFragment {
		t.Fatalf("expected last fragment flagged")
	}
	for i, frag := range fragments {
		if frag.Index != i {
			t.Fatalf("expected sequential indices, got %d at position %d", frag.Index, i)
		}
	}

	// Pin the literal fragment/pause split this input produces: an
	// initial lead-in fragment (pause 0) taken up to the first sentence
	// break, then one fragment per remaining sentence, each paused by
	// max(inter_sentence/end_of_turn, that sentence's punctuation pause).
	want := []Fragment{
		{Text: "This is sentence one.", PauseAfter: 0},
		{Text: "This is sentence two!", PauseAfter: 350 * time.Millisecond},
		{Text: "Is this three?", PauseAfter: 800 * time.Millisecond, IsLastFragment: true},
	}
	if len(fragments) != len(want) {
		t.Fatalf("expected %d fragments, got %d: %+v", len(want), len(fragments), fragments)
	}
	for i, w := range want {
		got := fragments[i]
		if got.Text != w.Text || got.PauseAfter != w.PauseAfter || got.IsLastFragment != w.IsLastFragment {
			t.Fatalf("fragment %d: expected %+v, got %+v", i, w, got)
		}
	}
}

func TestProcessText_UrgencyScalesPauses(t *testing.T) {
	f := New(DefaultConfig())
	calm := f.ProcessText("A short sentence here.", 0)
	urgent := f.ProcessText("A short sentence here.", 0.9)

	if len(calm) == 0 || len(urgent) == 0 {
		t.Fatalf("expected fragments from both runs")
	}
	if urgent[len(urgent)-1].PauseAfter >= calm[len(calm)-1].PauseAfter {
		t.Fatalf("expected urgency to reduce the end-of-turn pause")
	}
}

func TestProcessText_EmptyInput(t *testing.T) {
	f := New(DefaultConfig())
	if got := f.ProcessText("", 0); got != nil {
		t.Fatalf("expected nil fragments for empty text, got %v", got)
	}
}

func TestInterrupt_OnlyWhileSpeaking(t *testing.T) {
	f := New(DefaultConfig())
	if f.Interrupt() {
		t.Fatalf("expected interrupt to fail while idle")
	}

	f.mu.Lock()
	f.state = StateSpeaking
	f.mu.Unlock()

	if !f.Interrupt() {
		t.Fatalf("expected interrupt to succeed while speaking")
	}
	if f.State() != StateInterrupted {
		t.Fatalf("expected state to become interrupted")
	}
}

func TestPunctuationPause_QuestionMarkLongerThanPeriod(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialFragmentLength = 1000 // no lead-in fragment
	f := New(cfg)
	fragments := f.ProcessText("Really? Done. Fine.", 0)
	if len(fragments) < 2 {
		t.Fatalf("expected at least 2 fragments")
	}
	// Both leading sentences get the 300ms inter-sentence pause raised to
	// their punctuation pause: '?' gives 350ms, '.' stays at 300ms.
	if fragments[0].PauseAfter <= fragments[1].PauseAfter {
		t.Fatalf("expected question-mark pause to be longer than period pause")
	}
}
