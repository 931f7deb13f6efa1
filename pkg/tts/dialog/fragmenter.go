// Package dialog implements turn-taking and text fragmentation for
// streamed speech (spec.md §4.5): an initial low-latency fragment,
// sentence-boundary splitting with natural pauses, and a per-turn
// state machine supporting interruption.
package dialog

import (
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// TurnState is the lifecycle of one dialog turn.
type TurnState string

const (
	StateIdle        TurnState = "idle"
	StateSpeaking     TurnState = "speaking"
	StateListening    TurnState = "listening"
	StateProcessing   TurnState = "processing"
	StateInterrupted  TurnState = "interrupted"
)

// defaultPunctuationPauseMs maps a sentence's trailing punctuation to
// its natural pause duration in milliseconds (spec.md §4.5).
var defaultPunctuationPauseMs = map[rune]int{
	',': 150,
	'.': 300,
	';': 200,
	':': 200,
	'?': 350,
	'!': 350,
	'…': 400,
}

var (
	sentenceSplitRE    = regexp.MustCompile(`(?s)(?:[.!?])\s+`)
	initialBreakRE     = regexp.MustCompile(`^([^.!?;:]+[,.!?;:])`)
	longFragmentSplitRE = regexp.MustCompile(`(?:[,;:])\s+`)
)

// Config tunes fragment sizing and pausing, named after the Python
// dialog manager's constructor parameters.
type Config struct {
	MinFragmentSize       int
	InterSentencePauseMs  int
	InitialFragmentLength int
	EndOfTurnPauseMs      int
	MaxFragmentSize       int
	PunctuationPauseMs    map[rune]int
}

// DefaultConfig returns the values the original dialog manager uses
// when its caller doesn't override them.
func DefaultConfig() Config {
	return Config{
		MinFragmentSize:       5,
		InterSentencePauseMs:  300,
		InitialFragmentLength: 15,
		EndOfTurnPauseMs:      800,
		MaxFragmentSize:       100,
		PunctuationPauseMs:    defaultPunctuationPauseMs,
	}
}

// Fragment is one piece of text to synthesize, with the pause to
// apply after speaking it and whether it is the turn's last fragment.
type Fragment struct {
	Text            string
	PauseAfter      time.Duration
	Index           int
	IsLastFragment  bool
}

// Fragmenter splits turn text into fragments and tracks turn state.
type Fragmenter struct {
	cfg Config

	mu    sync.Mutex
	state TurnState
}

func New(cfg Config) *Fragmenter {
	if cfg.PunctuationPauseMs == nil {
		cfg.PunctuationPauseMs = defaultPunctuationPauseMs
	}
	return &Fragmenter{cfg: cfg, state: StateIdle}
}

// State returns the fragmenter's current turn state.
func (f *Fragmenter) State() TurnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// StartListening transitions to StateListening.
func (f *Fragmenter) StartListening() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateListening
}

// StartProcessing transitions to StateProcessing.
func (f *Fragmenter) StartProcessing() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateProcessing
}

// Interrupt transitions a speaking turn to StateInterrupted, reporting
// whether the turn was actually interrupted (it must have been
// speaking).
func (f *Fragmenter) Interrupt() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateSpeaking {
		f.state = StateInterrupted
		return true
	}
	return false
}

// EndTurn marks the end of a turn's emission phase, returning to
// StateIdle. A concurrent Interrupt() that already moved the state to
// StateInterrupted is left alone so callers can still observe that the
// turn was cut short, until the next ProcessText call starts the next
// turn.
func (f *Fragmenter) EndTurn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateSpeaking {
		f.state = StateIdle
	}
}

// ProcessText fragments text for streaming synthesis, returning
// fragments in order with their pause durations. urgency in [0,1]
// scales pauses down for time-sensitive turns.
func (f *Fragmenter) ProcessText(text string, urgency float64) []Fragment {
	if text == "" {
		return nil
	}

	f.mu.Lock()
	f.state = StateSpeaking
	f.mu.Unlock()

	var fragments []Fragment
	remaining := text

	if len(text) > f.cfg.InitialFragmentLength && urgency < 0.8 {
		if initial := f.initialFragment(text); initial != "" {
			rest := strings.TrimLeft(strings.TrimPrefix(remaining, initial), " \t\n")
			if rest != "" {
				fragments = append(fragments, Fragment{Text: initial, PauseAfter: 0})
				remaining = rest
			}
		}
	}

	sentences := f.tokenizeSentences(remaining)
	for i, sentence := range sentences {
		trimmed := strings.TrimSpace(sentence)
		if trimmed == "" {
			continue
		}

		pauseMs := 0
		if i < len(sentences)-1 {
			pauseMs = f.cfg.InterSentencePauseMs
		} else {
			pauseMs = f.cfg.EndOfTurnPauseMs
		}

		last, _ := utf8.DecodeLastRuneInString(trimmed)
		if p, ok := f.cfg.PunctuationPauseMs[last]; ok && p > pauseMs {
			pauseMs = p
		}
		if urgency > 0 {
			pauseMs = int(float64(pauseMs) * (1 - urgency))
		}

		if len(trimmed) > f.cfg.MaxFragmentSize {
			parts := f.splitLongSentence(trimmed)
			for j, part := range parts {
				p := pauseMs
				if j != len(parts)-1 {
					p = f.cfg.PunctuationPauseMs[',']
					if urgency > 0 {
						p = int(float64(p) * (1 - urgency))
					}
				}
				fragments = append(fragments, Fragment{Text: part, PauseAfter: time.Duration(p) * time.Millisecond})
			}
			continue
		}

		fragments = append(fragments, Fragment{Text: trimmed, PauseAfter: time.Duration(pauseMs) * time.Millisecond})
	}

	for i := range fragments {
		fragments[i].Index = i
	}
	if len(fragments) > 0 {
		fragments[len(fragments)-1].IsLastFragment = true
	}

	// The turn stays StateSpeaking across the emission phase that
	// follows (the facade's fragment-by-fragment streaming loop), so an
	// Interrupt() call during that loop has a Speaking state to move out
	// of. The caller transitions back to StateIdle via EndTurn once
	// emission finishes.
	return fragments
}

// initialFragment extracts a short lead-in fragment so the first
// audio chunk can start synthesizing before the rest of the turn is
// tokenized (spec.md §4.5 "fast first response").
func (f *Fragmenter) initialFragment(text string) string {
	if m := initialBreakRE.FindStringSubmatch(text); m != nil && len(m[1]) >= f.cfg.MinFragmentSize {
		return m[1]
	}

	target := len(text)
	if t := f.cfg.InitialFragmentLength; t > target {
		// text shorter than target: nothing to trim to
	} else if t > 30 {
		target = t
	} else {
		target = 30
	}
	if target > len(text) {
		target = len(text)
	}

	for i := target; i > f.cfg.MinFragmentSize; i-- {
		if i < len(text) && text[i] == ' ' {
			return text[:i]
		}
	}

	if len(text) <= f.cfg.InitialFragmentLength {
		return ""
	}
	return text[:f.cfg.InitialFragmentLength]
}

// tokenizeSentences splits on sentence-final punctuation. The spec's
// regex fallback is used as the primary algorithm: no pack dependency
// ships an NLP sentence tokenizer.
func (f *Fragmenter) tokenizeSentences(text string) []string {
	if text == "" {
		return nil
	}
	raw := sentenceSplitRE.Split(text, -1)
	matches := sentenceSplitRE.FindAllString(text, -1)

	out := make([]string, 0, len(raw))
	for i, part := range raw {
		sentence := part
		if i < len(matches) {
			sentence += strings.TrimRight(matches[i], " \t\n")
		}
		if s := strings.TrimSpace(sentence); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (f *Fragmenter) splitLongSentence(sentence string) []string {
	parts := longFragmentSplitRE.Split(sentence, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{sentence}
	}
	return out
}
