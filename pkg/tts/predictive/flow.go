// Package predictive generates audio ahead of need by walking a call's
// flow graph and warming the cache with the phrases most likely to be
// spoken next (spec.md §4.8). It composes the cache (C1/C2) and a
// provider-shaped generator function; it does not know about pools or
// the facade above it.
package predictive

// Flow describes the branching structure of a scripted call: a set of
// steps reachable from an entry point, each carrying the phrases a
// step would speak and the conditions that move to the next step.
type Flow struct {
	Name        string
	Description string
	Steps       map[string]*Step
	EntryPoint  string
}

// Step is one node in a Flow.
type Step struct {
	ID          string
	Phrases     []string
	Transitions map[string]string // condition -> next step ID
	Metadata    map[string]any
}

// NewFlow builds an empty flow whose EntryPoint is "start", matching the
// scripted-flow convention; callers may reassign EntryPoint.
func NewFlow(name, description string) *Flow {
	entry := "start"
	return &Flow{
		Name:        name,
		Description: description,
		Steps:       make(map[string]*Step),
		EntryPoint:  entry,
	}
}

func (f *Flow) AddStep(s *Step) {
	f.Steps[s.ID] = s
}

func (f *Flow) GetStep(id string) (*Step, bool) {
	s, ok := f.Steps[id]
	return s, ok
}

func (f *Flow) EntryStep() (*Step, bool) {
	return f.GetStep(f.EntryPoint)
}

// NextStepID resolves a transition by condition, falling back to the
// step's "default" transition when condition has no explicit entry.
func (s *Step) NextStepID(condition string) (string, bool) {
	if id, ok := s.Transitions[condition]; ok {
		return id, true
	}
	id, ok := s.Transitions["default"]
	return id, ok
}

// AllPossibleNextSteps returns every step ID this step could transition
// to, deduplicated, for use by the prediction walk which must consider
// every branch rather than just the default one.
func (s *Step) AllPossibleNextSteps() []string {
	seen := make(map[string]bool, len(s.Transitions))
	out := make([]string, 0, len(s.Transitions))
	for _, id := range s.Transitions {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// callStateHistoryLimit bounds CallState.History so a long-running
// call doesn't grow the slice without bound.
const callStateHistoryLimit = 32

// CallState tracks one in-progress call's position within a Flow.
type CallState struct {
	CallID        string
	FlowID        string
	CurrentStepID string
	History       []string
	Metadata      map[string]any
}

// UpdateStep records the current step into history (bounded to the
// last callStateHistoryLimit entries) before moving to newStepID.
func (cs *CallState) UpdateStep(newStepID string) {
	cs.History = append(cs.History, cs.CurrentStepID)
	if len(cs.History) > callStateHistoryLimit {
		cs.History = cs.History[len(cs.History)-callStateHistoryLimit:]
	}
	cs.CurrentStepID = newStepID
}
