package tts

import "time"

// EventType names a lifecycle event the facade or its components emit
// for the call quality monitor (C10) to consume.
type EventType string

const (
	EventDialogTurnStart      EventType = "DIALOG_TURN_START"
	EventFragmentProcessing   EventType = "FRAGMENT_PROCESSING"
	EventFirstResponseLatency EventType = "FIRST_RESPONSE_LATENCY"
	EventDialogPause          EventType = "DIALOG_PAUSE"
	EventDialogTurnEnd        EventType = "DIALOG_TURN_END"
	EventGenerationStart      EventType = "GENERATION_START"
	EventGenerationComplete   EventType = "GENERATION_COMPLETE"
	EventFragmentRetried      EventType = "FRAGMENT_RETRIED_WARNING"
	EventInfo                 EventType = "INFO"
	EventError                EventType = "ERROR"
)

// Event is one occurrence on the facade's event bus, carrying the call
// it belongs to so C10 can route it to the right per-call record.
type Event struct {
	Type      EventType
	CallID    string
	Message   string
	Data      map[string]any
	Timestamp time.Time
}

// emit delivers ev to every subscriber without blocking; a subscriber
// whose channel is full silently misses the event rather than stalling
// synthesis (mirrors the teacher's non-blocking OrchestratorEvent send).
func (f *Facade) emit(callID string, typ EventType, message string, data map[string]any) {
	ev := Event{Type: typ, CallID: callID, Message: message, Data: data, Timestamp: time.Now()}

	f.subMu.RLock()
	defer f.subMu.RUnlock()
	for _, ch := range f.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a channel to receive every emitted Event. The
// caller owns draining it; a slow subscriber drops events rather than
// blocking the facade.
func (f *Facade) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	f.subMu.Lock()
	f.subscribers = append(f.subscribers, ch)
	f.subMu.Unlock()
	return ch
}
