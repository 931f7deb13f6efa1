package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts"
)

// Config controls where the monitor persists finished call records.
type Config struct {
	// MetricsDir is the directory dated JSON files are written to.
	// Defaults to "logs/call_metrics" under the working directory,
	// matching the original module's layout.
	MetricsDir string
}

// Monitor is the call quality monitor (C10). It keeps one Record per
// call_id — driven both directly through its control-API methods and,
// via Attach, by subscribing to a Facade's event bus — and persists
// each record to a dated JSON file once the call ends.
type Monitor struct {
	dir string

	mu         sync.RWMutex
	records    map[string]*Record
	historical []Snapshot
}

func New(cfg Config) (*Monitor, error) {
	dir := cfg.MetricsDir
	if dir == "" {
		dir = filepath.Join("logs", "call_metrics")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("metrics: create metrics dir %q: %w", dir, err)
	}
	return &Monitor{dir: dir, records: make(map[string]*Record)}, nil
}

// Attach subscribes to f's event bus and routes every emitted Event
// into the matching call's record until ctx is cancelled (spec.md
// §4.10 "subscribes to an internal event bus emitted by C1, C5, C7, and
// C9").
func (m *Monitor) Attach(ctx context.Context, f *tts.Facade) {
	ch := f.Subscribe(128)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				m.handleEvent(ev)
			}
		}
	}()
}

func (m *Monitor) handleEvent(ev tts.Event) {
	r, ok := m.record(ev.CallID)
	if !ok {
		return
	}
	switch ev.Type {
	case tts.EventGenerationComplete:
		if d, ok := ev.Data["duration_sec"].(float64); ok {
			r.recordGeneration(d)
		}
	case tts.EventFirstResponseLatency:
		if ms, ok := ev.Data["latency_ms"].(int64); ok {
			r.recordFirstChunkLatency(float64(ms) / 1000)
		}
	case tts.EventDialogTurnStart:
		r.startPhase("dialog_turn")
	case tts.EventDialogTurnEnd:
		r.endPhase("dialog_turn")
	case tts.EventFragmentRetried:
		r.recordError("fallback", ev.Message, "facade")
	case tts.EventError:
		r.recordError("tts", ev.Message, "facade")
	}
}

// StartCallMonitoring begins a new record for callID (spec.md §6
// control API).
func (m *Monitor) StartCallMonitoring(callID string, metadata map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[callID] = newRecord(callID, metadata)
}

// EndCallMonitoring finalizes callID's record and persists it to disk.
// Unknown call IDs are ignored (the call may never have been tracked,
// or may already have ended).
func (m *Monitor) EndCallMonitoring(callID string, status Status) {
	r, ok := m.record(callID)
	if !ok {
		return
	}
	r.finalize(status)
	m.persist(r.Snapshot())
}

func (m *Monitor) RecordError(callID, errType, message, component string) {
	if r, ok := m.record(callID); ok {
		r.recordError(errType, message, component)
	}
}

func (m *Monitor) RecordInterrupt(callID string) {
	if r, ok := m.record(callID); ok {
		r.recordInterrupt()
	}
}

func (m *Monitor) RecordChunk(callID string, size int) {
	if r, ok := m.record(callID); ok {
		r.recordChunk(size)
	}
}

func (m *Monitor) StartPhase(callID, phase string) {
	if r, ok := m.record(callID); ok {
		r.startPhase(phase)
	}
}

func (m *Monitor) EndPhase(callID, phase string) {
	if r, ok := m.record(callID); ok {
		r.endPhase(phase)
	}
}

// GetCallMetrics returns a snapshot of callID's record, if tracked.
func (m *Monitor) GetCallMetrics(callID string) (Snapshot, bool) {
	r, ok := m.record(callID)
	if !ok {
		return Snapshot{}, false
	}
	return r.Snapshot(), true
}

func (m *Monitor) record(callID string) (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[callID]
	return r, ok
}

func (m *Monitor) persist(snap Snapshot) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return
	}
	name := fmt.Sprintf("%s_%s.json", snap.StartedAt.Format("20060102_150405"), snap.CallID)
	_ = os.WriteFile(filepath.Join(m.dir, name), data, 0o644)
}

// LoadHistorical reads persisted metrics files written within the last
// daysAgo days into the monitor's in-memory set so Aggregate can include
// calls from a previous process lifetime, mirroring the original's
// load_historical_metrics. Calls already tracked live (or already
// loaded) are skipped.
func (m *Monitor) LoadHistorical(daysAgo int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -daysAgo)

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("metrics: read metrics dir: %w", err)
	}

	count := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		parts := strings.SplitN(e.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}
		fileDate, err := time.Parse("20060102", parts[0])
		if err != nil || fileDate.Before(cutoff) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}

		m.mu.Lock()
		_, live := m.records[snap.CallID]
		alreadyLoaded := false
		for _, h := range m.historical {
			if h.CallID == snap.CallID {
				alreadyLoaded = true
				break
			}
		}
		if !live && !alreadyLoaded {
			m.historical = append(m.historical, snap)
			count++
		}
		m.mu.Unlock()
	}
	return count, nil
}
