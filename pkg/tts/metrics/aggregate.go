package metrics

import (
	"sort"
	"time"
)

// Period is an aggregation window (spec.md §6 control surface
// "today|week|month|all").
type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodAll   Period = "all"
)

// Aggregated is a percentile-free summary across every call whose
// record falls within a Period (spec.md §4.10).
type Aggregated struct {
	Period Period `json:"period"`

	TotalCalls       int `json:"total_calls"`
	ActiveCalls      int `json:"active_calls"`
	CompletedCalls   int `json:"completed_calls"`
	FailedCalls      int `json:"failed_calls"`
	InterruptedCalls int `json:"interrupted_calls"`

	AvgCallDurationSec      float64 `json:"avg_call_duration_sec"`
	AvgGenerationTimeSec    float64 `json:"avg_generation_time_sec"`
	AvgFirstChunkLatencySec float64 `json:"avg_first_chunk_latency_sec"`

	TotalErrors int     `json:"total_errors"`
	ErrorRate   float64 `json:"error_rate"`
}

// Aggregate scans in-memory records (plus anything loaded by
// LoadHistorical) and returns counts, averages, and an error rate for
// calls whose started_at falls within period.
func (m *Monitor) Aggregate(period Period) Aggregated {
	snapshots := m.snapshotsWithinPeriod(period)

	agg := Aggregated{Period: period, TotalCalls: len(snapshots)}
	if len(snapshots) == 0 {
		return agg
	}

	var durations, genTimes, chunkLatencies []float64
	for _, s := range snapshots {
		switch s.Status {
		case StatusCompleted:
			agg.CompletedCalls++
		case StatusFailed:
			agg.FailedCalls++
		case StatusInterrupted:
			agg.InterruptedCalls++
		}
		if s.IsActive {
			agg.ActiveCalls++
		}
		if !s.EndedAt.IsZero() {
			durations = append(durations, s.Duration.Seconds())
		}
		genTimes = append(genTimes, s.GenerationTimes...)
		chunkLatencies = append(chunkLatencies, s.FirstChunkLatencies...)
		agg.TotalErrors += s.ErrorCount
	}

	agg.AvgCallDurationSec = mean(durations)
	agg.AvgGenerationTimeSec = mean(genTimes)
	agg.AvgFirstChunkLatencySec = mean(chunkLatencies)
	if agg.TotalCalls > 0 {
		agg.ErrorRate = float64(agg.TotalErrors) / float64(agg.TotalCalls)
	}
	return agg
}

// ListCalls returns a lightweight summary of every call within period,
// newest first, for a calls-list style view (spec.md §6).
type CallSummary struct {
	CallID     string    `json:"call_id"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at,omitempty"`
	Status     Status    `json:"status"`
	ErrorCount int       `json:"error_count"`
	IsActive   bool      `json:"is_active"`
}

func (m *Monitor) ListCalls(period Period) []CallSummary {
	snapshots := m.snapshotsWithinPeriod(period)
	out := make([]CallSummary, len(snapshots))
	for i, s := range snapshots {
		out[i] = CallSummary{
			CallID:     s.CallID,
			StartedAt:  s.StartedAt,
			EndedAt:    s.EndedAt,
			Status:     s.Status,
			ErrorCount: s.ErrorCount,
			IsActive:   s.IsActive,
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

func (m *Monitor) snapshotsWithinPeriod(period Period) []Snapshot {
	now := time.Now()
	var cutoff time.Time
	switch period {
	case PeriodToday:
		cutoff = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	case PeriodWeek:
		cutoff = now.Add(-7 * 24 * time.Hour)
	case PeriodMonth:
		cutoff = now.Add(-30 * 24 * time.Hour)
	default: // PeriodAll and anything unrecognized
		cutoff = time.Time{}
	}

	m.mu.RLock()
	live := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		live = append(live, r)
	}
	historical := make([]Snapshot, len(m.historical))
	copy(historical, m.historical)
	m.mu.RUnlock()

	var out []Snapshot
	for _, r := range live {
		if !r.startedAtTime().Before(cutoff) {
			out = append(out, r.Snapshot())
		}
	}
	for _, s := range historical {
		if !s.StartedAt.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}
