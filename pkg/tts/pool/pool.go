// Package pool implements per-(provider,voice) warm pools of
// long-lived providers (spec.md §4.4), so a call doesn't pay
// provider-construction latency on every turn. Checked-out providers
// cool down for a configured period before returning to Available,
// and the maintenance loop scales the pool to utilization and reaps
// expired or errored entries.
package pool

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/provider"
)

// Status is the lifecycle state of one pooled provider (spec.md §4.4).
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusAvailable    Status = "available"
	StatusInUse        Status = "in_use"
	StatusCoolingDown  Status = "cooling_down"
	StatusError        Status = "error"
	StatusTerminated   Status = "terminated"
)

// Entry wraps one pooled provider instance with its lifecycle bookkeeping.
type Entry struct {
	ID           string
	Provider     provider.Provider
	ProviderType string
	VoiceID      string
	TTL          time.Duration

	Status     Status
	CreatedAt  time.Time
	LastUsedAt time.Time

	UsageCount           int
	ErrorCount           int
	TotalProcessingTime  time.Duration

	sessionID    string
	sessionStart time.Time
}

func (e *Entry) markAvailable() { e.Status = StatusAvailable }

func (e *Entry) markInUse(now time.Time) {
	e.Status = StatusInUse
	e.LastUsedAt = now
	e.UsageCount++
	e.sessionStart = now
}

func (e *Entry) markCoolingDown(now time.Time) {
	e.Status = StatusCoolingDown
	if !e.sessionStart.IsZero() {
		e.TotalProcessingTime += now.Sub(e.sessionStart)
		e.sessionStart = time.Time{}
		e.sessionID = ""
	}
}

func (e *Entry) markError() {
	e.Status = StatusError
	e.ErrorCount++
	e.sessionStart = time.Time{}
	e.sessionID = ""
}

func (e *Entry) markTerminated() {
	e.Status = StatusTerminated
	e.sessionStart = time.Time{}
	e.sessionID = ""
}

func (e *Entry) isExpired(now time.Time) bool {
	ref := e.LastUsedAt
	if ref.IsZero() {
		ref = e.CreatedAt
	}
	return now.Sub(ref) > e.TTL
}

// Config describes how a single pool of (ProviderType, VoiceID)
// providers should be sized and cycled.
type Config struct {
	ProviderType     string
	VoiceID          string
	MinSize          int
	MaxSize          int
	TTL              time.Duration
	WarmUpCount      int
	CoolDownPeriod   time.Duration
	ScalingThreshold float64
	Factory          func() (provider.Provider, error)
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	ProviderType string
	VoiceID      string

	Total     int
	Available int
	InUse     int
	Cooling   int
	Errored   int

	RequestCount     uint64
	CheckoutCount    uint64
	CheckoutFailures uint64
	CreationFailures uint64
	ProviderErrors   uint64
	Expansions       uint64
	Contractions     uint64
}

// Pool manages the providers for one (ProviderType, VoiceID) pair.
type Pool struct {
	cfg Config

	mu        sync.Mutex
	entries   map[string]*Entry
	available map[string]struct{}
	inUse     map[string]struct{}
	cooling   map[string]struct{}
	errored   map[string]struct{}
	stats     Stats

	closeOnce sync.Once
	stopCh    chan struct{}
}

// New builds a pool, warms it to cfg.WarmUpCount, and starts its
// maintenance loop.
func New(cfg Config) *Pool {
	p := &Pool{
		cfg:       cfg,
		entries:   make(map[string]*Entry),
		available: make(map[string]struct{}),
		inUse:     make(map[string]struct{}),
		cooling:   make(map[string]struct{}),
		errored:   make(map[string]struct{}),
		stopCh:    make(chan struct{}),
	}
	p.stats.ProviderType = cfg.ProviderType
	p.stats.VoiceID = cfg.VoiceID

	for i := 0; i < cfg.WarmUpCount; i++ {
		p.createEntry()
	}

	go p.maintenanceLoop()
	return p
}

func newEntryID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// createEntry constructs and registers one new provider. Must be
// called without p.mu held.
func (p *Pool) createEntry() (string, bool) {
	if p.cfg.Factory == nil {
		return "", false
	}
	prov, err := p.cfg.Factory()
	if err != nil {
		p.mu.Lock()
		p.stats.CreationFailures++
		p.mu.Unlock()
		return "", false
	}

	e := &Entry{
		ID:           newEntryID(),
		Provider:     prov,
		ProviderType: p.cfg.ProviderType,
		VoiceID:      p.cfg.VoiceID,
		TTL:          p.cfg.TTL,
		Status:       StatusInitializing,
		CreatedAt:    time.Now(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[e.ID] = e
	e.markAvailable()
	p.available[e.ID] = struct{}{}
	return e.ID, true
}

// Checkout returns an available provider, expanding the pool under
// MaxSize if none is free.
func (p *Pool) Checkout() (*Entry, bool) {
	p.mu.Lock()
	p.stats.RequestCount++

	for id := range p.available {
		e := p.entries[id]
		delete(p.available, id)
		p.inUse[id] = struct{}{}
		e.markInUse(time.Now())
		p.stats.CheckoutCount++
		p.mu.Unlock()
		return e, true
	}

	canExpand := len(p.entries) < p.cfg.MaxSize
	p.stats.Expansions++
	p.mu.Unlock()

	if canExpand {
		if id, ok := p.createEntry(); ok {
			p.mu.Lock()
			e, present := p.entries[id]
			if present {
				delete(p.available, id)
				p.inUse[id] = struct{}{}
				e.markInUse(time.Now())
				p.stats.CheckoutCount++
			}
			p.mu.Unlock()
			if present {
				return e, true
			}
		}
	}

	p.mu.Lock()
	p.stats.CheckoutFailures++
	p.mu.Unlock()
	return nil, false
}

// Return releases id back to the pool. If failed, the entry is
// retired to StatusError instead of cooling down.
func (p *Pool) Return(id string, failed bool) bool {
	p.mu.Lock()
	e, ok := p.entries[id]
	if !ok {
		p.mu.Unlock()
		return false
	}
	delete(p.inUse, id)

	if failed {
		e.markError()
		p.errored[id] = struct{}{}
		p.stats.ProviderErrors++
		p.mu.Unlock()
		return true
	}

	e.markCoolingDown(time.Now())
	p.cooling[id] = struct{}{}
	cooldown := p.cfg.CoolDownPeriod
	p.mu.Unlock()

	time.AfterFunc(cooldown, func() { p.activateAfterCooldown(id) })
	return true
}

func (p *Pool) activateAfterCooldown(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[id]
	if !ok || e.Status != StatusCoolingDown {
		return
	}
	if e.isExpired(time.Now()) {
		p.terminateLocked(id)
		return
	}
	delete(p.cooling, id)
	e.markAvailable()
	p.available[id] = struct{}{}
}

// terminateLocked must be called with p.mu held.
func (p *Pool) terminateLocked(id string) {
	e, ok := p.entries[id]
	if !ok {
		return
	}
	delete(p.available, id)
	delete(p.inUse, id)
	delete(p.cooling, id)
	delete(p.errored, id)

	e.markTerminated()
	delete(p.entries, id)
	p.stats.Contractions++
}

// StartSession associates a streaming session with a checked-out entry.
func (p *Pool) StartSession(id, sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		return false
	}
	e.sessionID = sessionID
	e.sessionStart = time.Now()
	return true
}

// EndSession clears the session association and folds its duration
// into the entry's total processing time.
func (p *Pool) EndSession(id string) (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		return 0, false
	}
	if e.sessionStart.IsZero() {
		return 0, true
	}
	d := time.Since(e.sessionStart)
	e.TotalProcessingTime += d
	e.sessionStart = time.Time{}
	e.sessionID = ""
	return d, true
}

func (p *Pool) maintenanceLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.runMaintenanceCycle()
		}
	}
}

func (p *Pool) runMaintenanceCycle() {
	p.mu.Lock()
	now := time.Now()

	var expired []string
	for id, e := range p.entries {
		if (e.Status == StatusAvailable || e.Status == StatusCoolingDown) && e.isExpired(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		p.terminateLocked(id)
	}

	p.adjustSizeLocked()
	p.recoverErrorProvidersLocked()
	p.mu.Unlock()
}

// adjustSizeLocked scales the pool up under high utilization and down
// when there's excess idle capacity above MinSize. Must hold p.mu.
func (p *Pool) adjustSizeLocked() {
	total := len(p.entries)
	if total == 0 {
		return
	}

	utilization := float64(len(p.inUse)) / float64(total)
	if utilization >= p.cfg.ScalingThreshold && total < p.cfg.MaxSize {
		p.mu.Unlock()
		p.createEntry()
		p.mu.Lock()
	}

	available := len(p.available)
	if available > 1 && total > p.cfg.MinSize {
		excess := available - 1
		room := total - p.cfg.MinSize
		if room < excess {
			excess = room
		}

		type candidate struct {
			id         string
			lastUsedAt time.Time
		}
		candidates := make([]candidate, 0, available)
		for id := range p.available {
			candidates = append(candidates, candidate{id, p.entries[id].LastUsedAt})
		}
		// oldest (or never-used) first
		for i := 0; i < len(candidates); i++ {
			for j := i + 1; j < len(candidates); j++ {
				if candidates[j].lastUsedAt.Before(candidates[i].lastUsedAt) {
					candidates[i], candidates[j] = candidates[j], candidates[i]
				}
			}
		}
		for i := 0; i < excess && i < len(candidates); i++ {
			p.terminateLocked(candidates[i].id)
		}
	}
}

// recoverErrorProvidersLocked retires a bounded number of errored
// entries per cycle; they are replaced lazily on the next Checkout.
// Must hold p.mu.
func (p *Pool) recoverErrorProvidersLocked() {
	const maxPerCycle = 3
	n := 0
	for id := range p.errored {
		if n >= maxPerCycle {
			break
		}
		p.terminateLocked(id)
		n++
	}
}

// Stats returns a snapshot of pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Total = len(p.entries)
	s.Available = len(p.available)
	s.InUse = len(p.inUse)
	s.Cooling = len(p.cooling)
	s.Errored = len(p.errored)
	return s
}

// Shutdown stops the maintenance loop and terminates every provider.
func (p *Pool) Shutdown() {
	p.closeOnce.Do(func() { close(p.stopCh) })

	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.entries {
		p.terminateLocked(id)
	}
}
