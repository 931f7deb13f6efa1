package pool

import (
	"fmt"
	"sync"
)

func poolKey(providerType, voiceID string) string {
	return fmt.Sprintf("%s_%s", providerType, voiceID)
}

// checkoutRecord tracks which pool and (optional) session a checked-out
// entry belongs to, mirroring the manager's active_checkouts map.
type checkoutRecord struct {
	poolKey   string
	sessionID string
}

// Manager owns every per-(provider,voice) Pool and routes
// checkout/return calls to the right one.
type Manager struct {
	mu              sync.Mutex
	pools           map[string]*Pool
	activeCheckouts map[string]checkoutRecord
}

func NewManager() *Manager {
	return &Manager{
		pools:           make(map[string]*Pool),
		activeCheckouts: make(map[string]checkoutRecord),
	}
}

// CreatePool registers a new pool for cfg.ProviderType/cfg.VoiceID. A
// second call for the same pair is a no-op, returning the existing key.
func (m *Manager) CreatePool(cfg Config) string {
	key := poolKey(cfg.ProviderType, cfg.VoiceID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[key]; ok {
		return key
	}
	m.pools[key] = New(cfg)
	return key
}

// Checkout retrieves a provider from the named pool.
func (m *Manager) Checkout(providerType, voiceID string) (*Entry, bool) {
	key := poolKey(providerType, voiceID)

	m.mu.Lock()
	p, ok := m.pools[key]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}

	e, ok := p.Checkout()
	if !ok {
		return nil, false
	}

	m.mu.Lock()
	m.activeCheckouts[e.ID] = checkoutRecord{poolKey: key}
	m.mu.Unlock()
	return e, true
}

// CheckoutWithFallback tries provider types in priority order for the
// given voice, returning the first successful checkout.
func (m *Manager) CheckoutWithFallback(providerTypes []string, voiceID string) (*Entry, bool) {
	for _, pt := range providerTypes {
		if e, ok := m.Checkout(pt, voiceID); ok {
			return e, true
		}
	}
	return nil, false
}

// Return releases a checked-out entry back to its owning pool.
func (m *Manager) Return(entryID string, failed bool) bool {
	m.mu.Lock()
	rec, ok := m.activeCheckouts[entryID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	p, ok := m.pools[rec.poolKey]
	m.mu.Unlock()
	if !ok {
		m.mu.Lock()
		delete(m.activeCheckouts, entryID)
		m.mu.Unlock()
		return false
	}

	ok = p.Return(entryID, failed)
	if ok {
		m.mu.Lock()
		delete(m.activeCheckouts, entryID)
		m.mu.Unlock()
	}
	return ok
}

// BeginSession marks entryID's checkout as owning sessionID.
func (m *Manager) BeginSession(entryID, sessionID string) bool {
	m.mu.Lock()
	rec, ok := m.activeCheckouts[entryID]
	if ok {
		rec.sessionID = sessionID
		m.activeCheckouts[entryID] = rec
	}
	p, poolOK := m.pools[rec.poolKey]
	m.mu.Unlock()
	if !ok || !poolOK {
		return false
	}
	return p.StartSession(entryID, sessionID)
}

// EndSession clears the session association for entryID.
func (m *Manager) EndSession(entryID string) bool {
	m.mu.Lock()
	rec, ok := m.activeCheckouts[entryID]
	if ok {
		rec.sessionID = ""
		m.activeCheckouts[entryID] = rec
	}
	p, poolOK := m.pools[rec.poolKey]
	m.mu.Unlock()
	if !ok || !poolOK {
		return false
	}
	_, done := p.EndSession(entryID)
	return done
}

// Stats returns stats for every registered pool.
func (m *Manager) Stats() []Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Stats, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p.Stats())
	}
	return out
}

// RemovePool shuts down and forgets the named pool.
func (m *Manager) RemovePool(providerType, voiceID string) bool {
	key := poolKey(providerType, voiceID)

	m.mu.Lock()
	p, ok := m.pools[key]
	if ok {
		delete(m.pools, key)
	}
	m.mu.Unlock()

	if ok {
		p.Shutdown()
	}
	return ok
}

// Shutdown tears down every pool the manager owns.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.pools = make(map[string]*Pool)
	m.activeCheckouts = make(map[string]checkoutRecord)
	m.mu.Unlock()

	for _, p := range pools {
		p.Shutdown()
	}
}
