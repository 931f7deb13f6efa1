// Package fallback implements the provider health tracker and failover
// controller (spec.md §4.3): when the active provider fails, the
// controller demotes it and selects the first healthy candidate from
// the fallback chain, falling back to the primary as a last resort.
package fallback

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/provider"
	"github.com/lokutor-ai/lokutor-tts-engine/pkg/tts/ttserr"
)

// status tracks one provider's health state, mirroring ProviderStatus
// in the original fallback manager.
type status struct {
	name             string
	provider         provider.Provider
	healthy          bool
	lastCheck        time.Time
	failureCount     int
	lastError        error
	recoveryAttempts int
}

// Stats is a point-in-time snapshot of controller activity.
type Stats struct {
	Fallbacks    uint64
	Recoveries   uint64
	HealthChecks uint64
}

// ProviderStatus is the public, read-only view of a tracked provider
// returned by Snapshot.
type ProviderStatus struct {
	Name             string
	Healthy          bool
	FailureCount     int
	LastError        error
	LastCheck        time.Time
	RecoveryAttempts int
}

// Config holds the tunables of a Controller, named after the Python
// fallback manager's constructor parameters.
type Config struct {
	PrimaryProvider      string
	FallbackProviders    []string
	HealthCheckInterval  time.Duration
	MaxFailures          int
	AutoRecovery         bool
	RecoveryBackoffBase  time.Duration
}

// Controller tracks provider health and arbitrates which provider is
// currently active for a pool of interchangeable TTS backends.
type Controller struct {
	cfg Config

	mu              sync.Mutex
	providers       map[string]*status
	currentProvider string
	stats           Stats

	stopHealthLoop context.CancelFunc
}

// New builds a Controller over the given set of providers, keyed by
// provider.Provider.Name(). primary must be present in providers.
func New(cfg Config, providers map[string]provider.Provider) *Controller {
	c := &Controller{
		cfg:             cfg,
		providers:       make(map[string]*status, len(providers)),
		currentProvider: cfg.PrimaryProvider,
	}
	for name, p := range providers {
		c.providers[name] = &status{name: name, provider: p, healthy: true}
	}

	if cfg.AutoRecovery {
		ctx, cancel := context.WithCancel(context.Background())
		c.stopHealthLoop = cancel
		go c.healthCheckLoop(ctx)
	}
	return c
}

// Stop halts the background health-check loop, if running.
func (c *Controller) Stop() {
	if c.stopHealthLoop != nil {
		c.stopHealthLoop()
	}
}

// Current returns the currently active provider.
func (c *Controller) Current() (provider.Provider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked()
}

func (c *Controller) currentLocked() (provider.Provider, error) {
	st, ok := c.providers[c.currentProvider]
	if !ok {
		st, ok = c.providers[c.cfg.PrimaryProvider]
		if !ok {
			return nil, ttserr.NewError(ttserr.KindProviderUnavailable, "fallback.Current", errNoPrimary)
		}
		c.currentProvider = c.cfg.PrimaryProvider
	}
	return st.provider, nil
}

// MarkProviderFailed records a failure against name, demoting it to
// unhealthy once it crosses cfg.MaxFailures.
func (c *Controller) MarkProviderFailed(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markFailedLocked(name, err)
}

func (c *Controller) markFailedLocked(name string, err error) {
	st, ok := c.providers[name]
	if !ok {
		return
	}
	st.failureCount++
	st.lastError = err
	if st.failureCount >= c.cfg.MaxFailures {
		st.healthy = false
	}
}

// TryFallback demotes the current provider and selects the first
// healthy candidate from the fallback chain, appending the primary as
// a last resort when the current provider isn't already primary. It
// reports whether the active provider actually changed.
func (c *Controller) TryFallback(ctx context.Context, err error) (provider.Provider, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentName := c.currentProvider
	c.markFailedLocked(currentName, err)

	candidates := make([]string, 0, len(c.cfg.FallbackProviders)+1)
	candidates = append(candidates, c.cfg.FallbackProviders...)
	if currentName != c.cfg.PrimaryProvider {
		candidates = append(candidates, c.cfg.PrimaryProvider)
	}

	for _, name := range candidates {
		if name == currentName {
			continue
		}
		st, ok := c.providers[name]
		if !ok {
			continue
		}
		if time.Since(st.lastCheck) >= c.cfg.HealthCheckInterval {
			c.checkHealthLocked(ctx, name)
		}
		if st.healthy {
			c.currentProvider = name
			c.stats.Fallbacks++
			return st.provider, true
		}
	}

	// No healthy candidate: stay put.
	p, _ := c.currentLocked()
	return p, false
}

// Primary returns the configured primary provider name. cfg is set once
// at construction and never mutated afterward, so this is safe without
// holding c.mu.
func (c *Controller) Primary() string {
	return c.cfg.PrimaryProvider
}

// SetCurrent is a manual operational override that moves the active
// provider directly to name, bypassing the health-check-driven failover
// path. ResetToPrimary covers the name == Primary() case (it re-probes
// health before committing); SetCurrent does not probe, matching an
// operator's explicit choice of a specific, already-known-good provider.
func (c *Controller) SetCurrent(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.providers[name]; !ok {
		return false
	}
	c.currentProvider = name
	return true
}

// ResetToPrimary is a manual operational override back to the primary
// provider. The periodic health-check loop is the authoritative
// recovery path; this exists for operator-triggered recovery only.
func (c *Controller) ResetToPrimary(ctx context.Context) (provider.Provider, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentProvider == c.cfg.PrimaryProvider {
		p, _ := c.currentLocked()
		return p, true
	}

	st, ok := c.providers[c.cfg.PrimaryProvider]
	if !ok {
		p, _ := c.currentLocked()
		return p, false
	}

	healthy := c.checkHealthLocked(ctx, c.cfg.PrimaryProvider)
	if !healthy {
		p, _ := c.currentLocked()
		return p, false
	}

	c.currentProvider = c.cfg.PrimaryProvider
	c.stats.Recoveries++
	return st.provider, true
}

// checkHealthLocked runs a health probe against name, respecting
// HealthCheckInterval debounce, and must be called with c.mu held.
func (c *Controller) checkHealthLocked(ctx context.Context, name string) bool {
	st, ok := c.providers[name]
	if !ok {
		return false
	}
	if time.Since(st.lastCheck) < c.cfg.HealthCheckInterval {
		return st.healthy
	}

	st.lastCheck = time.Now()
	c.stats.HealthChecks++

	health, err := st.provider.HealthCheck(ctx)
	if err != nil || health.Status == provider.HealthError {
		st.healthy = false
		st.failureCount++
		if err != nil {
			st.lastError = err
		}
		return false
	}

	st.healthy = health.Status == provider.HealthOK || health.Status == provider.HealthDegraded
	if st.healthy {
		st.failureCount = 0
		st.lastError = nil
	}
	return st.healthy
}

// healthCheckLoop periodically re-probes every provider, recovers the
// primary when healthy, and retries unhealthy providers with
// exponential backoff plus jitter to avoid a thundering herd.
func (c *Controller) healthCheckLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runHealthCycle(ctx)
		}
	}
}

func (c *Controller) runHealthCycle(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name := range c.providers {
		c.checkHealthLocked(ctx, name)
	}

	if c.currentProvider != c.cfg.PrimaryProvider {
		if primary, ok := c.providers[c.cfg.PrimaryProvider]; ok && primary.healthy {
			c.currentProvider = c.cfg.PrimaryProvider
			c.stats.Recoveries++
		}
	}

	for name, st := range c.providers {
		if st.healthy {
			continue
		}
		backoff := time.Duration(float64(c.cfg.RecoveryBackoffBase) * pow2(st.recoveryAttempts))
		backoff = time.Duration(float64(backoff) * (0.75 + 0.5*rand.Float64()))
		if time.Since(st.lastCheck) < backoff {
			continue
		}

		healthy := c.checkHealthLocked(ctx, name)
		if healthy {
			st.recoveryAttempts = 0
		} else {
			st.recoveryAttempts++
		}
	}
}

func pow2(n int) float64 {
	out := 1.0
	for i := 0; i < n; i++ {
		out *= 2
	}
	return out
}

// Snapshot returns the current stats and per-provider status, used by
// the facade's health() operation.
func (c *Controller) Snapshot() (Stats, map[string]ProviderStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]ProviderStatus, len(c.providers))
	for name, st := range c.providers {
		out[name] = ProviderStatus{
			Name:             st.name,
			Healthy:          st.healthy,
			FailureCount:     st.failureCount,
			LastError:        st.lastError,
			LastCheck:        st.lastCheck,
			RecoveryAttempts: st.recoveryAttempts,
		}
	}
	return c.stats, out
}
