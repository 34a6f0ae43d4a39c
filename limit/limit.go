// Package limit provides per-tenant rate limiting and concurrency caps for
// job execution.
//
// The worker pool calls Acquire before executing a dequeued job and Release
// after execution completes. A limited job is returned to the queue rather
// than dropped, so limits shape throughput without losing work. Tenants
// without a TenantConfig have no limits.
package limit

import (
	"sync"

	"golang.org/x/time/rate"
)

// TenantConfig defines rate limits and concurrency for a single tenant.
type TenantConfig struct {
	// TenantID is the tenant this config applies to.
	TenantID string

	// RateLimit is the maximum sustained jobs per second for this tenant.
	// Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int

	// MaxConcurrency limits simultaneous jobs for this tenant. Zero means
	// no tenant-specific concurrency limit.
	MaxConcurrency int
}

// tenantState tracks runtime state for a single tenant.
type tenantState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

func newTenantState(cfg TenantConfig) *tenantState {
	ts := &tenantState{maxConcurrency: cfg.MaxConcurrency}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ts
}

// Manager enforces per-tenant limits at execution time.
// It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	tenants map[string]*tenantState
}

// NewManager creates a Manager with the given tenant configurations.
func NewManager(configs ...TenantConfig) *Manager {
	m := &Manager{tenants: make(map[string]*tenantState, len(configs))}
	for _, cfg := range configs {
		m.tenants[cfg.TenantID] = newTenantState(cfg)
	}
	return m
}

// Acquire checks rate limits and concurrency for the tenant. If the job is
// allowed to proceed it increments the active counter and returns true.
// The caller MUST call Release when the job completes.
func (m *Manager) Acquire(tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.tenants[tenantID]
	if ts == nil {
		return true
	}
	if ts.limiter != nil && !ts.limiter.Allow() {
		return false
	}
	if ts.maxConcurrency > 0 && ts.active >= ts.maxConcurrency {
		return false
	}
	ts.active++
	return true
}

// Release decrements the active job count for the tenant.
func (m *Manager) Release(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ts := m.tenants[tenantID]; ts != nil && ts.active > 0 {
		ts.active--
	}
}

// SetTenantConfig dynamically updates (or creates) a tenant configuration.
// The current active count is preserved across reconfiguration.
func (m *Manager) SetTenantConfig(cfg TenantConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := newTenantState(cfg)
	if existing := m.tenants[cfg.TenantID]; existing != nil {
		ts.active = existing.active
	}
	m.tenants[cfg.TenantID] = ts
}

// ActiveCount returns the current number of active jobs for a tenant.
func (m *Manager) ActiveCount(tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.tenants[tenantID]; ts != nil {
		return ts.active
	}
	return 0
}
