// Package quota enforces per-owner resource limits: a cap on
// concurrently active sessions and an optional token-bucket rate limit
// on input sends. Different owners are fully independent.
package quota

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines the limits applied to a single owner.
type Config struct {
	// MaxSessions caps how many sessions an owner may hold active at
	// once. Zero means no cap.
	MaxSessions int

	// SendRate is the maximum sustained sends per second for the owner.
	// Zero disables send rate limiting.
	SendRate float64

	// SendBurst is the burst size for the token-bucket limiter.
	// Defaults to 1 if SendRate is set but SendBurst is zero.
	SendBurst int
}

// OwnerConfig pairs an owner identifier with an override Config.
type OwnerConfig struct {
	Owner string
	Config
}

// ownerState tracks runtime state for a single owner.
type ownerState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager tracks active session counts and send rates per owner.
// It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	defaults Config
	owners   map[string]*ownerState
}

// NewManager creates a Manager applying the given defaults to every
// owner. Per-owner overrides can be installed with SetOwnerConfig.
func NewManager(defaults Config) *Manager {
	return &Manager{
		defaults: defaults,
		owners:   make(map[string]*ownerState),
	}
}

func newOwnerState(cfg Config) *ownerState {
	os := &ownerState{config: cfg}
	if cfg.SendRate > 0 {
		burst := cfg.SendBurst
		if burst <= 0 {
			burst = 1
		}
		os.limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), burst)
	}
	return os
}

// ownerLocked returns (lazily creating) the state for an owner.
// Caller must hold the manager lock.
func (m *Manager) ownerLocked(owner string) *ownerState {
	os, ok := m.owners[owner]
	if !ok {
		os = newOwnerState(m.defaults)
		m.owners[owner] = os
	}
	return os
}

// AcquireSession atomically checks the owner's session cap and, if a
// slot is free, claims it. Returns whether the slot was granted and the
// owner's active count at decision time. The caller MUST call
// ReleaseSession when the session ends.
func (m *Manager) AcquireSession(owner string) (ok bool, active int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	os := m.ownerLocked(owner)
	if os.config.MaxSessions > 0 && os.active >= os.config.MaxSessions {
		return false, os.active
	}
	os.active++
	return true, os.active
}

// ReleaseSession returns an owner's session slot.
func (m *Manager) ReleaseSession(owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if os, ok := m.owners[owner]; ok && os.active > 0 {
		os.active--
	}
}

// AllowSend reports whether the owner's send rate limit permits another
// input right now. Owners without a rate limit always pass.
func (m *Manager) AllowSend(owner string) bool {
	m.mu.Lock()
	os := m.ownerLocked(owner)
	limiter := os.limiter
	m.mu.Unlock()

	if limiter == nil {
		return true
	}
	return limiter.Allow()
}

// ActiveSessions returns the owner's current active session count.
func (m *Manager) ActiveSessions(owner string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if os, ok := m.owners[owner]; ok {
		return os.active
	}
	return 0
}

// Cap returns the effective session cap for an owner.
func (m *Manager) Cap(owner string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ownerLocked(owner).config.MaxSessions
}

// SetOwnerConfig installs (or replaces) a per-owner override.
// The owner's current active count is preserved.
func (m *Manager) SetOwnerConfig(cfg OwnerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	os := newOwnerState(cfg.Config)
	if existing, ok := m.owners[cfg.Owner]; ok {
		os.active = existing.active
	}
	m.owners[cfg.Owner] = os
}
