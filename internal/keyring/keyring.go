// Package keyring manages pools of provider API credentials with round-robin
// rotation and failure-driven cooldown.
package keyring

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrKeyExhausted is returned when every registered key for a provider is
// cooling down, or the provider has no keys at all.
var ErrKeyExhausted = errors.New("no healthy api key available")

const (
	// DefaultCooldown is how long a key sits out after entering cooldown.
	DefaultCooldown = 10 * time.Minute
	// DefaultFailureLimit is the consecutive non-rate-limit failure count
	// that sends a key into cooldown.
	DefaultFailureLimit = 5
)

type keyStatus int

const (
	statusActive keyStatus = iota
	statusCooldown
)

type keyRecord struct {
	key          string
	provider     string
	status       keyStatus
	errorCount   int
	lastUsedAt   time.Time
	lastFailedAt time.Time
}

type pool struct {
	keys []*keyRecord
	next int
}

// Manager owns per-provider key pools. It is purely in-memory, issues no
// external calls, and performs no internal retry.
type Manager struct {
	mu           sync.Mutex
	pools        map[string]*pool
	byKey        map[string]*keyRecord
	cooldown     time.Duration
	failureLimit int
	now          func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithCooldown overrides the cooldown window.
func WithCooldown(d time.Duration) Option {
	return func(m *Manager) { m.cooldown = d }
}

// WithFailureLimit overrides the consecutive-failure threshold.
func WithFailureLimit(n int) Option {
	return func(m *Manager) { m.failureLimit = n }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates an empty Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		pools:        make(map[string]*pool),
		byKey:        make(map[string]*keyRecord),
		cooldown:     DefaultCooldown,
		failureLimit: DefaultFailureLimit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterKeys adds keys to a provider's pool. Re-registering a known key is
// a no-op, so startup registration is idempotent.
func (m *Manager) RegisterKeys(provider string, keys []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[provider]
	if !ok {
		p = &pool{}
		m.pools[provider] = p
	}
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, exists := m.byKey[key]; exists {
			continue
		}
		rec := &keyRecord{key: key, provider: provider}
		p.keys = append(p.keys, rec)
		m.byKey[key] = rec
	}
}

// Acquire returns the next active key for the provider in round-robin order.
// Keys whose cooldown window has elapsed are revived lazily. Fails with
// ErrKeyExhausted when no key is usable.
func (m *Manager) Acquire(provider string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[provider]
	if !ok || len(p.keys) == 0 {
		return "", fmt.Errorf("provider %s: %w", provider, ErrKeyExhausted)
	}
	now := m.now()
	for i := 0; i < len(p.keys); i++ {
		rec := p.keys[p.next%len(p.keys)]
		p.next = (p.next + 1) % len(p.keys)
		if rec.status == statusCooldown {
			if now.Sub(rec.lastFailedAt) < m.cooldown {
				continue
			}
			rec.status = statusActive
			rec.errorCount = 0
		}
		rec.lastUsedAt = now
		return rec.key, nil
	}
	return "", fmt.Errorf("provider %s: %w", provider, ErrKeyExhausted)
}

// ReportSuccess resets the failure streak and reinstates the key if needed.
func (m *Manager) ReportSuccess(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byKey[key]
	if !ok {
		return
	}
	rec.errorCount = 0
	rec.status = statusActive
}

// ReportFailure timestamps the failure. A rate-limited failure sends the key
// into cooldown immediately; otherwise cooldown starts only after the
// consecutive-failure limit is reached.
func (m *Manager) ReportFailure(key string, rateLimited bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byKey[key]
	if !ok {
		return
	}
	rec.lastFailedAt = m.now()
	if rateLimited {
		rec.status = statusCooldown
		return
	}
	rec.errorCount++
	if rec.errorCount >= m.failureLimit {
		rec.status = statusCooldown
	}
}
