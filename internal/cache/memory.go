package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Cache used in tests and as a degraded-mode fallback
// when Redis is unreachable. TTLs are honored lazily on read.
type Memory struct {
	mu      sync.Mutex
	values  map[string]memoryEntry
	sets    map[string]map[string]struct{}
	expires map[string]time.Time
	now     func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		values:  make(map[string]memoryEntry),
		sets:    make(map[string]map[string]struct{}),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && m.now().After(e.expiresAt)
}

// Get returns the value and whether the key was present.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.values[key]
	if !ok || m.expired(e) {
		delete(m.values, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores a value with an optional TTL.
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.values[key] = e
	return nil
}

// SetNX stores the value only if the key is absent.
func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.values[key]; ok && !m.expired(e) {
		return false, nil
	}
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.values[key] = e
	return true, nil
}

// Delete removes a key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.sets, key)
	return nil
}

// Incr atomically increments an integer key.
func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	if e, ok := m.values[key]; ok && !m.expired(e) {
		parsed, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	}
	n++
	m.values[key] = memoryEntry{value: strconv.FormatInt(n, 10)}
	return n, nil
}

// Expire sets or refreshes the TTL on a key.
func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.values[key]; ok {
		e.expiresAt = m.now().Add(ttl)
		m.values[key] = e
	}
	if _, ok := m.sets[key]; ok {
		m.expires[key] = m.now().Add(ttl)
	}
	return nil
}

// SAdd adds members to a set.
func (m *Memory) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok || m.setExpired(key) {
		set = make(map[string]struct{})
		m.sets[key] = set
		delete(m.expires, key)
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
	return nil
}

// SIsMember reports set membership.
func (m *Memory) SIsMember(_ context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setExpired(key) {
		delete(m.sets, key)
		delete(m.expires, key)
		return false, nil
	}
	set, ok := m.sets[key]
	if !ok {
		return false, nil
	}
	_, present := set[member]
	return present, nil
}

func (m *Memory) setExpired(key string) bool {
	exp, ok := m.expires[key]
	return ok && m.now().After(exp)
}
