package keyring

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRoundRobin(t *testing.T) {
	t.Parallel()

	m := New()
	m.RegisterKeys("newsapi", []string{"k1", "k2", "k3"})

	seen := make(map[string]int)
	for i := 0; i < 3; i++ {
		key, err := m.Acquire("newsapi")
		require.NoError(t, err)
		seen[key]++
	}
	// Each key visited exactly once before any repeats.
	assert.Len(t, seen, 3)
	for key, n := range seen {
		assert.Equalf(t, 1, n, "key %s acquired %d times", key, n)
	}

	key, err := m.Acquire("newsapi")
	require.NoError(t, err)
	assert.Equal(t, "k1", key)
}

func TestAcquireUnknownProvider(t *testing.T) {
	t.Parallel()

	m := New()
	_, err := m.Acquire("ghost")
	assert.ErrorIs(t, err, ErrKeyExhausted)
}

func TestRegisterKeysIdempotent(t *testing.T) {
	t.Parallel()

	m := New()
	m.RegisterKeys("newsapi", []string{"k1", "k2"})
	m.RegisterKeys("newsapi", []string{"k1", "k2"})

	seen := make(map[string]struct{})
	for i := 0; i < 2; i++ {
		key, err := m.Acquire("newsapi")
		require.NoError(t, err)
		seen[key] = struct{}{}
	}
	assert.Len(t, seen, 2)
}

func TestRateLimitedKeyExcludedUntilCooldown(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	m := New(WithClock(func() time.Time { return now }))
	m.RegisterKeys("newsapi", []string{"k1", "k2"})

	m.ReportFailure("k1", true)

	for i := 0; i < 4; i++ {
		key, err := m.Acquire("newsapi")
		require.NoError(t, err)
		assert.Equal(t, "k2", key)
	}

	// Cooldown elapses, k1 is revived lazily on the next acquire.
	now = now.Add(DefaultCooldown + time.Second)
	seen := make(map[string]struct{})
	for i := 0; i < 2; i++ {
		key, err := m.Acquire("newsapi")
		require.NoError(t, err)
		seen[key] = struct{}{}
	}
	assert.Contains(t, seen, "k1")
}

func TestConsecutiveFailuresTriggerCooldown(t *testing.T) {
	t.Parallel()

	m := New(WithFailureLimit(5))
	m.RegisterKeys("newsapi", []string{"k1", "k2"})

	for i := 0; i < 4; i++ {
		m.ReportFailure("k1", false)
	}
	// Four failures: still active.
	key, err := m.Acquire("newsapi")
	require.NoError(t, err)
	assert.Equal(t, "k1", key)

	m.ReportFailure("k1", false)
	for i := 0; i < 3; i++ {
		key, err = m.Acquire("newsapi")
		require.NoError(t, err)
		assert.Equal(t, "k2", key)
	}
}

func TestReportSuccessResetsStreak(t *testing.T) {
	t.Parallel()

	m := New(WithFailureLimit(5))
	m.RegisterKeys("newsapi", []string{"k1"})

	for i := 0; i < 4; i++ {
		m.ReportFailure("k1", false)
	}
	m.ReportSuccess("k1")
	for i := 0; i < 4; i++ {
		m.ReportFailure("k1", false)
	}

	key, err := m.Acquire("newsapi")
	require.NoError(t, err)
	assert.Equal(t, "k1", key)
}

func TestLastKeyStandingThenExhausted(t *testing.T) {
	t.Parallel()

	m := New()
	keys := make([]string, 12)
	for i := range keys {
		keys[i] = fmt.Sprintf("k%02d", i)
	}
	m.RegisterKeys("newsapi", keys)

	// Eleven keys rate-limit in one cycle.
	for _, key := range keys[:11] {
		m.ReportFailure(key, true)
	}

	key, err := m.Acquire("newsapi")
	require.NoError(t, err)
	assert.Equal(t, "k11", key)

	m.ReportFailure("k11", true)
	_, err = m.Acquire("newsapi")
	require.True(t, errors.Is(err, ErrKeyExhausted))
}
