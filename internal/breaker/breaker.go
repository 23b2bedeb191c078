// Package breaker implements a per-provider circuit breaker whose state lives
// in the shared cache so every worker in the fleet observes the same view.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/newsfuse/ingest/internal/cache"
	"github.com/newsfuse/ingest/internal/metrics"
)

// ErrCircuitOpen signals that calls to the provider are currently blocked.
var ErrCircuitOpen = errors.New("circuit open")

const (
	// DefaultFailureThreshold opens the circuit after this many consecutive failures.
	DefaultFailureThreshold = 5
	// DefaultCooldown is how long an open circuit blocks calls before a trial.
	DefaultCooldown = 5 * time.Minute

	trialWindow = 30 * time.Second
)

// Breaker tracks provider health. CLOSED allows calls; OPEN blocks them until
// the cooldown elapses, after which a single trial call is admitted
// (half-open). Trial success closes the circuit, trial failure re-opens it.
type Breaker struct {
	cache     cache.Cache
	threshold int
	cooldown  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// Config customizes breaker behavior.
type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// New constructs a Breaker over the shared cache.
func New(c cache.Cache, cfg Config, logger *zap.Logger) *Breaker {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		cache:     c,
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (b *Breaker) SetClock(now func() time.Time) { b.now = now }

func failsKey(provider string) string     { return "breaker:fails:" + provider }
func openUntilKey(provider string) string { return "breaker:open_until:" + provider }
func trialKey(provider string) string     { return "breaker:trial:" + provider }

// Allow reports whether a call to the provider may proceed. Cache failures
// degrade to allowing the call: the breaker is an optimization, not a gate
// the pipeline can afford to lose entirely.
func (b *Breaker) Allow(ctx context.Context, provider string) bool {
	raw, ok, err := b.cache.Get(ctx, openUntilKey(provider))
	if err != nil {
		b.logger.Warn("breaker state read failed", zap.String("provider", provider), zap.Error(err))
		return true
	}
	if !ok {
		return true
	}
	openUntil, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return true
	}
	if b.now().Unix() < openUntil {
		return false
	}
	// Cooldown elapsed: admit exactly one trial call across the fleet.
	acquired, err := b.cache.SetNX(ctx, trialKey(provider), "1", trialWindow)
	if err != nil {
		return true
	}
	return acquired
}

// RecordSuccess closes the circuit and clears the failure streak.
func (b *Breaker) RecordSuccess(ctx context.Context, provider string) {
	for _, key := range []string{failsKey(provider), openUntilKey(provider), trialKey(provider)} {
		if err := b.cache.Delete(ctx, key); err != nil {
			b.logger.Warn("breaker state clear failed", zap.String("key", key), zap.Error(err))
		}
	}
	metrics.SetBreakerOpen(provider, false)
}

// RecordFailure bumps the consecutive failure count and opens the circuit
// once the threshold is reached. A failed trial re-opens immediately.
func (b *Breaker) RecordFailure(ctx context.Context, provider string) {
	if err := b.cache.Delete(ctx, trialKey(provider)); err != nil {
		b.logger.Warn("breaker trial clear failed", zap.String("provider", provider), zap.Error(err))
	}
	fails, err := b.cache.Incr(ctx, failsKey(provider))
	if err != nil {
		b.logger.Warn("breaker failure count failed", zap.String("provider", provider), zap.Error(err))
		return
	}
	if fails < int64(b.threshold) {
		return
	}
	openUntil := b.now().Add(b.cooldown).Unix()
	err = b.cache.Set(ctx, openUntilKey(provider), fmt.Sprintf("%d", openUntil), 2*b.cooldown)
	if err != nil {
		b.logger.Warn("breaker open failed", zap.String("provider", provider), zap.Error(err))
		return
	}
	b.logger.Warn("circuit opened",
		zap.String("provider", provider),
		zap.Int64("consecutive_failures", fails),
		zap.Duration("cooldown", b.cooldown),
	)
	metrics.SetBreakerOpen(provider, true)
}
