package news

import (
	"context"
	"errors"
	"math/rand"

	"go.uber.org/zap"

	"github.com/newsfuse/ingest/internal/breaker"
	"github.com/newsfuse/ingest/internal/cache"
)

// Cycle is one regional/topical query set in the fixed rotation.
type Cycle struct {
	Name    string
	Locale  string
	Queries []string
}

const (
	cycleCounterKey = "ingest:cycle:counter"
	// counterResetLimit caps unbounded growth of the shared counter.
	counterResetLimit = 1_000_000
)

// Coordinator rotates through the cycle list using a shared atomic counter so
// multiple processes advance the same rotation, and falls back to the
// secondary provider when the primary under-delivers.
type Coordinator struct {
	cycles    []Cycle
	cache     cache.Cache
	primary   Provider
	secondary Provider
	brk       *breaker.Breaker
	minYield  int
	logger    *zap.Logger
}

// NewCoordinator constructs a Coordinator. The secondary provider may be nil.
func NewCoordinator(
	cycles []Cycle,
	c cache.Cache,
	primary Provider,
	secondary Provider,
	brk *breaker.Breaker,
	minYield int,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cycles:    cycles,
		cache:     c,
		primary:   primary,
		secondary: secondary,
		brk:       brk,
		minYield:  minYield,
		logger:    logger,
	}
}

// NextCycle atomically picks the next cycle in rotation. When the shared
// counter is unavailable the choice degrades to pseudo-random, and the
// counter is reset once it grows unbounded.
func (co *Coordinator) NextCycle(ctx context.Context) Cycle {
	if len(co.cycles) == 0 {
		return Cycle{}
	}
	n, err := co.cache.Incr(ctx, cycleCounterKey)
	if err != nil {
		co.logger.Warn("cycle counter unavailable, picking at random", zap.Error(err))
		return co.cycles[rand.Intn(len(co.cycles))]
	}
	if n > counterResetLimit {
		if err := co.cache.Delete(ctx, cycleCounterKey); err != nil {
			co.logger.Warn("cycle counter reset failed", zap.Error(err))
		}
	}
	idx := int((n - 1) % int64(len(co.cycles)))
	return co.cycles[idx]
}

// RunCycle fetches the chosen cycle's queries from the primary provider and
// triggers the secondary when total yield falls below the minimum or the
// primary's circuit is open. The combined batch is de-duplicated by URL.
func (co *Coordinator) RunCycle(ctx context.Context, cycle Cycle) []RawArticle {
	var combined []RawArticle
	circuitOpen := false

	for _, term := range cycle.Queries {
		batch, err := co.primary.Fetch(ctx, Query{Term: term, Locale: cycle.Locale})
		combined = append(combined, batch...)
		if err != nil {
			if errors.Is(err, breaker.ErrCircuitOpen) {
				circuitOpen = true
				break
			}
			co.logger.Warn("primary fetch failed",
				zap.String("provider", co.primary.Name()),
				zap.String("query", term),
				zap.Error(err),
			)
		}
	}

	if co.secondary != nil && (circuitOpen || len(combined) < co.minYield) {
		co.logger.Info("falling back to secondary provider",
			zap.String("cycle", cycle.Name),
			zap.Int("primary_yield", len(combined)),
			zap.Bool("circuit_open", circuitOpen),
		)
		for _, term := range cycle.Queries {
			batch, err := co.secondary.Fetch(ctx, Query{Term: term, Locale: cycle.Locale})
			combined = append(combined, batch...)
			if err != nil {
				co.logger.Warn("secondary fetch failed",
					zap.String("provider", co.secondary.Name()),
					zap.String("query", term),
					zap.Error(err),
				)
			}
		}
	}

	return NormalizeBatch(combined)
}
