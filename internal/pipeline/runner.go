package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newsfuse/ingest/internal/metrics"
	"github.com/newsfuse/ingest/internal/news"
)

// Tally summarizes one run's outcomes.
type Tally struct {
	Counts map[Outcome]int
}

// Saved returns how many articles were persisted, fresh or inherited.
func (t Tally) Saved() int {
	return t.Counts[OutcomeSavedFresh] + t.Counts[OutcomeSavedInherited]
}

// Runner fans a batch of articles out over a bounded worker pool.
type Runner struct {
	pipeline    *Pipeline
	concurrency int
	logger      *zap.Logger
}

// NewRunner constructs a Runner.
func NewRunner(p *Pipeline, concurrency int, logger *zap.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{pipeline: p, concurrency: concurrency, logger: logger}
}

// Run processes the batch and returns the outcome tally. Workers drain the
// queue until it empties or the context is canceled; canceled items count as
// errors.
func (r *Runner) Run(ctx context.Context, articles []news.RawArticle) Tally {
	runID := uuid.NewString()
	start := time.Now()
	logger := r.logger.With(zap.String("run_id", runID))
	logger.Info("pipeline run started", zap.Int("articles", len(articles)))

	jobs := make(chan news.RawArticle)
	tally := Tally{Counts: make(map[Outcome]int)}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < r.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for raw := range jobs {
				outcome, err := r.pipeline.Process(ctx, raw)
				if err != nil {
					logger.Warn("article processing failed",
						zap.String("url", raw.URL), zap.Error(err))
				}
				mu.Lock()
				tally.Counts[outcome]++
				mu.Unlock()
			}
		}()
	}

	for _, raw := range articles {
		select {
		case jobs <- raw:
		case <-ctx.Done():
			mu.Lock()
			tally.Counts[OutcomeError]++
			mu.Unlock()
		}
	}
	close(jobs)
	wg.Wait()

	elapsed := time.Since(start)
	metrics.ObserveCycleDuration(elapsed)
	logger.Info("pipeline run finished",
		zap.Duration("elapsed", elapsed),
		zap.Int("saved", tally.Saved()),
		zap.Int("duplicates", tally.Counts[OutcomeDuplicate]),
		zap.Int("junk", tally.Counts[OutcomeJunk]),
		zap.Int("invalid", tally.Counts[OutcomeInvalid]),
		zap.Int("errors", tally.Counts[OutcomeError]))
	return tally
}
