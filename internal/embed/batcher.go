// Package embed amortizes embedding calls across concurrent pipeline workers
// by batching requests into one upstream call.
package embed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/newsfuse/ingest/internal/ai"
	"github.com/newsfuse/ingest/internal/metrics"
)

const (
	// DefaultBatchSize triggers a flush once this many requests are queued.
	DefaultBatchSize = 10
	// DefaultFlushTimeout triggers a flush this long after the first queued
	// request, whichever comes first.
	DefaultFlushTimeout = 2 * time.Second
)

type request struct {
	text string
	done chan result
}

type result struct {
	vector []float32
	err    error
}

// Batcher accumulates embedding requests and flushes them in one provider
// call on reaching the size threshold or the timeout since the first queued
// item. On any call failure or result-count mismatch every request in the
// batch fails; there is no partial pairing.
type Batcher struct {
	provider     ai.EmbeddingsProvider
	batchSize    int
	flushTimeout time.Duration
	callTimeout  time.Duration
	logger       *zap.Logger

	mu      sync.Mutex
	pending []request
	timer   *time.Timer
}

// Config customizes Batcher behavior.
type Config struct {
	BatchSize    int
	FlushTimeout time.Duration
	CallTimeout  time.Duration
}

// New constructs a Batcher.
func New(provider ai.EmbeddingsProvider, cfg Config, logger *zap.Logger) *Batcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{
		provider:     provider,
		batchSize:    cfg.BatchSize,
		flushTimeout: cfg.FlushTimeout,
		callTimeout:  cfg.CallTimeout,
		logger:       logger,
	}
}

// Embed queues a text and blocks until its vector arrives, the batch fails,
// or the caller's context finishes.
func (b *Batcher) Embed(ctx context.Context, text string) ([]float32, error) {
	req := request{text: text, done: make(chan result, 1)}

	b.mu.Lock()
	b.pending = append(b.pending, req)
	switch {
	case len(b.pending) >= b.batchSize:
		batch := b.takeBatchLocked()
		b.mu.Unlock()
		go b.flush(batch)
	case len(b.pending) == 1:
		b.timer = time.AfterFunc(b.flushTimeout, b.flushOnTimeout)
		b.mu.Unlock()
	default:
		b.mu.Unlock()
	}

	select {
	case res := <-req.done:
		return res.vector, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// takeBatchLocked detaches the pending batch; callers hold b.mu.
func (b *Batcher) takeBatchLocked() []request {
	batch := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return batch
}

func (b *Batcher) flushOnTimeout() {
	b.mu.Lock()
	batch := b.takeBatchLocked()
	b.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	b.flush(batch)
}

// flush runs one provider call for the batch. It uses its own deadline so a
// single caller's cancellation cannot fail the whole batch.
func (b *Batcher) flush(batch []request) {
	metrics.ObserveEmbeddingBatch(len(batch))

	texts := make([]string, len(batch))
	for i, req := range batch {
		texts[i] = req.text
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.callTimeout)
	defer cancel()

	vectors, err := b.provider.EmbedTexts(ctx, texts)
	if err == nil && len(vectors) != len(batch) {
		err = fmt.Errorf("%w: got %d vectors for %d texts",
			ai.ErrEmbeddingCountMismatch, len(vectors), len(batch))
	}
	if err != nil {
		b.logger.Warn("embedding batch failed", zap.Int("size", len(batch)), zap.Error(err))
		for _, req := range batch {
			req.done <- result{err: err}
		}
		return
	}
	for i, req := range batch {
		req.done <- result{vector: vectors[i]}
	}
}
