package embed

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsfuse/ingest/internal/ai"
	"github.com/newsfuse/ingest/internal/metrics"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls [][]string
	fail  error
	short bool
}

func (f *fakeProvider) ModelName() string { return "fake" }

func (f *fakeProvider) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls = append(f.calls, texts)
	f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	n := len(texts)
	if f.short {
		n--
	}
	out := make([][]float32, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, []float32{float32(i)})
	}
	return out, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestBatcherFlushesOnSizeThreshold(t *testing.T) {
	metrics.Init()
	provider := &fakeProvider{}
	b := New(provider, Config{BatchSize: 3, FlushTimeout: time.Minute}, nil)

	var wg sync.WaitGroup
	vectors := make([][]float32, 3)
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vectors[i], errs[i] = b.Embed(context.Background(), "text")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, provider.callCount(), "three requests amortize into one call")
	seen := make(map[float32]int)
	for i := 0; i < 3; i++ {
		require.NoError(t, errs[i])
		require.Len(t, vectors[i], 1)
		seen[vectors[i][0]]++
	}
	// Each waiter received the vector at its own index, no duplicates.
	assert.Len(t, seen, 3)
}

func TestBatcherFlushesOnTimeout(t *testing.T) {
	metrics.Init()
	provider := &fakeProvider{}
	b := New(provider, Config{BatchSize: 10, FlushTimeout: 50 * time.Millisecond}, nil)

	start := time.Now()
	vec, err := b.Embed(context.Background(), "lonely text")
	require.NoError(t, err)
	assert.NotNil(t, vec)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, 1, provider.callCount())
}

func TestBatcherFailsWholeBatchOnError(t *testing.T) {
	metrics.Init()
	provider := &fakeProvider{fail: assert.AnError}
	b := New(provider, Config{BatchSize: 2, FlushTimeout: time.Minute}, nil)

	var wg sync.WaitGroup
	var failed atomic.Int32
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.Embed(context.Background(), "text"); err != nil {
				failed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(2), failed.Load())
}

func TestBatcherFailsClosedOnCountMismatch(t *testing.T) {
	metrics.Init()
	provider := &fakeProvider{short: true}
	b := New(provider, Config{BatchSize: 2, FlushTimeout: time.Minute}, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = b.Embed(context.Background(), "text")
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.ErrorIs(t, err, ai.ErrEmbeddingCountMismatch)
	}
}

func TestBatcherHonorsCallerContext(t *testing.T) {
	metrics.Init()
	provider := &fakeProvider{}
	b := New(provider, Config{BatchSize: 10, FlushTimeout: time.Minute}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Embed(ctx, "text")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
