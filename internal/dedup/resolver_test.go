package dedup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/newsfuse/ingest/internal/cache"
	"github.com/newsfuse/ingest/internal/metrics"
	"github.com/newsfuse/ingest/internal/store"
)

// MockStore is a mock implementation of the store.Store interface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Insert(ctx context.Context, a *store.Article) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockStore) RecentArticles(ctx context.Context, since time.Time, locale string, limit int) ([]store.Article, error) {
	args := m.Called(ctx, since, locale, limit)
	arts, _ := args.Get(0).([]store.Article)
	return arts, args.Error(1)
}

func (m *MockStore) SearchSimilar(ctx context.Context, vector []float32, since time.Time, locale string, limit int) ([]store.SimilarArticle, error) {
	args := m.Called(ctx, vector, since, locale, limit)
	results, _ := args.Get(0).([]store.SimilarArticle)
	return results, args.Error(1)
}

func (m *MockStore) LatestClusterMatch(ctx context.Context, topic, category, locale string, since time.Time) (*store.Article, error) {
	args := m.Called(ctx, topic, category, locale, since)
	a, _ := args.Get(0).(*store.Article)
	return a, args.Error(1)
}

func (m *MockStore) MaxClusterID(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func newResolver(st store.Store, c cache.Cache) *Resolver {
	metrics.Init()
	return New(st, c, Config{}, nil)
}

func TestFindFuzzyMatchPicksBestCandidate(t *testing.T) {
	st := &MockStore{}
	r := newResolver(st, cache.NewMemory())

	st.On("RecentArticles", mock.Anything, mock.Anything, "en", candidateLimit).Return([]store.Article{
		{ID: 1, Title: "Oil prices surge after OPEC cut."},
		{ID: 2, Title: "Federal Reserve raises rates 0.25 percent."},
		{ID: 3, Title: "Fed raises interest rates by a quarter point."},
	}, nil)

	match, err := r.FindFuzzyMatch(context.Background(), "Fed raises interest rates by 0.25%.", "en")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, TierFuzzy, match.Tier)
	assert.Equal(t, int64(3), match.Article.ID, "highest-scoring candidate wins")
	assert.Greater(t, match.Similarity, 0.80)
}

func TestFindFuzzyMatchNoCandidateAboveThreshold(t *testing.T) {
	st := &MockStore{}
	r := newResolver(st, cache.NewMemory())

	st.On("RecentArticles", mock.Anything, mock.Anything, "en", candidateLimit).Return([]store.Article{
		{ID: 1, Title: "Champions league final ends in penalty drama."},
	}, nil)

	match, err := r.FindFuzzyMatch(context.Background(), "Fed raises interest rates by 0.25%.", "en")
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestFindSemanticMatchRespectsThreshold(t *testing.T) {
	st := &MockStore{}
	r := newResolver(st, cache.NewMemory())
	vec := []float32{0.1, 0.2}

	st.On("SearchSimilar", mock.Anything, vec, mock.Anything, "en", semanticSearchLimit).Return([]store.SimilarArticle{
		{Article: store.Article{ID: 1}, Similarity: 0.95},
		{Article: store.Article{ID: 2}, Similarity: 0.91},
	}, nil)

	match, err := r.FindSemanticMatch(context.Background(), vec, "en")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, int64(1), match.Article.ID)

	// No embedding means the tier is skipped entirely.
	match, err = r.FindSemanticMatch(context.Background(), nil, "en")
	require.NoError(t, err)
	assert.Nil(t, match)
	st.AssertNumberOfCalls(t, "SearchSimilar", 1)
}

func TestMatchInheritable(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	window := 24 * time.Hour

	fresh := &Match{Article: store.Article{AnalysisVersion: store.AnalysisFresh, AnalyzedAt: now.Add(-time.Hour)}}
	assert.True(t, fresh.Inheritable(now, window))

	pending := &Match{Article: store.Article{AnalysisVersion: store.AnalysisPending, AnalyzedAt: now}}
	assert.False(t, pending.Inheritable(now, window))

	stale := &Match{Article: store.Article{AnalysisVersion: store.AnalysisFresh, AnalyzedAt: now.Add(-30 * time.Hour)}}
	assert.False(t, stale.Inheritable(now, window))

	var missing *Match
	assert.False(t, missing.Inheritable(now, window))
}

func TestAssignClusterReusesVectorNeighborhood(t *testing.T) {
	st := &MockStore{}
	r := newResolver(st, cache.NewMemory())
	vec := []float32{0.1}

	st.On("SearchSimilar", mock.Anything, vec, mock.Anything, "en", semanticSearchLimit).Return([]store.SimilarArticle{
		{Article: store.Article{ID: 1, ClusterID: 77}, Similarity: 0.85},
	}, nil)

	got := r.AssignCluster(context.Background(), vec, "fed rate decision", "business", "en")
	assert.Equal(t, int64(77), got)
	st.AssertNotCalled(t, "LatestClusterMatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAssignClusterFallsBackToTopicKey(t *testing.T) {
	st := &MockStore{}
	r := newResolver(st, cache.NewMemory())
	vec := []float32{0.1}

	st.On("SearchSimilar", mock.Anything, vec, mock.Anything, "en", semanticSearchLimit).
		Return([]store.SimilarArticle{{Article: store.Article{ClusterID: 9}, Similarity: 0.60}}, nil)
	st.On("LatestClusterMatch", mock.Anything, "fed rate decision", "business", "en", mock.Anything).
		Return(&store.Article{ClusterID: 55}, nil)

	got := r.AssignCluster(context.Background(), vec, "fed rate decision", "business", "en")
	assert.Equal(t, int64(55), got)
}

func TestAssignClusterIdempotentForSameTopicKey(t *testing.T) {
	st := &MockStore{}
	r := newResolver(st, cache.NewMemory())

	st.On("LatestClusterMatch", mock.Anything, "fed rate decision", "business", "en", mock.Anything).
		Return(&store.Article{ClusterID: 55}, nil)

	first := r.AssignCluster(context.Background(), nil, "fed rate decision", "business", "en")
	second := r.AssignCluster(context.Background(), nil, "fed rate decision", "business", "en")
	assert.Equal(t, first, second)
}

func TestMintClusterIDReconcilesSuspiciousReset(t *testing.T) {
	st := &MockStore{}
	mem := cache.NewMemory()
	r := newResolver(st, mem)

	st.On("SearchSimilar", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	st.On("LatestClusterMatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	st.On("MaxClusterID", mock.Anything).Return(int64(500), nil)

	got := r.AssignCluster(context.Background(), nil, "new topic", "business", "en")
	assert.Equal(t, int64(501), got, "fresh mint below persisted max fast-forwards past it")

	next := r.AssignCluster(context.Background(), nil, "another topic", "business", "en")
	assert.Equal(t, int64(502), next, "counter was fast-forwarded")
}

type brokenCounterCache struct {
	*cache.Memory
}

func (b *brokenCounterCache) Incr(context.Context, string) (int64, error) {
	return 0, assert.AnError
}

func TestMintClusterIDEpochFallback(t *testing.T) {
	st := &MockStore{}
	r := newResolver(st, &brokenCounterCache{cache.NewMemory()})
	now := time.Unix(1700000000, 0).UTC()
	r.SetClock(func() time.Time { return now })

	st.On("LatestClusterMatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	got := r.AssignCluster(context.Background(), nil, "topic", "business", "en")
	assert.Equal(t, now.Unix(), got)
}

func TestConcurrentMintingNeverDuplicates(t *testing.T) {
	st := &MockStore{}
	mem := cache.NewMemory()
	r := newResolver(st, mem)

	st.On("MaxClusterID", mock.Anything).Return(int64(0), nil)

	const n = 50
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = r.mintClusterID(context.Background())
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]struct{}, n)
	for _, id := range ids {
		_, dup := seen[id]
		assert.False(t, dup, "duplicate cluster id %d", id)
		seen[id] = struct{}{}
	}
}

func TestSeenRecentlyAndRegister(t *testing.T) {
	st := &MockStore{}
	r := newResolver(st, cache.NewMemory())
	ctx := context.Background()

	assert.False(t, r.SeenRecently(ctx, "https://site.test/a"))
	r.RegisterSeen(ctx, "https://site.test/a", "Some headline about markets.")
	assert.True(t, r.SeenRecently(ctx, "https://site.test/a"))
}
