package gatekeeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/newsfuse/ingest/internal/ai"
	"github.com/newsfuse/ingest/internal/cache"
	"github.com/newsfuse/ingest/internal/metrics"
)

// MockClassifier is a mock implementation of the Classifier interface.
type MockClassifier struct {
	mock.Mock
}

func (m *MockClassifier) Classify(ctx context.Context, headline, description, source string) (ai.Classification, error) {
	args := m.Called(ctx, headline, description, source)
	return args.Get(0).(ai.Classification), args.Error(1)
}

func newTestGatekeeper(classifier Classifier, c cache.Cache) *Gatekeeper {
	metrics.Init()
	return New(classifier, c, Config{
		BlockedDomains:  []string{"tabloid.example", "*.contentfarm.example"},
		BlockedKeywords: []string{"horoscope", "you won't believe"},
		HardModel:       "command-a-03-2025",
		SoftModel:       "command-r7b-12-2024",
	}, nil)
}

func TestEvaluateBlockedDomainSkipsAI(t *testing.T) {
	cl := &MockClassifier{}
	g := newTestGatekeeper(cl, cache.NewMemory())

	v := g.Evaluate(context.Background(), "https://tabloid.example/story", "Some headline here.", "", "Tabloid")
	assert.True(t, v.IsJunk)
	assert.Equal(t, ClassJunk, v.Classification)

	// Wildcard suffixes match subdomains too.
	v = g.Evaluate(context.Background(), "https://feed.contentfarm.example/x", "Another headline here.", "", "Farm")
	assert.True(t, v.IsJunk)

	cl.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEvaluateBlockedKeywordSkipsAI(t *testing.T) {
	cl := &MockClassifier{}
	g := newTestGatekeeper(cl, cache.NewMemory())

	v := g.Evaluate(context.Background(), "https://news.example/a", "Your Weekly Horoscope Is Here", "", "Site")
	assert.True(t, v.IsJunk)
	cl.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEvaluateAIVerdictCached(t *testing.T) {
	cl := &MockClassifier{}
	g := newTestGatekeeper(cl, cache.NewMemory())

	cl.On("Classify", mock.Anything, "Fed raises rates.", "desc", "Reuters").
		Return(ai.Classification{Category: "business", Type: ai.TypeHardNews}, nil).Once()

	first := g.Evaluate(context.Background(), "https://news.example/fed", "Fed raises rates.", "desc", "Reuters")
	assert.Equal(t, ClassHardNews, first.Classification)
	assert.Equal(t, "command-a-03-2025", first.RecommendedModel)
	assert.Equal(t, "business", first.Category)
	assert.False(t, first.IsJunk)

	// Second evaluation of the same URL is served from the cache.
	second := g.Evaluate(context.Background(), "https://news.example/fed", "Fed raises rates.", "desc", "Reuters")
	assert.Equal(t, first, second)
	cl.AssertNumberOfCalls(t, "Classify", 1)
}

func TestEvaluateJunkVerdictHasNoModel(t *testing.T) {
	cl := &MockClassifier{}
	g := newTestGatekeeper(cl, cache.NewMemory())

	cl.On("Classify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(ai.Classification{Category: "other", Type: ai.TypeSoftNews, IsJunk: true}, nil)

	v := g.Evaluate(context.Background(), "https://news.example/ad", "Sponsored: best mattresses.", "", "Site")
	assert.True(t, v.IsJunk)
	assert.Equal(t, ClassJunk, v.Classification)
	assert.Empty(t, v.RecommendedModel)
}

func TestEvaluateFallbackNotCached(t *testing.T) {
	cl := &MockClassifier{}
	g := newTestGatekeeper(cl, cache.NewMemory())

	cl.On("Classify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(ai.Classification{}, assert.AnError).Once()
	cl.On("Classify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(ai.Classification{Category: "world", Type: ai.TypeHardNews}, nil).Once()

	v := g.Evaluate(context.Background(), "https://news.example/b", "Quake hits coastal region.", "", "AP")
	assert.Equal(t, ClassSoftNews, v.Classification, "failure defaults to soft news")
	assert.False(t, v.IsJunk)
	assert.Equal(t, "command-r7b-12-2024", v.RecommendedModel)

	// The fallback was not cached, so the next pass retries the classifier.
	v = g.Evaluate(context.Background(), "https://news.example/b", "Quake hits coastal region.", "", "AP")
	assert.Equal(t, ClassHardNews, v.Classification)
	cl.AssertNumberOfCalls(t, "Classify", 2)
}

func TestEvaluateCacheFailureDegradesToAI(t *testing.T) {
	cl := &MockClassifier{}
	g := New(cl, &failingCache{}, Config{SoftModel: "command-r7b-12-2024"}, nil)

	cl.On("Classify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(ai.Classification{Category: "tech", Type: ai.TypeSoftNews}, nil)

	v := g.Evaluate(context.Background(), "https://news.example/c", "New chip announced today.", "", "Site")
	assert.Equal(t, ClassSoftNews, v.Classification)
}

type failingCache struct{ cache.Memory }

func (f *failingCache) Get(context.Context, string) (string, bool, error) {
	return "", false, assert.AnError
}

func (f *failingCache) Set(context.Context, string, string, time.Duration) error {
	return assert.AnError
}

func TestDomainBlocklistMatching(t *testing.T) {
	b := newDomainBlocklist([]string{"spam.example", "*.mirror.example", ".farm.example", "", "  "})

	assert.True(t, b.isBlocked("spam.example"))
	assert.False(t, b.isBlocked("notspam.example"))
	assert.True(t, b.isBlocked("a.mirror.example"))
	assert.True(t, b.isBlocked("mirror.example"))
	assert.True(t, b.isBlocked("deep.farm.example"))
	assert.False(t, b.isBlocked(""))
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "news.example", hostOf("https://news.example/path?q=1"))
	assert.Equal(t, "news.example", hostOf("https://News.Example:8443/path"))
	assert.Equal(t, "news.example", hostOf("news.example"))
}
