// Package store persists canonical article records and answers the candidate
// queries the dedup tiers need. The unique URL constraint here is the
// pipeline's real duplicate guarantee; every cache check upstream is advisory.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateURL is returned by Insert when the article's URL already
// exists. Callers treat it as a legitimate duplicate outcome, not a failure.
var ErrDuplicateURL = errors.New("article url already exists")

// Analysis version markers.
const (
	AnalysisFresh     = "fresh"
	AnalysisInherited = "inherited"
	AnalysisPending   = "pending"
)

// Article is the canonical persisted record: one per real-world
// story-with-source.
type Article struct {
	ID              int64
	SourceName      string
	Title           string
	Description     string
	Content         string
	URL             string
	ImageURL        string
	PublishedAt     time.Time
	Locale          string
	Category        string
	Sentiment       float64
	Bias            float64
	Credibility     float64
	Reliability     float64
	TrustScore      float64
	ClusterID       int64
	ClusterTopic    string
	Embedding       []float32
	AnalysisVersion string
	AnalyzedAt      time.Time
	CreatedAt       time.Time
}

// HasFreshAnalysis reports whether this article's analysis qualifies as an
// inheritance source: non-placeholder and younger than the window.
func (a *Article) HasFreshAnalysis(now time.Time, window time.Duration) bool {
	if a.AnalysisVersion == AnalysisPending || a.AnalysisVersion == "" {
		return false
	}
	return now.Sub(a.AnalyzedAt) < window
}

// SimilarArticle pairs a vector-search candidate with its similarity score.
type SimilarArticle struct {
	Article    Article
	Similarity float64
}

// Store is the durable article repository.
type Store interface {
	// Insert persists the article and fills in its ID. A repeat URL returns
	// ErrDuplicateURL.
	Insert(ctx context.Context, a *Article) error
	// RecentArticles returns articles published since the cutoff for a
	// locale, newest first, capped at limit.
	RecentArticles(ctx context.Context, since time.Time, locale string, limit int) ([]Article, error)
	// SearchSimilar runs a nearest-neighbor search over embeddings within
	// the window and locale, best match first.
	SearchSimilar(ctx context.Context, vector []float32, since time.Time, locale string, limit int) ([]SimilarArticle, error)
	// LatestClusterMatch returns the most recent article with the exact
	// (clusterTopic, category, locale) key inside the window, or nil.
	LatestClusterMatch(ctx context.Context, topic, category, locale string, since time.Time) (*Article, error)
	// MaxClusterID returns the highest cluster id ever persisted.
	MaxClusterID(ctx context.Context) (int64, error)
}
