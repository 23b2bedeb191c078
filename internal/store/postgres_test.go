package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testArticle(now time.Time) *Article {
	return &Article{
		SourceName:      "Reuters",
		Title:           "Fed raises interest rates by 0.25%.",
		Description:     "The Federal Reserve raised rates.",
		Content:         "Full body.",
		URL:             "https://site.test/fed-rates",
		PublishedAt:     now,
		Locale:          "en",
		Category:        "business",
		TrustScore:      0.8,
		ClusterID:       42,
		ClusterTopic:    "fed rate decision",
		Embedding:       []float32{0.5, -0.25},
		AnalysisVersion: AnalysisFresh,
		AnalyzedAt:      now,
		CreatedAt:       now,
	}
}

func TestInsertReturnsID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	a := testArticle(now)

	mock.ExpectQuery("INSERT INTO articles").
		WithArgs(
			a.SourceName, a.Title, a.Description, a.Content, a.URL, a.ImageURL,
			a.PublishedAt, a.Locale, a.Category, a.Sentiment, a.Bias,
			a.Credibility, a.Reliability, a.TrustScore, a.ClusterID,
			a.ClusterTopic, "[0.5,-0.25]", a.AnalysisVersion, a.AnalyzedAt, a.CreatedAt,
		).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	require.NoError(t, s.Insert(context.Background(), a))
	assert.Equal(t, int64(7), a.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDuplicateURL(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresWithPool(mock)
	require.NoError(t, err)

	args := make([]any, 20)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	mock.ExpectQuery("INSERT INTO articles").
		WithArgs(args...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "articles_url_key"})

	err = s.Insert(context.Background(), testArticle(time.Now()))
	assert.ErrorIs(t, err, ErrDuplicateURL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertWithoutEmbeddingStoresNull(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresWithPool(mock)
	require.NoError(t, err)

	a := testArticle(time.Unix(1700000000, 0).UTC())
	a.Embedding = nil

	mock.ExpectQuery("INSERT INTO articles").
		WithArgs(
			a.SourceName, a.Title, a.Description, a.Content, a.URL, a.ImageURL,
			a.PublishedAt, a.Locale, a.Category, a.Sentiment, a.Bias,
			a.Credibility, a.Reliability, a.TrustScore, a.ClusterID,
			a.ClusterTopic, nil, a.AnalysisVersion, a.AnalyzedAt, a.CreatedAt,
		).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(8)))

	require.NoError(t, s.Insert(context.Background(), a))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMaxClusterID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT COALESCE\(MAX\(cluster_id\), 0\) FROM articles`).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(int64(991)))

	maxID, err := s.MaxClusterID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(991), maxID)
}

func TestRecentArticlesScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	cols := []string{
		"id", "source_name", "title", "description", "content", "url",
		"image_url", "published_at", "locale", "category", "sentiment", "bias",
		"credibility", "reliability", "trust_score", "cluster_id",
		"cluster_topic", "analysis_version", "analyzed_at", "created_at",
	}
	mock.ExpectQuery("SELECT (.+) FROM articles").
		WithArgs(now.Add(-24*time.Hour), "en", 200).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			int64(1), "Reuters", "Fed raises rates.", "desc", "body",
			"https://site.test/a", "", now, "en", "business", 0.1, 0.2,
			0.9, 0.8, 0.85, int64(42), "fed rate decision", AnalysisFresh, now, now,
		))

	got, err := s.RecentArticles(context.Background(), now.Add(-24*time.Hour), "en", 200)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Fed raises rates.", got[0].Title)
	assert.Equal(t, int64(42), got[0].ClusterID)
}

func TestHasFreshAnalysis(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	window := 24 * time.Hour

	fresh := Article{AnalysisVersion: AnalysisFresh, AnalyzedAt: now.Add(-time.Hour)}
	assert.True(t, fresh.HasFreshAnalysis(now, window))

	stale := Article{AnalysisVersion: AnalysisFresh, AnalyzedAt: now.Add(-25 * time.Hour)}
	assert.False(t, stale.HasFreshAnalysis(now, window))

	pending := Article{AnalysisVersion: AnalysisPending, AnalyzedAt: now}
	assert.False(t, pending.HasFreshAnalysis(now, window))
}
