package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxPool is the pool surface Postgres needs; pgxmock satisfies it in tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresConfig controls the connection pool for the article store.
type PostgresConfig struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// Postgres implements Store on pgx with a pgvector embedding column.
type Postgres struct {
	pool pgxPool
}

// NewPostgres creates a Postgres-backed store using the provided config.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgresWithPool constructs a store from an existing pool (primarily for testing).
func NewPostgresWithPool(pool pgxPool) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const articleColumns = `id, source_name, title, description, content, url, image_url,
	published_at, locale, category, sentiment, bias, credibility, reliability,
	trust_score, cluster_id, cluster_topic, analysis_version, analyzed_at, created_at`

// Insert persists one article; the unique index on url turns a repeat into
// ErrDuplicateURL.
func (s *Postgres) Insert(ctx context.Context, a *Article) error {
	const q = `
INSERT INTO articles (
	source_name, title, description, content, url, image_url, published_at,
	locale, category, sentiment, bias, credibility, reliability, trust_score,
	cluster_id, cluster_topic, embedding, analysis_version, analyzed_at, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
RETURNING id`

	err := s.pool.QueryRow(ctx, q,
		a.SourceName,
		a.Title,
		a.Description,
		a.Content,
		a.URL,
		a.ImageURL,
		a.PublishedAt,
		a.Locale,
		a.Category,
		a.Sentiment,
		a.Bias,
		a.Credibility,
		a.Reliability,
		a.TrustScore,
		a.ClusterID,
		a.ClusterTopic,
		vectorLiteral(a.Embedding),
		a.AnalysisVersion,
		a.AnalyzedAt,
		a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("url %s: %w", a.URL, ErrDuplicateURL)
		}
		return fmt.Errorf("insert article: %w", err)
	}
	return nil
}

// RecentArticles returns candidates for the fuzzy tier.
func (s *Postgres) RecentArticles(ctx context.Context, since time.Time, locale string, limit int) ([]Article, error) {
	q := `
SELECT ` + articleColumns + `
FROM articles
WHERE published_at >= $1 AND locale = $2
ORDER BY published_at DESC
LIMIT $3`

	rows, err := s.pool.Query(ctx, q, since, locale, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent articles: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

// SearchSimilar runs a pgvector nearest-neighbor search. Cosine distance is
// converted to similarity so callers compare against thresholds directly.
func (s *Postgres) SearchSimilar(ctx context.Context, vector []float32, since time.Time, locale string, limit int) ([]SimilarArticle, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	q := `
SELECT ` + articleColumns + `, 1 - (embedding <=> $1) AS similarity
FROM articles
WHERE embedding IS NOT NULL AND published_at >= $2 AND locale = $3
ORDER BY embedding <=> $1
LIMIT $4`

	rows, err := s.pool.Query(ctx, q, vectorLiteral(vector), since, locale, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var out []SimilarArticle
	for rows.Next() {
		var sa SimilarArticle
		if err := scanArticle(rows, &sa.Article, &sa.Similarity); err != nil {
			return nil, fmt.Errorf("scan similar article: %w", err)
		}
		out = append(out, sa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar articles: %w", err)
	}
	return out, nil
}

// LatestClusterMatch returns the most recent article with the exact cluster key.
func (s *Postgres) LatestClusterMatch(ctx context.Context, topic, category, locale string, since time.Time) (*Article, error) {
	q := `
SELECT ` + articleColumns + `
FROM articles
WHERE cluster_topic = $1 AND category = $2 AND locale = $3 AND created_at >= $4
ORDER BY created_at DESC
LIMIT 1`

	var a Article
	err := scanArticle(s.pool.QueryRow(ctx, q, topic, category, locale, since), &a)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cluster match: %w", err)
	}
	return &a, nil
}

// MaxClusterID returns the highest cluster id ever persisted (0 when empty).
func (s *Postgres) MaxClusterID(ctx context.Context) (int64, error) {
	var maxID int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(cluster_id), 0) FROM articles`).Scan(&maxID)
	if err != nil {
		return 0, fmt.Errorf("query max cluster id: %w", err)
	}
	return maxID, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArticle(row scanner, a *Article, extra ...any) error {
	dest := []any{
		&a.ID,
		&a.SourceName,
		&a.Title,
		&a.Description,
		&a.Content,
		&a.URL,
		&a.ImageURL,
		&a.PublishedAt,
		&a.Locale,
		&a.Category,
		&a.Sentiment,
		&a.Bias,
		&a.Credibility,
		&a.Reliability,
		&a.TrustScore,
		&a.ClusterID,
		&a.ClusterTopic,
		&a.AnalysisVersion,
		&a.AnalyzedAt,
		&a.CreatedAt,
	}
	dest = append(dest, extra...)
	return row.Scan(dest...)
}

func scanArticles(rows pgx.Rows) ([]Article, error) {
	var out []Article
	for rows.Next() {
		var a Article
		if err := scanArticle(rows, &a); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	return out, nil
}

// vectorLiteral renders a float32 slice as a pgvector input literal, or nil
// so the column stays NULL when no embedding was obtained.
func vectorLiteral(vec []float32) any {
	if len(vec) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}
