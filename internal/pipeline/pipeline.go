// Package pipeline orchestrates the per-article ingest flow: validation,
// duplicate detection, gatekeeping, analysis or inheritance, cluster
// assignment, and persistence.
package pipeline

import (
	"context"
	"errors"
	"html"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/newsfuse/ingest/internal/ai"
	"github.com/newsfuse/ingest/internal/cache"
	"github.com/newsfuse/ingest/internal/dedup"
	"github.com/newsfuse/ingest/internal/gatekeeper"
	"github.com/newsfuse/ingest/internal/metrics"
	"github.com/newsfuse/ingest/internal/news"
	"github.com/newsfuse/ingest/internal/store"
)

// Outcome is the terminal state of one article's trip through the pipeline.
type Outcome string

const (
	OutcomeInvalid        Outcome = "INVALID"
	OutcomeDuplicate      Outcome = "DUPLICATE"
	OutcomeJunk           Outcome = "JUNK"
	OutcomeSavedFresh     Outcome = "SAVED_FRESH"
	OutcomeSavedInherited Outcome = "SAVED_INHERITED"
	OutcomeError          Outcome = "ERROR"
)

const (
	reservationPrefix = "ingest:reserve:"
	feedCachePrefix   = "ingest:feed:"

	defaultReservationTTL = 5 * time.Minute
)

// Gatekeeper decides whether an article deserves analysis at all.
type Gatekeeper interface {
	Evaluate(ctx context.Context, url, headline, description, source string) gatekeeper.Verdict
}

// Embedder produces one vector per text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Analyzer runs the paid deep analysis call.
type Analyzer interface {
	Analyze(ctx context.Context, model, headline, description, content string) (ai.Analysis, error)
}

// Deduper is the tiered duplicate detection surface; *dedup.Resolver
// implements it.
type Deduper interface {
	SeenRecently(ctx context.Context, url string) bool
	RegisterSeen(ctx context.Context, url, title string)
	FindFuzzyMatch(ctx context.Context, title, locale string) (*dedup.Match, error)
	FindSemanticMatch(ctx context.Context, vector []float32, locale string) (*dedup.Match, error)
	AssignCluster(ctx context.Context, vector []float32, topic, category, locale string) int64
}

// Config holds the pipeline's tunables.
type Config struct {
	MinContentLength  int
	InheritanceWindow time.Duration
	ReservationTTL    time.Duration
}

// Pipeline processes one raw article at a time; it is safe for concurrent use
// by the runner's workers.
type Pipeline struct {
	store      store.Store
	cache      cache.Cache
	gatekeeper Gatekeeper
	embedder   Embedder
	analyzer   Analyzer
	dedup      Deduper
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

// New constructs a Pipeline.
func New(st store.Store, c cache.Cache, gk Gatekeeper, emb Embedder, an Analyzer, dd Deduper, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = 100
	}
	if cfg.InheritanceWindow <= 0 {
		cfg.InheritanceWindow = 24 * time.Hour
	}
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = defaultReservationTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:      st,
		cache:      c,
		gatekeeper: gk,
		embedder:   emb,
		analyzer:   an,
		dedup:      dd,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (p *Pipeline) SetClock(now func() time.Time) { p.now = now }

// Process runs one article through the full flow and returns its outcome. A
// non-nil error accompanies only OutcomeError.
func (p *Pipeline) Process(ctx context.Context, raw news.RawArticle) (Outcome, error) {
	outcome, err := p.process(ctx, raw)
	metrics.CountArticle(string(outcome))
	return outcome, err
}

func (p *Pipeline) process(ctx context.Context, raw news.RawArticle) (Outcome, error) {
	url, err := news.NormalizeURL(raw.URL)
	if err != nil || url == "" {
		return OutcomeInvalid, nil
	}
	title := news.NormalizeHeadline(raw.Title)
	if title == "" {
		return OutcomeInvalid, nil
	}

	if p.dedup.SeenRecently(ctx, url) {
		return OutcomeDuplicate, nil
	}

	// Reserve the URL so parallel workers do not analyze the same story
	// twice. The reservation is advisory; the store's unique constraint is
	// the real guarantee, so a cache failure just proceeds.
	reserved, err := p.cache.SetNX(ctx, reservationPrefix+url, "1", p.cfg.ReservationTTL)
	if err != nil {
		p.logger.Warn("url reservation failed", zap.String("url", url), zap.Error(err))
	} else if !reserved {
		return OutcomeDuplicate, nil
	}

	description := stripMarkup(raw.Description)
	content := stripMarkup(raw.Content)
	// RSS items often carry only a description; it stands in for the body.
	if content == "" {
		content = description
	}
	if len(content) < p.cfg.MinContentLength {
		return OutcomeInvalid, nil
	}

	verdict := p.gatekeeper.Evaluate(ctx, url, title, description, raw.SourceName)
	if verdict.IsJunk {
		return OutcomeJunk, nil
	}

	match, err := p.dedup.FindFuzzyMatch(ctx, title, raw.Locale)
	if err != nil {
		return OutcomeError, err
	}

	var vector []float32
	if match == nil {
		// Embedding failure degrades gracefully: tier 3 is skipped and the
		// article persists without a vector for later backfill.
		vector, err = p.embedder.Embed(ctx, title+" "+description)
		if err != nil {
			p.logger.Warn("embedding failed, skipping semantic tier",
				zap.String("url", url), zap.Error(err))
			vector = nil
		}
		if len(vector) > 0 {
			match, err = p.dedup.FindSemanticMatch(ctx, vector, raw.Locale)
			if err != nil {
				return OutcomeError, err
			}
		}
	}

	article := &store.Article{
		SourceName:  raw.SourceName,
		Title:       title,
		Description: description,
		Content:     content,
		URL:         url,
		ImageURL:    raw.ImageURL,
		PublishedAt: raw.PublishedAt,
		Locale:      raw.Locale,
		Category:    verdict.Category,
		Embedding:   vector,
		CreatedAt:   p.now(),
	}

	now := p.now()
	outcome := OutcomeSavedFresh
	if match.Inheritable(now, p.cfg.InheritanceWindow) {
		inherit(article, &match.Article, now)
		outcome = OutcomeSavedInherited
	} else if err := p.analyze(ctx, article, verdict); err != nil {
		return OutcomeError, err
	}

	if article.ClusterID == 0 {
		if match != nil && match.Article.ClusterID > 0 {
			article.ClusterID = match.Article.ClusterID
			if article.ClusterTopic == "" {
				article.ClusterTopic = match.Article.ClusterTopic
			}
		} else {
			article.ClusterID = p.dedup.AssignCluster(ctx, vector, article.ClusterTopic, article.Category, article.Locale)
		}
	}

	if err := p.store.Insert(ctx, article); err != nil {
		if errors.Is(err, store.ErrDuplicateURL) {
			return OutcomeDuplicate, nil
		}
		return OutcomeError, err
	}

	p.dedup.RegisterSeen(ctx, url, title)
	p.invalidateFeed(ctx, article.Locale)
	return outcome, nil
}

// analyze runs the deep analysis and applies the scores. A malformed reply
// keeps the article with a pending marker instead of dropping it; transport
// failures bubble up.
func (p *Pipeline) analyze(ctx context.Context, article *store.Article, verdict gatekeeper.Verdict) error {
	analysis, err := p.analyzer.Analyze(ctx, verdict.RecommendedModel, article.Title, article.Description, article.Content)
	if err != nil {
		if errors.Is(err, ai.ErrMalformedAnalysis) {
			p.logger.Warn("analysis unparseable, saving as pending",
				zap.String("url", article.URL), zap.Error(err))
			metrics.CountAnalysisCall(verdict.RecommendedModel, "malformed")
			article.AnalysisVersion = store.AnalysisPending
			article.AnalyzedAt = p.now()
			return nil
		}
		metrics.CountAnalysisCall(verdict.RecommendedModel, "error")
		return err
	}
	metrics.CountAnalysisCall(verdict.RecommendedModel, "ok")

	if analysis.Category != "" {
		article.Category = analysis.Category
	}
	article.Sentiment = analysis.Sentiment
	article.Bias = analysis.Bias
	article.Credibility = analysis.Credibility
	article.Reliability = analysis.Reliability
	article.TrustScore = analysis.TrustScore
	article.ClusterTopic = analysis.ClusterTopic
	article.AnalysisVersion = store.AnalysisFresh
	article.AnalyzedAt = p.now()
	return nil
}

// inherit copies the matched article's scores instead of paying for a fresh
// analysis call.
func inherit(dst *store.Article, src *store.Article, now time.Time) {
	dst.Category = src.Category
	dst.Sentiment = src.Sentiment
	dst.Bias = src.Bias
	dst.Credibility = src.Credibility
	dst.Reliability = src.Reliability
	dst.TrustScore = src.TrustScore
	dst.ClusterID = src.ClusterID
	dst.ClusterTopic = src.ClusterTopic
	dst.AnalysisVersion = store.AnalysisInherited
	dst.AnalyzedAt = now
}

// invalidateFeed drops the cached feed for the locale so readers see the new
// article on their next request.
func (p *Pipeline) invalidateFeed(ctx context.Context, locale string) {
	if err := p.cache.Delete(ctx, feedCachePrefix+locale); err != nil {
		p.logger.Warn("feed cache invalidation failed", zap.String("locale", locale), zap.Error(err))
	}
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// stripMarkup removes HTML tags and entities, collapsing whitespace.
func stripMarkup(s string) string {
	if s == "" {
		return ""
	}
	s = tagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}
