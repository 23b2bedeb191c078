package dedup

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/newsfuse/ingest/internal/cache"
	"github.com/newsfuse/ingest/internal/metrics"
	"github.com/newsfuse/ingest/internal/store"
)

// Tier names a duplicate-detection strategy.
const (
	TierExact    = "exact"
	TierFuzzy    = "fuzzy"
	TierSemantic = "semantic"
)

// Cache keys shared across the worker fleet.
const (
	seenURLsKey       = "ingest:seen:urls"
	seenTitlesKey     = "ingest:seen:titles"
	clusterCounterKey = "ingest:cluster:counter"

	seenWindow = 72 * time.Hour
	// A freshly minted id at or below this value is treated as a possible
	// counter reset and reconciled against the store.
	resetSuspicionFloor = 1000

	candidateLimit      = 200
	semanticSearchLimit = 5
)

// Config holds the similarity thresholds and candidate windows.
type Config struct {
	FuzzyThreshold    float64
	SemanticThreshold float64
	ClusterThreshold  float64
	Lookback          time.Duration
	ClusterWindow     time.Duration
}

// Match is a detected duplicate candidate.
type Match struct {
	Article    store.Article
	Similarity float64
	Tier       string
}

// Inheritable reports whether the matched article's analysis may be copied
// instead of paying for a fresh one. A non-inheritable match is still usable
// for cluster-id sharing.
func (m *Match) Inheritable(now time.Time, window time.Duration) bool {
	return m != nil && m.Article.HasFreshAnalysis(now, window)
}

// Resolver performs tiered duplicate detection and cluster-id assignment.
type Resolver struct {
	store  store.Store
	cache  cache.Cache
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// New constructs a Resolver.
func New(st store.Store, c cache.Cache, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = 0.80
	}
	if cfg.SemanticThreshold <= 0 {
		cfg.SemanticThreshold = 0.92
	}
	if cfg.ClusterThreshold <= 0 {
		cfg.ClusterThreshold = 0.82
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}
	if cfg.ClusterWindow <= 0 {
		cfg.ClusterWindow = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: st, cache: c, cfg: cfg, logger: logger, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (r *Resolver) SetClock(now func() time.Time) { r.now = now }

// SeenRecently is the tier-1 exact check: membership in the recent-URL set.
// Cache failure reads as "not seen"; the store's unique constraint backstops.
func (r *Resolver) SeenRecently(ctx context.Context, url string) bool {
	seen, err := r.cache.SIsMember(ctx, seenURLsKey, url)
	if err != nil {
		r.logger.Warn("recent-url check failed", zap.Error(err))
		return false
	}
	if seen {
		metrics.CountDedupMatch(TierExact)
	}
	return seen
}

// RegisterSeen records a persisted article's URL and title for the rolling
// exact-match window.
func (r *Resolver) RegisterSeen(ctx context.Context, url, title string) {
	if err := r.cache.SAdd(ctx, seenURLsKey, url); err != nil {
		r.logger.Warn("register url failed", zap.Error(err))
		return
	}
	if err := r.cache.SAdd(ctx, seenTitlesKey, title); err != nil {
		r.logger.Warn("register title failed", zap.Error(err))
	}
	for _, key := range []string{seenURLsKey, seenTitlesKey} {
		if err := r.cache.Expire(ctx, key, seenWindow); err != nil {
			r.logger.Warn("refresh seen window failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// FindFuzzyMatch is tier 2: lexical similarity against headlines published
// within the lookback window. The highest-scoring candidate above the
// threshold wins; nil means no match.
func (r *Resolver) FindFuzzyMatch(ctx context.Context, title, locale string) (*Match, error) {
	since := r.now().Add(-r.cfg.Lookback)
	candidates, err := r.store.RecentArticles(ctx, since, locale, candidateLimit)
	if err != nil {
		return nil, err
	}

	var best *Match
	for i := range candidates {
		sim := Similarity(title, candidates[i].Title)
		if sim <= r.cfg.FuzzyThreshold {
			continue
		}
		if best == nil || sim > best.Similarity {
			best = &Match{Article: candidates[i], Similarity: sim, Tier: TierFuzzy}
		}
	}
	if best != nil {
		metrics.CountDedupMatch(TierFuzzy)
	}
	return best, nil
}

// FindSemanticMatch is tier 3: nearest-neighbor vector search restricted to
// the same locale and lookback window, accepted only at or above the
// semantic threshold.
func (r *Resolver) FindSemanticMatch(ctx context.Context, vector []float32, locale string) (*Match, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	since := r.now().Add(-r.cfg.Lookback)
	results, err := r.store.SearchSimilar(ctx, vector, since, locale, semanticSearchLimit)
	if err != nil {
		return nil, err
	}

	var best *Match
	for i := range results {
		if results[i].Similarity < r.cfg.SemanticThreshold {
			continue
		}
		if best == nil || results[i].Similarity > best.Similarity {
			best = &Match{
				Article:    results[i].Article,
				Similarity: results[i].Similarity,
				Tier:       TierSemantic,
			}
		}
	}
	if best != nil {
		metrics.CountDedupMatch(TierSemantic)
	}
	return best, nil
}

// AssignCluster resolves the cluster id for a new article, in order: vector
// neighborhood reuse, exact (topic, category, locale) reuse, then minting a
// fresh id. Concurrent collisions across the strategies are an accepted
// eventual-consistency tradeoff.
func (r *Resolver) AssignCluster(ctx context.Context, vector []float32, topic, category, locale string) int64 {
	window := r.now().Add(-r.cfg.ClusterWindow)

	if len(vector) > 0 {
		results, err := r.store.SearchSimilar(ctx, vector, window, locale, semanticSearchLimit)
		if err != nil {
			r.logger.Warn("cluster vector search failed", zap.Error(err))
		}
		for i := range results {
			if results[i].Similarity >= r.cfg.ClusterThreshold && results[i].Article.ClusterID > 0 {
				metrics.CountClusterAssignment("vector")
				return results[i].Article.ClusterID
			}
		}
	}

	if topic != "" {
		match, err := r.store.LatestClusterMatch(ctx, topic, category, locale, window)
		if err != nil {
			r.logger.Warn("cluster topic lookup failed", zap.Error(err))
		}
		if match != nil && match.ClusterID > 0 {
			metrics.CountClusterAssignment("topic")
			return match.ClusterID
		}
	}

	return r.mintClusterID(ctx)
}

// mintClusterID atomically increments the shared counter. A suspiciously low
// fresh value is reconciled against the maximum persisted cluster id and the
// counter fast-forwarded past it; this is a heuristic safety net, not a hard
// uniqueness mechanism. When the counter is unavailable the id degrades to
// epoch seconds.
func (r *Resolver) mintClusterID(ctx context.Context) int64 {
	minted, err := r.cache.Incr(ctx, clusterCounterKey)
	if err != nil {
		r.logger.Warn("cluster counter unavailable, using epoch fallback", zap.Error(err))
		metrics.CountClusterAssignment("fallback")
		return r.now().Unix()
	}

	if minted <= resetSuspicionFloor {
		maxPersisted, err := r.store.MaxClusterID(ctx)
		if err != nil {
			r.logger.Warn("max cluster id lookup failed", zap.Error(err))
		} else if maxPersisted >= minted {
			minted = maxPersisted + 1
			if err := r.cache.Set(ctx, clusterCounterKey, strconv.FormatInt(minted, 10), 0); err != nil {
				r.logger.Warn("cluster counter fast-forward failed", zap.Error(err))
			}
		}
	}

	metrics.CountClusterAssignment("minted")
	return minted
}
