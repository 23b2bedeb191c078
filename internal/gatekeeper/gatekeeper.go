// Package gatekeeper classifies candidate articles as junk, soft news, or
// hard news before any expensive analysis is spent on them.
package gatekeeper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/newsfuse/ingest/internal/ai"
	"github.com/newsfuse/ingest/internal/cache"
	"github.com/newsfuse/ingest/internal/metrics"
)

// Verdict classifications.
const (
	ClassJunk     = "junk"
	ClassSoftNews = "soft_news"
	ClassHardNews = "hard_news"
)

// Verdict origins, for observability.
const (
	originCache     = "cache"
	originBlocklist = "blocklist"
	originAI        = "ai"
	originFallback  = "fallback"
)

// Verdict is the gatekeeper's decision for one candidate article.
type Verdict struct {
	Classification   string `json:"classification"`
	IsJunk           bool   `json:"is_junk"`
	RecommendedModel string `json:"recommended_model"`
	Category         string `json:"category,omitempty"`
}

// Classifier is the AI call the gatekeeper defers to when blocklists pass.
type Classifier interface {
	Classify(ctx context.Context, headline, description, source string) (ai.Classification, error)
}

// Config holds blocklists, model mapping, and verdict cache policy.
type Config struct {
	BlockedDomains  []string
	BlockedKeywords []string
	VerdictTTL      time.Duration
	HardModel       string
	SoftModel       string
}

// Gatekeeper evaluates candidates with short-circuiting: cached verdict,
// domain blocklist, keyword blocklist, then the AI classifier. Blocklist
// verdicts are deterministic and cheap, so they are recomputed rather than
// cached; AI verdicts cache for the configured TTL; the soft-news fallback
// after an AI failure is never cached so a later attempt retries the call.
type Gatekeeper struct {
	classifier Classifier
	cache      cache.Cache
	domains    *domainBlocklist
	keywords   []string
	ttl        time.Duration
	hardModel  string
	softModel  string
	logger     *zap.Logger
}

// New constructs a Gatekeeper.
func New(classifier Classifier, c cache.Cache, cfg Config, logger *zap.Logger) *Gatekeeper {
	ttl := cfg.VerdictTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	keywords := make([]string, 0, len(cfg.BlockedKeywords))
	for _, kw := range cfg.BlockedKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gatekeeper{
		classifier: classifier,
		cache:      c,
		domains:    newDomainBlocklist(cfg.BlockedDomains),
		keywords:   keywords,
		ttl:        ttl,
		hardModel:  cfg.HardModel,
		softModel:  cfg.SoftModel,
		logger:     logger,
	}
}

// Evaluate returns the verdict for one article identified by its normalized
// URL, headline, description, and source name.
func (g *Gatekeeper) Evaluate(ctx context.Context, url, headline, description, source string) Verdict {
	key := verdictKey(url)

	if cached, ok := g.lookup(ctx, key); ok {
		metrics.CountGatekeeperVerdict(cached.Classification, originCache)
		return cached
	}

	if g.domains.isBlocked(hostOf(url)) {
		metrics.CountGatekeeperVerdict(ClassJunk, originBlocklist)
		return Verdict{Classification: ClassJunk, IsJunk: true}
	}
	lowered := strings.ToLower(headline)
	for _, kw := range g.keywords {
		if strings.Contains(lowered, kw) {
			metrics.CountGatekeeperVerdict(ClassJunk, originBlocklist)
			return Verdict{Classification: ClassJunk, IsJunk: true}
		}
	}

	classification, err := g.classifier.Classify(ctx, headline, description, source)
	if err != nil {
		g.logger.Warn("classification failed, defaulting to soft news",
			zap.String("url", url), zap.Error(err))
		metrics.CountGatekeeperVerdict(ClassSoftNews, originFallback)
		return Verdict{
			Classification:   ClassSoftNews,
			RecommendedModel: g.softModel,
		}
	}

	verdict := g.fromClassification(classification)
	g.store(ctx, key, verdict)
	metrics.CountGatekeeperVerdict(verdict.Classification, originAI)
	return verdict
}

func (g *Gatekeeper) fromClassification(c ai.Classification) Verdict {
	v := Verdict{Category: c.Category, IsJunk: c.IsJunk}
	switch c.Type {
	case ai.TypeHardNews:
		v.Classification = ClassHardNews
		v.RecommendedModel = g.hardModel
	case ai.TypeJunk:
		v.Classification = ClassJunk
		v.IsJunk = true
	default:
		v.Classification = ClassSoftNews
		v.RecommendedModel = g.softModel
	}
	if v.IsJunk {
		v.Classification = ClassJunk
		v.RecommendedModel = ""
	}
	return v
}

func (g *Gatekeeper) lookup(ctx context.Context, key string) (Verdict, bool) {
	raw, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		g.logger.Warn("verdict cache read failed", zap.Error(err))
		return Verdict{}, false
	}
	if !ok {
		return Verdict{}, false
	}
	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return Verdict{}, false
	}
	return v, true
}

func (g *Gatekeeper) store(ctx context.Context, key string, v Verdict) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := g.cache.Set(ctx, key, string(raw), g.ttl); err != nil {
		g.logger.Warn("verdict cache write failed", zap.Error(err))
	}
}

// verdictKey hashes the URL so cache keys stay bounded and uniform.
func verdictKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return "gatekeeper:verdict:" + hex.EncodeToString(sum[:])
}

func hostOf(rawURL string) string {
	rest := rawURL
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		rest = rest[:i]
	}
	return strings.ToLower(rest)
}

// domainBlocklist stores exact hosts and suffix wildcards.
type domainBlocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

func newDomainBlocklist(patterns []string) *domainBlocklist {
	b := &domainBlocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			if suffix := strings.TrimPrefix(value, "*."); suffix != "" {
				b.suffixes = append(b.suffixes, suffix)
			}
		case strings.HasPrefix(value, "."):
			if suffix := strings.TrimPrefix(value, "."); suffix != "" {
				b.suffixes = append(b.suffixes, suffix)
			}
		default:
			b.exact[value] = struct{}{}
		}
	}
	return b
}

func (b *domainBlocklist) isBlocked(host string) bool {
	if b == nil || host == "" {
		return false
	}
	if _, exact := b.exact[host]; exact {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
