package news

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/newsfuse/ingest/internal/metrics"
)

// RSSConfig configures the fallback feed provider.
type RSSConfig struct {
	Feeds   []string
	Timeout time.Duration
}

// RSS pulls articles from configured feeds. It serves as the secondary
// provider when the primary's yield is low or its circuit is open, so it
// carries no API keys and no breaker of its own.
type RSS struct {
	cfg    RSSConfig
	parser *gofeed.Parser
	logger *zap.Logger
}

const rssName = "rss"

// NewRSS constructs the adapter.
func NewRSS(cfg RSSConfig, logger *zap.Logger) *RSS {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RSS{cfg: cfg, parser: gofeed.NewParser(), logger: logger}
}

// Name returns the provider identifier.
func (p *RSS) Name() string { return rssName }

// Fetch parses every configured feed and returns items matching the query
// term. A single unreachable feed does not discard the others' items; the
// last error is returned alongside whatever parsed.
func (p *RSS) Fetch(ctx context.Context, q Query) ([]RawArticle, error) {
	var raw []RawArticle
	var lastErr error
	term := strings.ToLower(strings.TrimSpace(q.Term))

	for _, feedURL := range p.cfg.Feeds {
		feedCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		feed, err := p.parser.ParseURLWithContext(feedURL, feedCtx)
		cancel()
		if err != nil {
			lastErr = fmt.Errorf("parse feed %s: %w", feedURL, err)
			p.logger.Warn("feed fetch failed", zap.String("feed", feedURL), zap.Error(err))
			metrics.CountProviderRequest(rssName, "error")
			continue
		}
		metrics.CountProviderRequest(rssName, "ok")

		sourceName := feed.Title
		for _, item := range feed.Items {
			if term != "" && !matchesTerm(item, term) {
				continue
			}
			a := RawArticle{
				SourceName:  sourceName,
				Title:       item.Title,
				Description: item.Description,
				URL:         item.Link,
				Locale:      q.Locale,
			}
			if item.Content != "" {
				a.Content = item.Content
			}
			if item.Image != nil {
				a.ImageURL = item.Image.URL
			}
			if item.PublishedParsed != nil {
				a.PublishedAt = *item.PublishedParsed
			}
			raw = append(raw, a)
		}
	}

	return NormalizeBatch(raw), lastErr
}

func matchesTerm(item *gofeed.Item, term string) bool {
	return strings.Contains(strings.ToLower(item.Title), term) ||
		strings.Contains(strings.ToLower(item.Description), term)
}
