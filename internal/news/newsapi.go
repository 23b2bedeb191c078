package news

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/newsfuse/ingest/internal/breaker"
	"github.com/newsfuse/ingest/internal/keyring"
	"github.com/newsfuse/ingest/internal/metrics"
)

// NewsAPIConfig configures the primary JSON provider adapter.
type NewsAPIConfig struct {
	BaseURL string
	Timeout time.Duration
	RPS     float64
	Burst   int
}

// NewsAPI fetches articles from a NewsAPI-style JSON endpoint. It acquires a
// credential per call, consults the circuit breaker first, and reports the
// outcome back to both.
type NewsAPI struct {
	cfg     NewsAPIConfig
	client  *http.Client
	keys    *keyring.Manager
	breaker *breaker.Breaker
	limiter *rate.Limiter
	logger  *zap.Logger
}

const newsAPIName = "newsapi"

// NewNewsAPI constructs the adapter.
func NewNewsAPI(cfg NewsAPIConfig, keys *keyring.Manager, brk *breaker.Breaker, logger *zap.Logger) *NewsAPI {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	limit := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NewsAPI{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		keys:    keys,
		breaker: brk,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// Name returns the provider identifier.
func (p *NewsAPI) Name() string { return newsAPIName }

type newsAPIResponse struct {
	Status   string `json:"status"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Title       string    `json:"title"`
		Description string    `json:"description"`
		Content     string    `json:"content"`
		URL         string    `json:"url"`
		URLToImage  string    `json:"urlToImage"`
		PublishedAt time.Time `json:"publishedAt"`
	} `json:"articles"`
}

// Fetch performs one provider call and returns a normalized batch.
func (p *NewsAPI) Fetch(ctx context.Context, q Query) ([]RawArticle, error) {
	if !p.breaker.Allow(ctx, newsAPIName) {
		metrics.CountProviderRequest(newsAPIName, "circuit_open")
		return nil, fmt.Errorf("%s: %w", newsAPIName, breaker.ErrCircuitOpen)
	}
	key, err := p.keys.Acquire(newsAPIName)
	if err != nil {
		return nil, fmt.Errorf("acquire key: %w", err)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate wait: %w", err)
	}

	batch, err := p.call(ctx, q, key)
	if err != nil {
		p.keys.ReportFailure(key, errors.Is(err, ErrRateLimited))
		p.breaker.RecordFailure(ctx, newsAPIName)
		metrics.CountProviderRequest(newsAPIName, "error")
		return batch, err
	}
	p.keys.ReportSuccess(key)
	p.breaker.RecordSuccess(ctx, newsAPIName)
	metrics.CountProviderRequest(newsAPIName, "ok")
	return batch, nil
}

func (p *NewsAPI) call(ctx context.Context, q Query, key string) ([]RawArticle, error) {
	endpoint, err := url.Parse(p.cfg.BaseURL + "/everything")
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	params := endpoint.Query()
	params.Set("q", q.Term)
	params.Set("sortBy", "publishedAt")
	if q.Locale != "" {
		params.Set("language", q.Locale)
	}
	params.Set("apiKey", key)
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, fmt.Errorf("%s %q: %w", newsAPIName, q.Term, ErrTimeout)
		}
		return nil, fmt.Errorf("%s %q: %w", newsAPIName, q.Term, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%s %q: %w", newsAPIName, q.Term, ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%s %q: unexpected status %d", newsAPIName, q.Term, resp.StatusCode)
	}

	var parsed newsAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%s %q: decode response: %w", newsAPIName, q.Term, err)
	}

	raw := make([]RawArticle, 0, len(parsed.Articles))
	for _, a := range parsed.Articles {
		raw = append(raw, RawArticle{
			SourceName:  a.Source.Name,
			Title:       a.Title,
			Description: a.Description,
			Content:     a.Content,
			URL:         a.URL,
			ImageURL:    a.URLToImage,
			PublishedAt: a.PublishedAt,
			Locale:      q.Locale,
		})
	}
	return NormalizeBatch(raw), nil
}
