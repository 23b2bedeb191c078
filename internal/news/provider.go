package news

import (
	"context"
	"errors"
)

// Sentinel errors adapters use to classify fetch failures so callers can
// update key and breaker bookkeeping correctly.
var (
	// ErrRateLimited indicates the provider rejected the call for quota reasons.
	ErrRateLimited = errors.New("provider rate limited")
	// ErrTimeout indicates the call exceeded its deadline.
	ErrTimeout = errors.New("provider timeout")
)

// Query names one fetch a provider should perform.
type Query struct {
	Term   string
	Locale string
}

// Provider fetches and normalizes raw articles for one upstream source.
// Implementations return articles newest first and never silently discard a
// partial success: whatever parsed is returned alongside the error.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, q Query) ([]RawArticle, error)
}
