// Package news defines the raw article model, provider adapters, and the
// fetch cycle rotation.
package news

import (
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// RawArticle is the normalized shape a provider adapter produces. It lives
// for exactly one pipeline run and is never persisted directly.
type RawArticle struct {
	SourceName  string
	Title       string
	Description string
	Content     string
	URL         string
	ImageURL    string
	PublishedAt time.Time
	Locale      string
}

const minTitleLength = 10

// Tracking query parameters stripped during URL normalization.
var trackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref":     {},
	"ref_src": {},
}

// NormalizeURL standardizes a URL so the same story fetched twice maps to one
// key. It lowercases scheme and host, drops fragments and tracking
// parameters, removes default ports, and trims a trailing slash.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""

	q := u.Query()
	for k := range q {
		lk := strings.ToLower(k)
		if _, tracked := trackingParams[lk]; tracked || strings.HasPrefix(lk, "utm_") {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()

	out := u.String()
	return strings.TrimRight(out, "/"), nil
}

// NormalizeHeadline trims whitespace, capitalizes the first letter, and
// ensures terminal punctuation.
func NormalizeHeadline(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(title)
	title = string(unicode.ToUpper(r)) + title[size:]
	last, _ := utf8.DecodeLastRuneInString(title)
	switch last {
	case '.', '!', '?', '"', '\'', ')':
		return title
	}
	return title + "."
}

// NormalizeBatch applies per-article normalization, drops invalid items, and
// de-duplicates the batch by normalized URL. The result is ordered newest
// first.
func NormalizeBatch(articles []RawArticle) []RawArticle {
	out := make([]RawArticle, 0, len(articles))
	seen := make(map[string]struct{}, len(articles))
	for _, a := range articles {
		a.Title = NormalizeHeadline(a.Title)
		if a.Title == "" || len(a.Title) < minTitleLength {
			continue
		}
		normalized, err := NormalizeURL(a.URL)
		if err != nil || normalized == "" {
			continue
		}
		a.URL = normalized
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PublishedAt.After(out[j].PublishedAt)
	})
	return out
}
