package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrMalformedAnalysis indicates the model answered but the payload could not
// be parsed into scores. The pipeline degrades to a pending analysis marker
// rather than dropping the article.
var ErrMalformedAnalysis = errors.New("malformed analysis output")

// Analysis is the full AI-derived score set attached to a persisted article.
type Analysis struct {
	Category     string  `json:"category"`
	Sentiment    float64 `json:"sentiment"`
	Bias         float64 `json:"bias"`
	Credibility  float64 `json:"credibility"`
	Reliability  float64 `json:"reliability"`
	TrustScore   float64 `json:"trust_score"`
	ClusterTopic string  `json:"cluster_topic"`
}

// Analyzer performs the paid deep analysis call. The model is chosen per
// article by the gatekeeper's recommended tier.
type Analyzer struct {
	classifier *Classifier
	hardModel  string
	softModel  string
}

// NewAnalyzer constructs an Analyzer sharing the chat transport.
func NewAnalyzer(apiKey, hardModel, softModel string, timeout time.Duration) *Analyzer {
	if hardModel == "" {
		hardModel = "command-a-03-2025"
	}
	if softModel == "" {
		softModel = "command-r7b-12-2024"
	}
	base := NewClassifier(apiKey, softModel, timeout)
	return &Analyzer{classifier: base, hardModel: hardModel, softModel: softModel}
}

const analyzeInstruction = `Analyze the news article. Respond with JSON only:
{"category": "<topic category>",
 "sentiment": <-1.0..1.0>,
 "bias": <0.0..1.0>,
 "credibility": <0.0..1.0>,
 "reliability": <0.0..1.0>,
 "trust_score": <0.0..1.0>,
 "cluster_topic": "<3-6 word topic label for the real-world event>"}`

// ModelFor maps a gatekeeper type to the analysis model tier.
func (a *Analyzer) ModelFor(contentType string) string {
	if contentType == TypeHardNews {
		return a.hardModel
	}
	return a.softModel
}

// Analyze runs the deep analysis call with the given model. Transport errors
// propagate as-is; an unparseable reply returns ErrMalformedAnalysis.
func (a *Analyzer) Analyze(ctx context.Context, model, headline, description, content string) (Analysis, error) {
	prompt := fmt.Sprintf("%s\n\nHeadline: %s\nDescription: %s\nBody: %s",
		analyzeInstruction, headline, description, content)

	c := &Classifier{
		endpoint: a.classifier.endpoint,
		apiKey:   a.classifier.apiKey,
		model:    model,
		client:   a.classifier.client,
	}
	text, err := c.chat(ctx, prompt)
	if err != nil {
		return Analysis{}, err
	}

	var parsed Analysis
	if err := json.Unmarshal([]byte(extractJSON(text)), &parsed); err != nil {
		return Analysis{}, fmt.Errorf("%w: %v", ErrMalformedAnalysis, err)
	}
	if parsed.ClusterTopic == "" {
		return Analysis{}, fmt.Errorf("%w: empty cluster topic", ErrMalformedAnalysis)
	}
	return parsed, nil
}

// SetEndpoint overrides the chat endpoint, for tests.
func (a *Analyzer) SetEndpoint(endpoint string, client *http.Client) {
	a.classifier.endpoint = endpoint
	if client != nil {
		a.classifier.client = client
	}
}

// SetEndpoint overrides the chat endpoint, for tests.
func (c *Classifier) SetEndpoint(endpoint string, client *http.Client) {
	c.endpoint = endpoint
	if client != nil {
		c.client = client
	}
}
