// Package ai wraps the external model endpoints: embedding vectors,
// gatekeeper classification, and deep article analysis.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
)

// ErrEmbeddingCountMismatch indicates the endpoint returned a different
// number of vectors than texts submitted. The whole batch is failed rather
// than guessing at a pairing.
var ErrEmbeddingCountMismatch = errors.New("embedding count mismatch")

// EmbeddingsProvider abstracts a text->embedding generator. Implementations
// return one vector per input text, in input order.
type EmbeddingsProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// CohereEmbeddings implements EmbeddingsProvider using the Cohere Embed API (v2).
type CohereEmbeddings struct {
	client *cohereclient.Client
	model  string
}

// NewCohereEmbeddings constructs the provider.
func NewCohereEmbeddings(apiKey, model string, timeout time.Duration) *CohereEmbeddings {
	if model == "" {
		model = "embed-english-v3.0"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	client := cohereclient.NewClient(
		cohereclient.WithToken(apiKey),
		cohereclient.WithHTTPClient(httpClient),
	)
	return &CohereEmbeddings{client: client, model: model}
}

// ModelName returns the configured embedding model.
func (c *CohereEmbeddings) ModelName() string { return c.model }

// EmbedTexts embeds a batch of texts in one call.
func (c *CohereEmbeddings) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := c.client.V2.Embed(
		ctx,
		&cohere.V2EmbedRequest{
			Texts:          texts,
			Model:          c.model,
			InputType:      cohere.EmbedInputTypeSearchDocument,
			EmbeddingTypes: []cohere.EmbeddingType{cohere.EmbeddingTypeFloat},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("cohere embed: %w", err)
	}
	if resp == nil || resp.Embeddings == nil || resp.Embeddings.Float == nil {
		return nil, errors.New("cohere embed returned no float embeddings")
	}

	floats := resp.Embeddings.Float
	if len(floats) != len(texts) {
		return nil, ErrEmbeddingCountMismatch
	}

	out := make([][]float32, len(floats))
	for i, vec := range floats {
		fv := make([]float32, len(vec))
		for j, v := range vec {
			fv[j] = float32(v)
		}
		out[i] = fv
	}
	return out, nil
}
