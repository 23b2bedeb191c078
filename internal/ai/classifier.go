package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Classification is the structured gatekeeper verdict the model returns.
type Classification struct {
	Category string `json:"category"`
	Type     string `json:"type"`
	IsJunk   bool   `json:"is_junk"`
}

// Content types the classifier distinguishes.
const (
	TypeHardNews = "hard_news"
	TypeSoftNews = "soft_news"
	TypeJunk     = "junk"
)

// Classifier calls a chat endpoint with a JSON response format to decide
// whether a candidate article is junk, soft news, or hard news.
type Classifier struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewClassifier constructs a Classifier against a Cohere-compatible chat API.
func NewClassifier(apiKey, model string, timeout time.Duration) *Classifier {
	if model == "" {
		model = "command-r7b-12-2024"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Classifier{
		endpoint: "https://api.cohere.com/v2/chat",
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

const classifyInstruction = `Classify the news item. Respond with JSON only:
{"category": "<one of politics|business|technology|science|health|sports|entertainment|world|other>",
 "type": "<one of hard_news|soft_news|junk>",
 "is_junk": <true|false>}
Junk means advertisements, listicles, horoscopes, celebrity gossip, sponsored
content, or anything that is not reporting on a real-world event.`

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *jsonFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Message struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

// Classify returns the model's structured verdict for one candidate article.
// Non-2xx responses and malformed JSON are failures; the caller decides how
// to degrade.
func (c *Classifier) Classify(ctx context.Context, headline, description, source string) (Classification, error) {
	prompt := fmt.Sprintf("%s\n\nSource: %s\nHeadline: %s\nDescription: %s",
		classifyInstruction, source, headline, description)

	text, err := c.chat(ctx, prompt)
	if err != nil {
		return Classification{}, err
	}

	var parsed Classification
	if err := json.Unmarshal([]byte(extractJSON(text)), &parsed); err != nil {
		return Classification{}, fmt.Errorf("decode classification: %w", err)
	}
	parsed.Type = strings.ToLower(strings.TrimSpace(parsed.Type))
	parsed.Category = strings.ToLower(strings.TrimSpace(parsed.Category))
	return parsed, nil
}

func (c *Classifier) chat(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:          c.model,
		Messages:       []chatMessage{{Role: "user", Content: prompt}},
		ResponseFormat: &jsonFormat{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("chat call: unexpected status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	for _, block := range parsed.Message.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("chat response contained no text")
}

// extractJSON trims any prose around the first JSON object in the reply.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
