package ai

import (
	"context"
	"net/http"
	"strings"

	"Go2NetMon/internal/config"

	"github.com/cockroachdb/errors"
)

// AnthropicGenerator calls the Anthropic messages API.
type AnthropicGenerator struct {
	url    string
	model  string
	apiKey string
	client *http.Client
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// NewAnthropicGenerator creates a generator using the key named by cfg.APIKeyEnv.
func NewAnthropicGenerator(cfg config.LLMConfig) (*AnthropicGenerator, error) {
	apiKey := cfg.APIKey()
	if apiKey == "" {
		return nil, errors.Newf("API key is not configured (set %s)", cfg.APIKeyEnv)
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultAnthropicURL
	}
	return &AnthropicGenerator{
		url:    strings.TrimRight(base, "/") + "/v1/messages",
		model:  cfg.Model,
		apiKey: apiKey,
		client: &http.Client{},
	}, nil
}

// Generate implements model.Generator.
func (g *AnthropicGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	req := anthropicRequest{
		Model:     g.model,
		MaxTokens: maxTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	}
	headers := map[string]string{
		"x-api-key":         g.apiKey,
		"anthropic-version": anthropicVersion,
	}
	var out anthropicResponse
	if err := postJSON(ctx, g.client, g.url, headers, req, &out); err != nil {
		return "", err
	}
	for _, block := range out.Content {
		if block.Type == "" || block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", errors.New("messages API returned no text content")
}
