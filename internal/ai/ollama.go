package ai

import (
	"context"
	"net/http"
	"strings"

	"Go2NetMon/internal/config"
)

// OllamaGenerator calls a local Ollama server's /api/generate endpoint.
type OllamaGenerator struct {
	url    string
	model  string
	client *http.Client
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

// NewOllamaGenerator creates a generator for cfg.Model at cfg.BaseURL.
func NewOllamaGenerator(cfg config.LLMConfig) *OllamaGenerator {
	base := cfg.BaseURL
	if base == "" {
		base = defaultOllamaURL
	}
	return &OllamaGenerator{
		url:    strings.TrimRight(base, "/") + "/api/generate",
		model:  cfg.Model,
		client: &http.Client{},
	}
}

// Generate implements model.Generator.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var out ollamaResponse
	if err := postJSON(ctx, g.client, g.url, nil, ollamaRequest{Model: g.model, Prompt: prompt}, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}
