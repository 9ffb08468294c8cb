// Package ai contains the text-generation backends used to enrich window
// narratives. Every backend implements model.Generator.
package ai

import (
	"Go2NetMon/internal/config"
	"Go2NetMon/internal/model"

	"github.com/cockroachdb/errors"
)

const (
	defaultOllamaURL    = "http://127.0.0.1:11434"
	defaultAnthropicURL = "https://api.anthropic.com"
	anthropicVersion    = "2023-06-01"
	maxTokens           = 512
)

// NewGenerator returns the backend selected by cfg.Provider, or nil when
// enrichment is disabled.
func NewGenerator(cfg config.LLMConfig) (model.Generator, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Provider {
	case "ollama":
		return NewOllamaGenerator(cfg), nil
	case "openai":
		g, err := NewOpenAIGenerator(cfg)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "anthropic":
		g, err := NewAnthropicGenerator(cfg)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, errors.Newf("unknown text generation provider %q", cfg.Provider)
	}
}
