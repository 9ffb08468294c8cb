package ai

import (
	"context"

	"Go2NetMon/internal/config"

	"github.com/cockroachdb/errors"
	"github.com/sashabaranov/go-openai"
)

// OpenAIGenerator talks to any OpenAI-compatible chat completions endpoint.
// Hosted providers such as Groq, Together or Mistral are reached by setting
// the base URL.
type OpenAIGenerator struct {
	model  string
	client *openai.Client
}

// NewOpenAIGenerator creates a new instance of OpenAIGenerator.
func NewOpenAIGenerator(cfg config.LLMConfig) (*OpenAIGenerator, error) {
	apiKey := cfg.APIKey()
	if apiKey == "" {
		return nil, errors.Newf("API key is not configured (set %s)", cfg.APIKeyEnv)
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAIGenerator{
		model:  cfg.Model,
		client: openai.NewClientWithConfig(clientConfig),
	}, nil
}

// Generate implements model.Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:     g.model,
			MaxTokens: maxTokens,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
		},
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", errors.Wrap(err, "chat completion timeout")
		}
		if errors.Is(err, context.Canceled) {
			return "", errors.Wrap(err, "chat completion canceled")
		}
		return "", errors.Wrap(err, "chat completion failed")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
