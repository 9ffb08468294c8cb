package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"Go2NetMon/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func llmConfig(provider, baseURL string) config.LLMConfig {
	cfg := config.Default().LLM
	cfg.Provider = provider
	cfg.BaseURL = baseURL
	cfg.Model = "test-model"
	return cfg
}

func TestNewGenerator_Disabled(t *testing.T) {
	cfg := config.Default().LLM
	cfg.Enabled = false
	g, err := NewGenerator(cfg)
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestNewGenerator_MissingKey(t *testing.T) {
	for _, provider := range []string{"openai", "anthropic"} {
		cfg := llmConfig(provider, "")
		cfg.APIKeyEnv = "NETMON_TEST_KEY_THAT_IS_UNSET"
		g, err := NewGenerator(cfg)
		assert.Error(t, err, provider)
		assert.Nil(t, g, provider)
	}
}

func TestOllamaGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.False(t, req.Stream)
		_ = json.NewEncoder(w).Encode(ollamaResponse{Response: "- all quiet"})
	}))
	defer srv.Close()

	g, err := NewGenerator(llmConfig("ollama", srv.URL+"/"))
	require.NoError(t, err)
	out, err := g.Generate(context.Background(), "summarise")
	require.NoError(t, err)
	assert.Equal(t, "- all quiet", out)
}

func TestOllamaGenerator_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaGenerator(llmConfig("ollama", srv.URL)).Generate(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestOllamaGenerator_HonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewOllamaGenerator(llmConfig("ollama", srv.URL)).Generate(ctx, "x")
	assert.Error(t, err)
}

func TestOpenAIGenerator(t *testing.T) {
	t.Setenv("NETMON_TEST_OPENAI_KEY", "sk-test")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"- rewritten"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	cfg := llmConfig("openai", srv.URL)
	cfg.APIKeyEnv = "NETMON_TEST_OPENAI_KEY"
	g, err := NewGenerator(cfg)
	require.NoError(t, err)
	out, err := g.Generate(context.Background(), "summarise")
	require.NoError(t, err)
	assert.Equal(t, "- rewritten", out)
}

func TestAnthropicGenerator(t *testing.T) {
	t.Setenv("NETMON_TEST_ANTHROPIC_KEY", "ak-test")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak-test", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, maxTokens, req.MaxTokens)
		require.Len(t, req.Messages, 1)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"- rewritten"}]}`))
	}))
	defer srv.Close()

	cfg := llmConfig("anthropic", srv.URL)
	cfg.APIKeyEnv = "NETMON_TEST_ANTHROPIC_KEY"
	g, err := NewGenerator(cfg)
	require.NoError(t, err)
	out, err := g.Generate(context.Background(), "summarise")
	require.NoError(t, err)
	assert.Equal(t, "- rewritten", out)
}
