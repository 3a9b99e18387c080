package app

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dwizi/rapport/internal/config"
	"github.com/dwizi/rapport/internal/embedding"
	"github.com/dwizi/rapport/internal/embedding/hash"
	embedopenai "github.com/dwizi/rapport/internal/embedding/openai"
	"github.com/dwizi/rapport/internal/llm"
	"github.com/dwizi/rapport/internal/llm/anthropic"
	"github.com/dwizi/rapport/internal/llm/openai"
	"github.com/dwizi/rapport/internal/llm/ratelimit"
	"github.com/dwizi/rapport/internal/memory"
	"github.com/dwizi/rapport/internal/memory/chromemindex"
	"github.com/dwizi/rapport/internal/retry"
	"github.com/dwizi/rapport/internal/store"
)

// newLLMClient builds the configured provider behind a sliding-window rate
// limit. Provider "none" yields a nil client so callers take their fallbacks.
func newLLMClient(cfg config.Config, model string, logger *slog.Logger) llm.Client {
	timeout := time.Duration(cfg.LLMTimeoutSec) * time.Second
	var client llm.Client
	switch cfg.LLMProvider {
	case "anthropic":
		client = anthropic.New(anthropic.Config{
			APIKey:    cfg.LLMAPIKey,
			BaseURL:   cfg.LLMBaseURL,
			Model:     model,
			Timeout:   timeout,
			MaxTokens: cfg.LLMMaxTokens,
		}, logger.With("component", "llm-anthropic"))
	case "openai":
		client = openai.New(openai.Config{
			APIKey:      cfg.LLMAPIKey,
			BaseURL:     cfg.LLMBaseURL,
			Model:       model,
			Timeout:     timeout,
			MaxTokens:   cfg.LLMMaxTokens,
			Temperature: 0.8,
		}, logger.With("component", "llm-openai"))
	default:
		return nil
	}
	return ratelimit.New(client, ratelimit.Config{
		PerWindow: cfg.LLMRatePerWindow,
		Window:    time.Duration(cfg.LLMRateWindowSec) * time.Second,
	})
}

func newEmbedder(cfg config.Config, logger *slog.Logger) embedding.Embedder {
	switch cfg.EmbedProvider {
	case "openai":
		apiKey := firstNonEmpty(cfg.EmbedAPIKey, cfg.LLMAPIKey)
		return embedopenai.New(embedopenai.Config{
			APIKey:     apiKey,
			BaseURL:    cfg.EmbedBaseURL,
			Model:      cfg.EmbedModel,
			Dimensions: cfg.EmbedDimensions,
			Timeout:    time.Duration(cfg.EmbedTimeoutSec) * time.Second,
			Retry:      retry.DefaultConfig,
		}, logger.With("component", "embedding-openai"))
	case "hash":
		return hash.New(cfg.EmbedDimensions)
	default:
		return embedding.Disabled{}
	}
}

func newVectorIndex(cfg config.Config, sqlStore *store.Store, logger *slog.Logger) (memory.Index, error) {
	if cfg.VectorBackend != "chromem" {
		return memory.NewStoreIndex(sqlStore), nil
	}
	path := cfg.ChromemPath
	if path != "" {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create chromem directory: %w", err)
		}
	}
	index, err := chromemindex.New(path, logger)
	if err != nil {
		return nil, err
	}
	return index, nil
}

// loadSystemPrompt prefers the prompt file over the inline value. A missing
// file is an error; an empty result falls back to the built-in prompt.
func loadSystemPrompt(cfg config.Config) (string, error) {
	if path := strings.TrimSpace(cfg.SystemPromptFile); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read system prompt file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return strings.TrimSpace(cfg.SystemPrompt), nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
