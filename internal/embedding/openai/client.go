package openai

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/dwizi/rapport/internal/embedding"
	"github.com/dwizi/rapport/internal/retry"
)

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
	Retry      retry.Config
}

type embeddingsService interface {
	New(ctx context.Context, params sdk.EmbeddingNewParams, opts ...option.RequestOption) (*sdk.CreateEmbeddingResponse, error)
}

// Client embeds text through any OpenAI-compatible /embeddings endpoint.
type Client struct {
	cfg        Config
	embeddings embeddingsService
	logger     *slog.Logger
}

var _ embedding.Embedder = (*Client)(nil)

func New(cfg Config, logger *slog.Logger) *Client {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = string(sdk.EmbeddingModelTextEmbedding3Small)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig
	}
	cfg.Retry.ShouldRetry = retryable
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(0),
	}
	if apiKey := strings.TrimSpace(cfg.APIKey); apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	client := sdk.NewClient(opts...)

	return &Client{
		cfg:        cfg,
		embeddings: &client.Embeddings,
		logger:     logger.With("component", "embedder"),
	}
}

func (c *Client) Dimensions() int {
	return c.cfg.Dimensions
}

// Embed sends every non-blank text in one batch. Failures are logged and
// produce empty vectors.
func (c *Client) Embed(ctx context.Context, texts []string) [][]float32 {
	vectors := embedding.Empty(len(texts))
	positions := make([]int, 0, len(texts))
	inputs := make([]string, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		positions = append(positions, i)
		inputs = append(inputs, text)
	}
	if len(inputs) == 0 {
		return vectors
	}

	params := sdk.EmbeddingNewParams{
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
		Model: sdk.EmbeddingModel(c.cfg.Model),
	}
	if c.cfg.Dimensions > 0 {
		params.Dimensions = sdk.Int(int64(c.cfg.Dimensions))
	}

	var response *sdk.CreateEmbeddingResponse
	err := retry.Do(ctx, c.cfg.Retry, func() error {
		var callErr error
		response, callErr = c.embeddings.New(ctx, params)
		return callErr
	})
	if err != nil {
		c.logger.Warn("embedding request failed, storing without vectors", "error", err, "inputs", len(inputs))
		return vectors
	}

	for _, item := range response.Data {
		index := int(item.Index)
		if index < 0 || index >= len(positions) {
			continue
		}
		vector := make([]float32, len(item.Embedding))
		for i, value := range item.Embedding {
			vector[i] = float32(value)
		}
		vectors[positions[index]] = vector
	}
	return vectors
}

func retryable(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}
