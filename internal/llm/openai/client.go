package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dwizi/rapport/internal/llm"
)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

type chatCompletions interface {
	New(ctx context.Context, params sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

// Client talks to any OpenAI-compatible chat completions endpoint (OpenAI,
// xAI, Ollama, vLLM).
type Client struct {
	cfg         Config
	completions chatCompletions
	logger      *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 600
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/") + "/"),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(0),
	}
	if apiKey := strings.TrimSpace(cfg.APIKey); apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := sdk.NewClient(opts...)

	return &Client{
		cfg:         cfg,
		completions: &client.Chat.Completions,
		logger:      logger,
	}
}

func (c *Client) Reason(ctx context.Context, system, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", nil
	}
	messages := []llm.Message{}
	if system = strings.TrimSpace(system); system != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})
	return c.Complete(ctx, messages)
}

func (c *Client) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	if requiresAPIKey(c.cfg.BaseURL) && strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", fmt.Errorf("%w: missing API key for %s", llm.ErrUnavailable, c.cfg.BaseURL)
	}
	if len(messages) == 0 {
		return "", nil
	}

	params := sdk.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.cfg.Model),
		Messages:    convertMessages(messages),
		Temperature: sdk.Float(c.cfg.Temperature),
	}
	// Compatible servers (Ollama, vLLM, xAI) read max_tokens, not
	// max_completion_tokens.
	completion, err := c.completions.New(ctx, params, option.WithJSONSet("max_tokens", c.cfg.MaxTokens))
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			c.logger.Warn("openai chat completion failed", "status", apiErr.StatusCode, "error", clip(apiErr.Error(), 500))
			return "", fmt.Errorf("openai completion failed with status %d", apiErr.StatusCode)
		}
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return "", fmt.Errorf("openai response returned no choices")
	}
	return sanitizeModelReply(completion.Choices[0].Message.Content), nil
}

func convertMessages(messages []llm.Message) []sdk.ChatCompletionMessageParamUnion {
	result := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, message := range messages {
		switch message.Role {
		case llm.RoleSystem:
			result = append(result, sdk.SystemMessage(message.Content))
		case llm.RoleAssistant:
			result = append(result, sdk.AssistantMessage(message.Content))
		default:
			result = append(result, sdk.UserMessage(message.Content))
		}
	}
	return result
}

var (
	thinkBlockPattern = regexp.MustCompile(`(?is)<think\b[^>]*>.*?</think>`)
	thinkFencePattern = regexp.MustCompile("(?is)```think\\s*.*?```")
)

func sanitizeModelReply(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	trimmed = thinkBlockPattern.ReplaceAllString(trimmed, "")
	trimmed = thinkFencePattern.ReplaceAllString(trimmed, "")
	trimmed = strings.ReplaceAll(trimmed, "<think>", "")
	trimmed = strings.ReplaceAll(trimmed, "</think>", "")
	return strings.TrimSpace(trimmed)
}

func requiresAPIKey(baseURL string) bool {
	lower := strings.ToLower(baseURL)
	if strings.Contains(lower, "localhost") || strings.Contains(lower, "127.0.0.1") || strings.Contains(lower, "ollama") {
		return false
	}
	return true
}

func clip(value string, max int) string {
	value = strings.TrimSpace(value)
	if len(value) <= max {
		return value
	}
	return value[:max] + "..."
}
