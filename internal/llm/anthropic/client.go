package anthropic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dwizi/rapport/internal/llm"
)

type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

type Client struct {
	cfg    Config
	sdk    sdk.Client
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "claude-3-5-haiku-latest"
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
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(1),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{
		cfg:    cfg,
		sdk:    sdk.NewClient(opts...),
		logger: logger,
	}
}

func (c *Client) Reason(ctx context.Context, system, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", nil
	}
	messages := []llm.Message{{Role: llm.RoleUser, Content: prompt}}
	if system = strings.TrimSpace(system); system != "" {
		messages = append([]llm.Message{{Role: llm.RoleSystem, Content: system}}, messages...)
	}
	return c.Complete(ctx, messages)
}

// Complete folds system messages into the top-level system prompt, as the
// Messages API has no system role, and merges consecutive same-role turns.
func (c *Client) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", fmt.Errorf("%w: missing anthropic api key", llm.ErrUnavailable)
	}

	systemParts := []string{}
	params := []sdk.MessageParam{}
	lastRole := ""
	for _, message := range messages {
		content := strings.TrimSpace(message.Content)
		if content == "" {
			continue
		}
		switch message.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, content)
			continue
		case llm.RoleAssistant:
			if lastRole == llm.RoleAssistant {
				params[len(params)-1].Content = append(params[len(params)-1].Content, sdk.NewTextBlock(content))
				continue
			}
			params = append(params, sdk.NewAssistantMessage(sdk.NewTextBlock(content)))
			lastRole = llm.RoleAssistant
		default:
			if lastRole == llm.RoleUser {
				params[len(params)-1].Content = append(params[len(params)-1].Content, sdk.NewTextBlock(content))
				continue
			}
			params = append(params, sdk.NewUserMessage(sdk.NewTextBlock(content)))
			lastRole = llm.RoleUser
		}
	}
	if len(params) == 0 {
		return "", nil
	}
	// The API requires the conversation to open with a user turn.
	if params[0].Role != sdk.MessageParamRoleUser {
		params = append([]sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock("(conversation continues)"))}, params...)
	}

	request := sdk.MessageNewParams{
		Model:     sdk.Model(c.cfg.Model),
		MaxTokens: int64(c.cfg.MaxTokens),
		Messages:  params,
	}
	if len(systemParts) > 0 {
		request.System = []sdk.TextBlockParam{{Text: strings.Join(systemParts, "\n\n")}}
	}

	resp, err := c.sdk.Messages.New(ctx, request)
	if err != nil {
		c.logger.Warn("anthropic request failed", "error", err, "model", c.cfg.Model)
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	parts := []string{}
	for _, block := range resp.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text content in anthropic response")
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), nil
}
