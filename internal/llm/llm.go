package llm

import (
	"context"
	"errors"
)

var ErrUnavailable = errors.New("llm unavailable")

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the reasoning and generation capability. Reason is a single
// instruction/prompt exchange whose text the caller validates; Complete runs
// an assembled conversation.
type Client interface {
	Reason(ctx context.Context, system, prompt string) (string, error)
	Complete(ctx context.Context, messages []Message) (string, error)
}
