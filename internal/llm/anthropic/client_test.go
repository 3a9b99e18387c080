package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dwizi/rapport/internal/llm"
)

func TestCompleteFoldsSystemPrompt(t *testing.T) {
	var received struct {
		Model    string `json:"model"`
		System   []struct {
			Text string `json:"text"`
		} `json:"system"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-test",
			"stop_reason": "end_turn",
			"content": []map[string]any{
				{"type": "text", "text": "glad you stopped by"},
			},
			"usage": map[string]any{"input_tokens": 10, "output_tokens": 4},
		})
	}))
	defer server.Close()

	client := New(Config{APIKey: "key", BaseURL: server.URL, Model: "claude-test"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	reply, err := client.Complete(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "be kind"},
		{Role: llm.RoleAssistant, Content: "hi!"},
		{Role: llm.RoleUser, Content: "hello"},
		{Role: llm.RoleUser, Content: "anyone there?"},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if reply != "glad you stopped by" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if len(received.System) != 1 || received.System[0].Text != "be kind" {
		t.Fatalf("expected system prompt to be folded, got %+v", received.System)
	}
	if len(received.Messages) != 3 || received.Messages[0].Role != "user" || received.Messages[1].Role != "assistant" {
		t.Fatalf("unexpected message roles: %+v", received.Messages)
	}
}

func TestCompleteWithoutKeyIsUnavailable(t *testing.T) {
	client := New(Config{}, nil)
	_, err := client.Reason(context.Background(), "sys", "prompt")
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
