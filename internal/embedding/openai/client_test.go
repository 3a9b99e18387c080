package openai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dwizi/rapport/internal/retry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEmbedMapsVectorsBackToInputs(t *testing.T) {
	var received struct {
		Input []string `json:"input"`
		Model string   `json:"model"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", req.URL.Path)
		}
		if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "test-embed",
			"data": []map[string]any{
				{"object": "embedding", "index": 1, "embedding": []float64{0, 1}},
				{"object": "embedding", "index": 0, "embedding": []float64{1, 0}},
			},
			"usage": map[string]any{"prompt_tokens": 2, "total_tokens": 2},
		})
	}))
	defer server.Close()

	client := New(Config{APIKey: "key", BaseURL: server.URL, Model: "test-embed", Dimensions: 2}, testLogger())
	vectors := client.Embed(context.Background(), []string{"first", "  ", "third"})
	if len(vectors) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vectors))
	}
	if len(received.Input) != 2 || received.Input[1] != "third" || received.Model != "test-embed" {
		t.Fatalf("unexpected request: %+v", received)
	}
	if len(vectors[0]) != 2 || vectors[0][0] != 1 {
		t.Fatalf("unexpected first vector: %v", vectors[0])
	}
	if len(vectors[1]) != 0 {
		t.Fatalf("expected blank input to stay empty, got %v", vectors[1])
	}
	if len(vectors[2]) != 2 || vectors[2][1] != 1 {
		t.Fatalf("unexpected third vector: %v", vectors[2])
	}
}

func TestEmbedReturnsEmptyVectorsOnFailure(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer server.Close()

	client := New(Config{
		APIKey:  "key",
		BaseURL: server.URL,
		Retry:   retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond},
	}, testLogger())
	vectors := client.Embed(context.Background(), []string{"hello", "world"})
	if len(vectors) != 2 || len(vectors[0]) != 0 || len(vectors[1]) != 0 {
		t.Fatalf("expected empty vectors, got %v", vectors)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}
