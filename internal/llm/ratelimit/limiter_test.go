package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dwizi/rapport/internal/llm"
)

type fakeClient struct {
	calls int
}

func (f *fakeClient) Reason(ctx context.Context, system, prompt string) (string, error) {
	f.calls++
	return "ok", nil
}

func (f *fakeClient) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	f.calls++
	return "ok", nil
}

func TestLimiterRejectsOverBudget(t *testing.T) {
	next := &fakeClient{}
	limiter := New(next, Config{PerWindow: 2, Window: time.Minute})
	current := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }

	for i := 0; i < 2; i++ {
		if _, err := limiter.Reason(context.Background(), "", "x"); err != nil {
			t.Fatalf("call %d should pass: %v", i, err)
		}
	}
	if _, err := limiter.Complete(context.Background(), nil); !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if next.calls != 2 {
		t.Fatalf("expected 2 forwarded calls, got %d", next.calls)
	}

	current = current.Add(61 * time.Second)
	if _, err := limiter.Reason(context.Background(), "", "x"); err != nil {
		t.Fatalf("window should have slid: %v", err)
	}
}

func TestLimiterEnforcesMinInterval(t *testing.T) {
	limiter := New(&fakeClient{}, Config{PerWindow: 10, Window: time.Minute, MinInterval: 5 * time.Second})
	current := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }

	if _, err := limiter.Reason(context.Background(), "", "x"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	current = current.Add(time.Second)
	if _, err := limiter.Reason(context.Background(), "", "x"); !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("expected spacing rejection, got %v", err)
	}
	current = current.Add(5 * time.Second)
	if _, err := limiter.Reason(context.Background(), "", "x"); err != nil {
		t.Fatalf("spaced call should pass: %v", err)
	}
}
