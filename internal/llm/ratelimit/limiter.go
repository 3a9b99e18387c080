package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dwizi/rapport/internal/llm"
)

type Config struct {
	PerWindow   int
	Window      time.Duration
	MinInterval time.Duration
}

// Client guards an llm.Client with a sliding-window budget. Calls over the
// budget fail fast with llm.ErrUnavailable so callers take their fallback.
type Client struct {
	next llm.Client
	cfg  Config
	now  func() time.Time

	mu    sync.Mutex
	calls []time.Time
}

func New(next llm.Client, cfg Config) *Client {
	if cfg.PerWindow < 1 {
		cfg.PerWindow = 30
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Client{
		next: next,
		cfg:  cfg,
		now:  time.Now,
	}
}

func (c *Client) Reason(ctx context.Context, system, prompt string) (string, error) {
	if err := c.consume(); err != nil {
		return "", err
	}
	return c.next.Reason(ctx, system, prompt)
}

func (c *Client) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	if err := c.consume(); err != nil {
		return "", err
	}
	return c.next.Complete(ctx, messages)
}

func (c *Client) consume() error {
	now := c.now()
	cutoff := now.Add(-c.cfg.Window)

	c.mu.Lock()
	defer c.mu.Unlock()
	filtered := c.calls[:0]
	for _, stamp := range c.calls {
		if stamp.After(cutoff) {
			filtered = append(filtered, stamp)
		}
	}
	c.calls = filtered
	if len(filtered) >= c.cfg.PerWindow {
		return fmt.Errorf("%w: rate limited (%d calls per %s)", llm.ErrUnavailable, c.cfg.PerWindow, c.cfg.Window)
	}
	if c.cfg.MinInterval > 0 && len(filtered) > 0 && now.Sub(filtered[len(filtered)-1]) < c.cfg.MinInterval {
		return fmt.Errorf("%w: calls spaced under %s", llm.ErrUnavailable, c.cfg.MinInterval)
	}
	c.calls = append(c.calls, now)
	return nil
}
