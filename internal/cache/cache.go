package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

type Config struct {
	MaxItems int64
}

// TTL is a process-local, best-effort cache. Sets may be dropped under
// contention; callers must treat a miss as normal.
type TTL[V any] struct {
	inner *ristretto.Cache
}

func New[V any](cfg Config) (*TTL[V], error) {
	if cfg.MaxItems < 1 {
		cfg.MaxItems = 10000
	}
	inner, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxItems * 10,
		MaxCost:     cfg.MaxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	return &TTL[V]{inner: inner}, nil
}

func (c *TTL[V]) Get(key string) (V, bool) {
	var zero V
	if c == nil || c.inner == nil {
		return zero, false
	}
	raw, ok := c.inner.Get(key)
	if !ok {
		return zero, false
	}
	value, ok := raw.(V)
	if !ok {
		return zero, false
	}
	return value, true
}

func (c *TTL[V]) Set(key string, value V, ttl time.Duration) {
	if c == nil || c.inner == nil || ttl <= 0 {
		return
	}
	c.inner.SetWithTTL(key, value, 1, ttl)
}

// Wait blocks until buffered writes are applied.
func (c *TTL[V]) Wait() {
	if c != nil && c.inner != nil {
		c.inner.Wait()
	}
}

func (c *TTL[V]) Close() {
	if c != nil && c.inner != nil {
		c.inner.Close()
	}
}
