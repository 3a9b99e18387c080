package classifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/dwizi/rapport/internal/llm"
)

const (
	DefaultCacheTTL         = time.Hour
	DefaultReasoningTimeout = 8 * time.Second
	// reasoningAcceptFloor lets an UNKNOWN reasoning verdict through only
	// when the model is reasonably sure about it.
	reasoningAcceptFloor = 0.4
)

// Cache stores classification results by key. Implementations are
// best-effort: a miss or a dropped write only costs latency.
type Cache interface {
	Get(key string) (Result, bool)
	Set(key string, value Result, ttl time.Duration)
}

type Config struct {
	CacheTTL         time.Duration
	ReasoningTimeout time.Duration
}

// Classifier runs the ordered pipeline quick -> cache -> reasoning ->
// heuristic. Reasoner and cache are both optional. Only reasoning results are
// cached: the key covers the message and previous question, while the
// heuristic scores also read hour, timing and hesitation.
type Classifier struct {
	reasoner llm.Client
	cache    Cache
	cfg      Config
	logger   *slog.Logger
}

func New(reasoner llm.Client, cache Cache, cfg Config, logger *slog.Logger) *Classifier {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.ReasoningTimeout <= 0 {
		cfg.ReasoningTimeout = DefaultReasoningTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		reasoner: reasoner,
		cache:    cache,
		cfg:      cfg,
		logger:   logger.With("component", "classifier"),
	}
}

// Classify never fails: every external failure degrades to the heuristic
// scorers.
func (c *Classifier) Classify(ctx context.Context, in Input) Result {
	if result, ok := QuickClassify(in); ok {
		c.logger.Debug("quick rule matched", "user_type", result.UserType, "confidence", result.Confidence)
		return result
	}

	key := CacheKey(in.PreviousQuestion, in.Message)
	if c.cache != nil {
		if cached, ok := c.cache.Get(key); ok {
			cached.Source = SourceCache
			cached.Indicators = append([]string(nil), cached.Indicators...)
			return cached
		}
	}

	if c.reasoner != nil {
		if result, ok := c.reason(ctx, in); ok {
			c.store(key, result)
			return result
		}
	}

	return HeuristicClassify(in)
}

func (c *Classifier) reason(ctx context.Context, in Input) (Result, bool) {
	reasonCtx, cancel := context.WithTimeout(ctx, c.cfg.ReasoningTimeout)
	defer cancel()

	raw, err := c.reasoner.Reason(reasonCtx, reasoningSystemPrompt, buildReasoningPrompt(in))
	if err != nil {
		c.logger.Warn("reasoning classification failed, using heuristics", "error", err)
		return Result{}, false
	}
	result, err := parseReasoningReply(raw)
	if err != nil {
		c.logger.Warn("reasoning reply unparseable, using heuristics", "error", err, "raw", clip(raw, 500))
		return Result{}, false
	}
	if result.UserType == TypeUnknown && result.Confidence <= reasoningAcceptFloor {
		c.logger.Debug("reasoning returned low confidence unknown, using heuristics", "confidence", result.Confidence)
		return Result{}, false
	}
	return result, true
}

func (c *Classifier) store(key string, result Result) {
	if c.cache == nil {
		return
	}
	c.cache.Set(key, result, c.cfg.CacheTTL)
}

// CacheKey hashes the normalised previous question and message.
func CacheKey(previousQuestion, message string) string {
	previous := normalize(previousQuestion)
	if previous == "" {
		previous = "none"
	}
	sum := sha256.Sum256([]byte(previous + ":" + normalize(message)))
	return hex.EncodeToString(sum[:])
}

func normalize(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}

func clip(value string, max int) string {
	value = strings.TrimSpace(value)
	if len(value) <= max {
		return value
	}
	return value[:max] + "..."
}
