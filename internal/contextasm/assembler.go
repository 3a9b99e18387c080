// Package contextasm builds the token-bounded message list sent to the
// generation model. Every tier is fitted to its share of the budget so the
// assembled total never exceeds the configured maximum.
package contextasm

import (
	"log/slog"
	"math"
	"strings"

	"github.com/dwizi/rapport/internal/llm"
	"github.com/dwizi/rapport/internal/tokens"
)

const (
	DefaultMaxTokens = 8000

	memoryHeader    = "What you know about this visitor:\n"
	summariesHeader = "Notes from earlier sessions:\n"
	summarySep      = "\n\n"
	// minTruncateTokens is the space a tier must have left before an item
	// that does not fit is truncated into it.
	minTruncateTokens = 100
)

type Input struct {
	System           string
	ContextualMemory string
	Summaries        []string
	Recent           []llm.Message
	Current          string
	MaxTokens        int
}

type Usage struct {
	System           int     `json:"system"`
	ContextualMemory int     `json:"contextualMemory"`
	Summaries        int     `json:"summaries"`
	Recent           int     `json:"recent"`
	Current          int     `json:"current"`
	Total            int     `json:"total"`
	Max              int     `json:"max"`
	UtilizationPct   float64 `json:"utilizationPct"`
}

type Assembled struct {
	Messages         []llm.Message `json:"messages"`
	Tokens           Usage         `json:"tokens"`
	RawHistoryTokens int           `json:"rawHistoryTokens"`
	// CompressionRatio is assembled tokens over raw history tokens; zero when
	// there is no history.
	CompressionRatio float64 `json:"compressionRatio"`
	RecentIncluded   int     `json:"recentIncluded"`
	SummariesUsed    int     `json:"summariesUsed"`
}

type Assembler struct {
	split     tokens.Split
	maxTokens int
	logger    *slog.Logger
}

func New(split tokens.Split, maxTokens int, logger *slog.Logger) *Assembler {
	if split == (tokens.Split{}) {
		split = tokens.DefaultSplit
	}
	if maxTokens < 1 {
		maxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		split:     split,
		maxTokens: maxTokens,
		logger:    logger.With("component", "context_assembler"),
	}
}

// Assemble emits system, contextual memory, summaries, recent turns and the
// current message in that order. Empty tiers are omitted.
func (a *Assembler) Assemble(in Input) Assembled {
	maxTokens := in.MaxTokens
	if maxTokens < 1 {
		maxTokens = a.maxTokens
	}
	alloc := tokens.Allocate(maxTokens, a.split)
	out := Assembled{Messages: []llm.Message{}}

	system := tokens.Truncate(strings.TrimSpace(in.System), alloc.System-tokens.MessageOverhead)
	if system != "" {
		out.Messages = append(out.Messages, llm.Message{Role: llm.RoleSystem, Content: system})
		out.Tokens.System = cost(system)
	}

	memoryBudget := alloc.Memory - tokens.MessageOverhead - tokens.Estimate(memoryHeader)
	if memory := tokens.Truncate(strings.TrimSpace(in.ContextualMemory), memoryBudget); memory != "" {
		content := memoryHeader + memory
		out.Messages = append(out.Messages, llm.Message{Role: llm.RoleSystem, Content: content})
		out.Tokens.ContextualMemory = cost(content)
	}

	summaryBudget := alloc.Summaries - tokens.MessageOverhead - tokens.Estimate(summariesHeader)
	if fitted := fitItems(in.Summaries, summaryBudget); len(fitted) > 0 {
		content := summariesHeader + strings.Join(fitted, summarySep)
		out.Messages = append(out.Messages, llm.Message{Role: llm.RoleSystem, Content: content})
		out.Tokens.Summaries = cost(content)
		out.SummariesUsed = len(fitted)
	}

	current := strings.TrimSpace(in.Current)
	if cost(current) > alloc.Recent {
		current = tokens.Truncate(current, alloc.Recent-tokens.MessageOverhead)
	}
	currentCost := 0
	if current != "" {
		currentCost = cost(current)
	}
	recent := fitRecent(in.Recent, alloc.Recent-currentCost)
	for _, message := range recent {
		out.Messages = append(out.Messages, message)
		out.Tokens.Recent += cost(message.Content)
	}
	out.RecentIncluded = len(recent)
	if current != "" {
		out.Messages = append(out.Messages, llm.Message{Role: llm.RoleUser, Content: current})
		out.Tokens.Current = currentCost
	}

	out.Tokens.Max = maxTokens
	out.Tokens.Total = out.Tokens.System + out.Tokens.ContextualMemory + out.Tokens.Summaries + out.Tokens.Recent + out.Tokens.Current
	out.Tokens.UtilizationPct = math.Round(float64(out.Tokens.Total)/float64(maxTokens)*1000) / 10

	raw := make([]string, 0, len(in.Recent)+1)
	for _, message := range in.Recent {
		raw = append(raw, message.Content)
	}
	if strings.TrimSpace(in.Current) != "" {
		raw = append(raw, in.Current)
	}
	out.RawHistoryTokens = tokens.EstimateMessages(raw)
	if out.RawHistoryTokens > 0 {
		out.CompressionRatio = float64(out.Tokens.Total) / float64(out.RawHistoryTokens)
	}

	a.logger.Debug("context assembled",
		"max_tokens", maxTokens,
		"system_tokens", out.Tokens.System,
		"memory_tokens", out.Tokens.ContextualMemory,
		"summary_tokens", out.Tokens.Summaries,
		"summaries_used", out.SummariesUsed,
		"recent_tokens", out.Tokens.Recent,
		"recent_included", out.RecentIncluded,
		"recent_available", len(in.Recent),
		"total_tokens", out.Tokens.Total,
		"compression_ratio", out.CompressionRatio,
	)
	return out
}

func cost(content string) int {
	return tokens.Estimate(content) + tokens.MessageOverhead
}

// fitItems adds items in order while they fit. The first item that does not
// fit is truncated into the remaining space when more than
// minTruncateTokens remain, and filling stops there. Each item is charged one
// extra token for its separator.
func fitItems(items []string, budget int) []string {
	fitted := []string{}
	used := 0
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		itemCost := tokens.Estimate(item) + 1
		if used+itemCost <= budget {
			fitted = append(fitted, item)
			used += itemCost
			continue
		}
		if remaining := budget - used; remaining > minTruncateTokens {
			if clipped := tokens.Truncate(item, remaining-1); clipped != "" {
				fitted = append(fitted, clipped)
			}
		}
		break
	}
	return fitted
}

// fitRecent walks history from the newest turn backwards and returns the
// included turns in chronological order.
func fitRecent(history []llm.Message, budget int) []llm.Message {
	picked := []llm.Message{}
	used := 0
	for index := len(history) - 1; index >= 0; index-- {
		message := history[index]
		if strings.TrimSpace(message.Content) == "" {
			continue
		}
		messageCost := cost(message.Content)
		if used+messageCost <= budget {
			picked = append(picked, message)
			used += messageCost
			continue
		}
		if remaining := budget - used; remaining > minTruncateTokens {
			if clipped := tokens.Truncate(message.Content, remaining-tokens.MessageOverhead); clipped != "" {
				picked = append(picked, llm.Message{Role: message.Role, Content: clipped})
			}
		}
		break
	}
	for left, right := 0, len(picked)-1; left < right; left, right = left+1, right-1 {
		picked[left], picked[right] = picked[right], picked[left]
	}
	return picked
}
