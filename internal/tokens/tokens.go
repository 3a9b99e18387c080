package tokens

import (
	"math"
	"strings"
)

const (
	// MessageOverhead approximates the per-message framing cost of chat APIs.
	MessageOverhead = 10

	charsPerToken  = 4
	truncateSafety = 0.9
	ellipsis       = "..."
)

// Estimate approximates the token cost of text at four characters per token.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// EstimateMessages sums the content cost of every message plus its framing.
func EstimateMessages(contents []string) int {
	total := 0
	for _, content := range contents {
		total += Estimate(content) + MessageOverhead
	}
	return total
}

// Truncate cuts text to fit maxTokens, preferring a word boundary and
// appending an ellipsis. The result never estimates above maxTokens.
func Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if Estimate(text) <= maxTokens {
		return text
	}
	target := int(float64(maxTokens*charsPerToken) * truncateSafety)
	target -= len(ellipsis)
	if target <= 0 {
		return ""
	}
	cut := 0
	for index := range text {
		if index > target {
			break
		}
		cut = index
	}
	clipped := text[:cut]
	if index := strings.LastIndexAny(clipped, " \n\t"); index > 0 {
		clipped = clipped[:index]
	}
	clipped = strings.TrimRight(clipped, " \n\t")
	if clipped == "" {
		return ""
	}
	return clipped + ellipsis
}

// Allocation splits a token budget across prompt tiers. Buffer is reserved
// and never handed to content.
type Allocation struct {
	Total     int
	System    int
	Recent    int
	Memory    int
	Summaries int
	Buffer    int
}

type Split struct {
	System    float64
	Recent    float64
	Memory    float64
	Summaries float64
	Buffer    float64
}

var DefaultSplit = Split{
	System:    0.05,
	Recent:    0.20,
	Memory:    0.35,
	Summaries: 0.30,
	Buffer:    0.10,
}

func Allocate(maxTokens int, split Split) Allocation {
	if maxTokens < 0 {
		maxTokens = 0
	}
	alloc := Allocation{
		Total:     maxTokens,
		System:    share(maxTokens, split.System),
		Recent:    share(maxTokens, split.Recent),
		Memory:    share(maxTokens, split.Memory),
		Summaries: share(maxTokens, split.Summaries),
	}
	alloc.Buffer = maxTokens - alloc.System - alloc.Recent - alloc.Memory - alloc.Summaries
	return alloc
}

func share(total int, fraction float64) int {
	if fraction <= 0 {
		return 0
	}
	return int(math.Round(float64(total) * fraction))
}
