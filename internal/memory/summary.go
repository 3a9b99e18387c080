package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dwizi/rapport/internal/classifier"
	"github.com/dwizi/rapport/internal/llm"
	"github.com/dwizi/rapport/internal/store"
	"github.com/dwizi/rapport/internal/tokens"
)

const summarySystemPrompt = `You compress a chat session into notes for the next conversation with the same visitor.
Reply in exactly this shape and nothing else:
INSIGHTS:
- short fact about the visitor
- short fact about the visitor
PATTERNS:
- how they like to talk (pace, tone, topics)
SIGNAL: category=<CATEGORY> confidence=<0..1> value=<HIGH|MEDIUM|LOW>
Keep it under 300 words. Do not invent facts.`

// SummarizeSession distills the last turns of a session. Without a reasoner,
// or when it fails, a deterministic one-line summary is returned.
func (m *Manager) SummarizeSession(ctx context.Context, history []classifier.Turn, classification classifier.Result) string {
	if len(history) > m.cfg.SummaryTurns {
		history = history[len(history)-m.cfg.SummaryTurns:]
	}
	if m.reasoner != nil && len(history) > 0 {
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.SummaryTimeout)
		reply, err := m.reasoner.Reason(callCtx, summarySystemPrompt, buildSummaryPrompt(history, classification))
		cancel()
		reply = strings.TrimSpace(reply)
		switch {
		case err != nil:
			m.logger.Warn("session summary failed, using fallback", "error", err)
		case reply == "":
			m.logger.Warn("session summary empty, using fallback")
		default:
			return tokens.Truncate(reply, m.cfg.SummaryMaxTokens)
		}
	}
	return fallbackSummary(history, classification)
}

// StoreSummary embeds and persists a session summary tagged with the
// classification snapshot taken at session end. Summaries with the same
// non-empty session key replace each other, so one session keeps one row.
func (m *Manager) StoreSummary(ctx context.Context, visitorID, sessionKey, summary string, classification classifier.Result) (Entry, error) {
	return m.Store(ctx, Note{
		ID:         SummaryID(visitorID, sessionKey),
		VisitorID:  visitorID,
		Kind:       store.MemoryKindSummary,
		Role:       llm.RoleSystem,
		Content:    summary,
		Category:   string(classification.UserType),
		Confidence: classification.Confidence,
	})
}

// SummaryID derives a stable memory id for a visitor's session; an empty
// session key yields an empty id and a fresh row.
func SummaryID(visitorID, sessionKey string) string {
	sessionKey = strings.TrimSpace(sessionKey)
	if sessionKey == "" {
		return ""
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("summary:"+strings.TrimSpace(visitorID)+":"+sessionKey)).String()
}

// Summaries returns the visitor's newest summaries, newest first.
func (m *Manager) Summaries(ctx context.Context, visitorID string, limit int) ([]string, error) {
	records, err := m.repo.RecentMemories(ctx, strings.TrimSpace(visitorID), store.MemoryKindSummary, limit)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	summaries := make([]string, 0, len(records))
	for _, record := range records {
		if strings.TrimSpace(record.Content) != "" {
			summaries = append(summaries, record.Content)
		}
	}
	return summaries, nil
}

func buildSummaryPrompt(history []classifier.Turn, classification classifier.Result) string {
	var b strings.Builder
	b.WriteString("Conversation:\n")
	for _, turn := range history {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, strings.TrimSpace(turn.Content))
	}
	fmt.Fprintf(&b, "\nClassification at session end: %s (confidence %.2f, value %s)\n",
		classification.UserType, classification.Confidence, classification.RevenuePotential)
	return b.String()
}

func fallbackSummary(history []classifier.Turn, classification classifier.Result) string {
	visitorTurns := 0
	lastVisitor := ""
	for _, turn := range history {
		if turn.Role == llm.RoleUser {
			visitorTurns++
			lastVisitor = strings.TrimSpace(turn.Content)
		}
	}
	userType := classification.UserType
	if userType == "" {
		userType = classifier.TypeUnknown
	}
	summary := fmt.Sprintf("Session of %d messages (%d from visitor), category %s at %.2f confidence.",
		len(history), visitorTurns, userType, classification.Confidence)
	if lastVisitor != "" {
		summary += fmt.Sprintf(" Last visitor message: %q.", clip(lastVisitor, 160))
	}
	return summary
}

func clip(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max]) + "..."
}
