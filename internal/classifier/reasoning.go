package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errNoJSONObject = errors.New("no json object in reasoning reply")

const reasoningHistoryTurns = 5

const reasoningSystemPrompt = `You label the conversational intent of a chat visitor.
Pick exactly one category:
- DISCREET: mentions a partner or family, privacy words (private, secret, between us), evasive answers to relationship questions, late night hesitation.
- COMPANIONSHIP: loneliness, isolation (working from home, just moved, no friends), long open messages, polite greetings, wants someone to listen.
- EXPLICIT: very short impatient messages, explicit wording, instant replies, asks for more.
- BROWSER: just looking, first time here, asks about price early, low effort greetings.
- UNKNOWN: not enough signal.
Reply with ONLY a JSON object:
{"userType":"DISCREET|COMPANIONSHIP|EXPLICIT|BROWSER|UNKNOWN","confidence":0.0,"indicators":["..."],"hiddenMeaning":"one sentence","suggestedStrategy":"one sentence","revenuePotential":"HIGH|MEDIUM|LOW"}`

// buildReasoningPrompt renders recent turns and the behavioural metadata for
// the reasoning capability.
func buildReasoningPrompt(in Input) string {
	var builder strings.Builder
	history := in.History
	if len(history) > reasoningHistoryTurns {
		history = history[len(history)-reasoningHistoryTurns:]
	}
	if len(history) > 0 {
		builder.WriteString("Recent conversation:\n")
		for _, turn := range history {
			fmt.Fprintf(&builder, "%s: %s\n", turn.Role, strings.TrimSpace(turn.Content))
		}
		builder.WriteString("\n")
	}
	builder.WriteString("Metadata:\n")
	fmt.Fprintf(&builder, "- previous question: %s\n", valueOr(in.PreviousQuestion, "none"))
	fmt.Fprintf(&builder, "- message number: %d\n", in.MessageOrdinal)
	fmt.Fprintf(&builder, "- hour of day: %d\n", in.HourOfDay)
	if in.ResponseTimeMs > 0 {
		fmt.Fprintf(&builder, "- response time: %dms\n", in.ResponseTimeMs)
	}
	if in.TypingHesitationCount > 0 {
		fmt.Fprintf(&builder, "- typing stops: %d\n", in.TypingHesitationCount)
	}
	if in.SessionDurationMin > 0 {
		fmt.Fprintf(&builder, "- session length: %d minutes\n", in.SessionDurationMin)
	}
	fmt.Fprintf(&builder, "\nVisitor message: %q\n", strings.TrimSpace(in.Message))
	return builder.String()
}

type reasoningReply struct {
	UserType          string   `json:"userType"`
	Confidence        float64  `json:"confidence"`
	Indicators        []string `json:"indicators"`
	HiddenMeaning     string   `json:"hiddenMeaning"`
	SuggestedStrategy string   `json:"suggestedStrategy"`
	RevenuePotential  string   `json:"revenuePotential"`
}

// parseReasoningReply decodes the reply as JSON, falling back to the
// substring between the first '{' and the last '}'.
func parseReasoningReply(raw string) (Result, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var reply reasoningReply
	if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
		start := strings.Index(cleaned, "{")
		end := strings.LastIndex(cleaned, "}")
		if start < 0 || end <= start {
			return Result{}, errNoJSONObject
		}
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &reply); err != nil {
			return Result{}, fmt.Errorf("decode reasoning reply: %w", err)
		}
	}

	userType := ParseUserType(reply.UserType)
	indicators := make([]string, 0, len(reply.Indicators))
	for _, indicator := range reply.Indicators {
		if indicator = strings.TrimSpace(indicator); indicator != "" {
			indicators = append(indicators, indicator)
		}
	}
	if len(indicators) == 0 {
		indicators = append(indicators, "reasoning service gave no indicators")
	}
	return Result{
		UserType:          userType,
		Confidence:        clamp01(reply.Confidence),
		Indicators:        indicators,
		HiddenMeaning:     strings.TrimSpace(reply.HiddenMeaning),
		SuggestedStrategy: strings.TrimSpace(reply.SuggestedStrategy),
		RevenuePotential:  parsePotential(reply.RevenuePotential, userType),
		Source:            SourceReasoning,
	}, nil
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
