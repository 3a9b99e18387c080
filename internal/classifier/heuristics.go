package classifier

import (
	"fmt"
	"regexp"
	"strings"
)

// UnknownFloor is the minimum heuristic score for a named category.
const UnknownFloor = 0.3

type avoidancePattern struct {
	pattern *regexp.Regexp
	weight  float64
	label   string
}

var avoidancePatterns = []avoidancePattern{
	{regexp.MustCompile(`(?i)^idk`), 0.4, "idk"},
	{regexp.MustCompile(`(?i)^maybe`), 0.35, "maybe"},
	{regexp.MustCompile(`(?i)^kinda`), 0.3, "kinda"},
	{regexp.MustCompile(`(?i)^sometimes`), 0.35, "sometimes"},
	{regexp.MustCompile(`(?i)complicated`), 0.45, "complicated"},
	{regexp.MustCompile(`(?i)^not really`), 0.25, "not really"},
	{regexp.MustCompile(`(?i)depends`), 0.3, "depends"},
	{regexp.MustCompile(`(?i)why\?`), 0.2, "why?"},
	{regexp.MustCompile(`(?i)^haha|^lol`), 0.25, "laughing it off"},
}

// avoidanceDecay dampens repeated avoidance hits: full, 70%, then 50%.
var avoidanceDecay = []float64{1, 0.7, 0.5}

var (
	relationshipQuestionWords = []string{"bad", "naughty", "single", "relationship"}
	discretionWords           = []string{"discrete", "discreet", "private", "secret", "between us"}
	partnerWords              = []string{"wife", "kids", "married"}

	companionshipKeywords = []string{
		"alone", "nobody", "understand", "listen", "care", "bored",
		"depressed", "sad", "empty", "work from home", "no friends", "just moved",
	}
	politeGreetingPattern = regexp.MustCompile(`(?i)hi.*how are you|hello.*doing`)
	emojiPattern          = regexp.MustCompile(`😊|😅|😂|🥺|😔`)

	explicitWords = []string{
		"horny", "fuck", "sex", "naked", "nude", "xxx",
		"show me", "send me", "want to see", "got any",
	}
	urgencyWords    = []string{"now", "hurry", "quick", "asap"}
	escalationWords = []string{"more", "else", "other", "special"}

	browsingPhrases = []string{"just looking", "checking out", "new here", "first time"}
	priceWords      = []string{"how much", "cost", "price", "free"}
	lowEffortHellos = map[string]bool{"hey": true, "hi": true, "sup": true}
)

type scorer func(message, lower string, in Input) (float64, []string)

var scorers = map[UserType]scorer{
	TypeDiscreet:      scoreDiscreet,
	TypeCompanionship: scoreCompanionship,
	TypeExplicit:      scoreExplicit,
	TypeBrowser:       scoreBrowser,
}

var heuristicNotes = map[UserType][2]string{
	TypeDiscreet: {
		"Visitor may be attached and prefers to keep things private.",
		"Keep the tone private and low key; let them set the pace.",
	},
	TypeCompanionship: {
		"Visitor seems isolated and wants conversation.",
		"Be warm and attentive; remember details they share.",
	},
	TypeExplicit: {
		"Visitor is impatient and wants explicit content.",
		"Keep replies short and restate what the service offers.",
	},
	TypeBrowser: {
		"Visitor is browsing without a clear goal.",
		"Answer questions plainly without pressure.",
	},
}

// HeuristicClassify scores every named category independently and returns
// the strongest one, or UNKNOWN when nothing reaches UnknownFloor. It is pure.
func HeuristicClassify(in Input) Result {
	message := strings.TrimSpace(in.Message)
	lower := strings.ToLower(message)

	best := TypeUnknown
	bestScore := 0.0
	var bestIndicators []string
	for _, userType := range Types {
		score, indicators := scorers[userType](message, lower, in)
		if score > bestScore {
			best, bestScore, bestIndicators = userType, score, indicators
		}
	}

	if best == TypeUnknown || bestScore < UnknownFloor {
		indicators := []string{"insufficient signal"}
		if best != TypeUnknown {
			indicators = append(indicators, fmt.Sprintf("weak %s signal (%.2f)", strings.ToLower(string(best)), bestScore))
		}
		return Result{
			UserType:          TypeUnknown,
			Confidence:        UnknownFloor,
			Indicators:        indicators,
			HiddenMeaning:     "Not enough data to categorise the visitor yet.",
			SuggestedStrategy: "Keep the conversation going and gather more context.",
			RevenuePotential:  PotentialFor(TypeUnknown),
			Source:            SourceHeuristic,
		}
	}

	notes := heuristicNotes[best]
	return Result{
		UserType:          best,
		Confidence:        clamp01(bestScore),
		Indicators:        bestIndicators,
		HiddenMeaning:     notes[0],
		SuggestedStrategy: notes[1],
		RevenuePotential:  PotentialFor(best),
		Source:            SourceHeuristic,
	}
}

func scoreDiscreet(message, lower string, in Input) (float64, []string) {
	var indicators []string
	score := 0.0

	previous := strings.ToLower(in.PreviousQuestion)
	if containsAny(previous, relationshipQuestionWords...) {
		hits := 0
		for _, candidate := range avoidancePatterns {
			if !candidate.pattern.MatchString(message) {
				continue
			}
			factor := avoidanceDecay[len(avoidanceDecay)-1]
			if hits < len(avoidanceDecay) {
				factor = avoidanceDecay[hits]
			}
			score += candidate.weight * factor
			hits++
			indicators = append(indicators, fmt.Sprintf("avoidant answer to a relationship question (%s)", candidate.label))
		}
	}

	if in.HourOfDay >= 22 || in.HourOfDay <= 2 {
		score += 0.15
		indicators = append(indicators, "late night activity")
	}

	if in.ResponseTimeMs > 5000 {
		switch {
		case in.ResponseTimeMs > 10000:
			score += 0.2
		case in.ResponseTimeMs > 7000:
			score += 0.15
		default:
			score += 0.1
		}
		indicators = append(indicators, "long pause before answering")
	}

	if in.TypingHesitationCount > 2 {
		if in.TypingHesitationCount > 4 {
			score += 0.15
		} else {
			score += 0.1
		}
		indicators = append(indicators, "repeated typing stops")
	}

	if containsAny(lower, discretionWords...) {
		score += 0.3
		indicators = append(indicators, "uses privacy language")
	}
	if containsAny(lower, partnerWords...) {
		score += 0.6
		indicators = append(indicators, "mentions a partner or family")
	}

	multiplier := 1.0
	if in.MessageOrdinal <= 3 {
		multiplier *= 0.85
		indicators = append(indicators, "early in the conversation")
	}
	switch {
	case len(indicators) >= 3:
		multiplier *= 1.15
	case len(indicators) >= 2:
		multiplier *= 1.1
	}

	confidence := minFloat(score*multiplier, 0.75)
	if len(indicators) >= 3 && score > 0.7 {
		confidence = minFloat(score*multiplier, 0.85)
	}
	if confidence > 0.3 {
		return confidence, indicators
	}
	return 0, nil
}

func scoreCompanionship(message, lower string, in Input) (float64, []string) {
	var indicators []string
	score := 0.0

	if len(strings.Fields(message)) > 15 {
		score += 0.4
		indicators = append(indicators, "long, open message")
	}

	if strings.Contains(lower, "lonely") {
		score += 0.5
		indicators = append(indicators, `strong loneliness keyword "lonely"`)
	}
	for _, keyword := range companionshipKeywords {
		if strings.Contains(lower, keyword) {
			score += 0.3
			indicators = append(indicators, fmt.Sprintf("loneliness keyword %q", keyword))
		}
	}

	if strings.Contains(lower, "work from home") && strings.Contains(lower, "lonely") {
		score += 0.3
		indicators = append(indicators, "remote work combined with loneliness")
	}
	if strings.Contains(lower, "months") && strings.Contains(lower, "lonely") {
		score += 0.2
		indicators = append(indicators, "loneliness lasting months")
	}

	if politeGreetingPattern.MatchString(message) {
		score += 0.3
		indicators = append(indicators, "polite greeting")
	}
	if strings.Count(message, "?") > 1 {
		score += 0.2
		indicators = append(indicators, "several questions")
	}
	if in.MessageOrdinal > 10 && in.SessionDurationMin > 30 {
		score += 0.3
		indicators = append(indicators, "long session")
	}
	if len(emojiPattern.FindAllString(message, -1)) > 2 {
		score += 0.2
		indicators = append(indicators, "many emojis")
	}

	confidence := minFloat(score, 1)
	if confidence >= 0.5 {
		return confidence, indicators
	}
	return 0, nil
}

func scoreExplicit(message, lower string, in Input) (float64, []string) {
	var indicators []string
	score := 0.0

	if in.ResponseTimeMs > 0 && in.ResponseTimeMs < 2000 {
		score += 0.4
		indicators = append(indicators, "instant reply")
	}
	for _, word := range explicitWords {
		if strings.Contains(lower, word) {
			score += 0.5
			indicators = append(indicators, fmt.Sprintf("explicit language %q", word))
			break
		}
	}
	if containsAny(lower, urgencyWords...) {
		score += 0.3
		indicators = append(indicators, "impatient wording")
	}
	if len(strings.Fields(message)) < 5 && in.MessageOrdinal > 2 {
		score += 0.2
		indicators = append(indicators, "short and direct")
	}
	if strings.Contains(message, "??") {
		score += 0.3
		indicators = append(indicators, "repeated question marks")
	}
	if containsAny(lower, escalationWords...) {
		score += 0.3
		indicators = append(indicators, "asks for more")
	}

	confidence := minFloat(score, 1)
	if confidence > 0.5 {
		return confidence, indicators
	}
	return 0, nil
}

func scoreBrowser(message, lower string, in Input) (float64, []string) {
	var indicators []string
	score := 0.0

	if containsAny(lower, browsingPhrases...) {
		score += 0.5
		indicators = append(indicators, "browsing language")
	}
	if containsAny(lower, priceWords...) {
		score += 0.4
		indicators = append(indicators, "asks about price")
	}
	if lowEffortHellos[lower] {
		score += 0.3
		indicators = append(indicators, "low effort greeting")
	}
	if in.MessageOrdinal > 5 && len(strings.Fields(message)) < 5 {
		score += 0.2
		indicators = append(indicators, "still sending short messages")
	}

	confidence := minFloat(score, 1)
	if confidence >= 0.3 {
		return confidence, indicators
	}
	return 0, nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
