package classifier

import (
	"regexp"
	"strings"
)

// QuickFloor is the confidence at or above which a quick rule short-circuits
// the pipeline.
const QuickFloor = 0.8

type quickRule struct {
	matches  func(original, lower string) bool
	result   Result
	maxRunes int
}

var (
	explicitPrefixPattern = regexp.MustCompile(`(?i)^(fuck|sex|nude|naked|horny)`)
	pricePrefixPattern    = regexp.MustCompile(`(?i)^(how much|price|cost|rate|free)`)
)

var quickRules = []quickRule{
	{
		matches: func(_, lower string) bool {
			return containsAny(lower, "married", "wife", "husband")
		},
		result: Result{
			UserType:          TypeDiscreet,
			Confidence:        0.85,
			Indicators:        []string{"direct mention of a committed relationship"},
			HiddenMeaning:     "Visitor is in a relationship and values privacy.",
			SuggestedStrategy: "Keep the tone private and low key; do not ask about the partner.",
		},
	},
	{
		matches: func(_, lower string) bool {
			return containsAny(lower, "no one talks to me", "so lonely", "nobody cares")
		},
		result: Result{
			UserType:          TypeCompanionship,
			Confidence:        0.8,
			Indicators:        []string{"direct expression of loneliness"},
			HiddenMeaning:     "Visitor is looking for someone to talk to.",
			SuggestedStrategy: "Listen, reflect back what they said and keep the conversation going.",
		},
	},
	{
		maxRunes: 20,
		matches: func(original, _ string) bool {
			return explicitPrefixPattern.MatchString(original)
		},
		result: Result{
			UserType:          TypeExplicit,
			Confidence:        0.85,
			Indicators:        []string{"short message opening with explicit content"},
			HiddenMeaning:     "Visitor is only after explicit content right now.",
			SuggestedStrategy: "Answer briefly and restate the boundaries of the service.",
		},
	},
	{
		matches: func(original, _ string) bool {
			return pricePrefixPattern.MatchString(original)
		},
		result: Result{
			UserType:          TypeBrowser,
			Confidence:        0.8,
			Indicators:        []string{"opens with a price question"},
			HiddenMeaning:     "Visitor is comparing options before engaging.",
			SuggestedStrategy: "Answer the question plainly and point to the public pricing page.",
		},
	},
}

// QuickClassify runs the high-precision literal rules in order. It is pure:
// the same input always yields the same result.
func QuickClassify(in Input) (Result, bool) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return Result{}, false
	}
	lower := strings.ToLower(message)
	for _, rule := range quickRules {
		if rule.maxRunes > 0 && len([]rune(message)) >= rule.maxRunes {
			continue
		}
		if !rule.matches(message, lower) {
			continue
		}
		if rule.result.Confidence < QuickFloor {
			continue
		}
		result := rule.result
		result.Indicators = append([]string(nil), rule.result.Indicators...)
		result.RevenuePotential = PotentialFor(result.UserType)
		result.Source = SourceQuick
		return result, true
	}
	return Result{}, false
}

func containsAny(text string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}
