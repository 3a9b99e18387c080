package strategy

import (
	"github.com/dwizi/rapport/internal/classifier"
)

type Length string

const (
	LengthShort  Length = "short"
	LengthMedium Length = "medium"
	LengthLong   Length = "long"
)

// Window is an inclusive message-ordinal range. Max zero leaves the range
// open-ended.
type Window struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

func (w Window) Contains(ordinal int) bool {
	if ordinal < w.Min {
		return false
	}
	return w.Max == 0 || ordinal <= w.Max
}

// Policy is the response policy for one category. A zero ProbeProbability
// means the category is never probed.
type Policy struct {
	Tone             string   `yaml:"tone" json:"tone"`
	Length           Length   `yaml:"length" json:"length"`
	ShortLength      Length   `yaml:"short_length,omitempty" json:"shortLength,omitempty"`
	Required         []string `yaml:"required_vocabulary" json:"requiredVocabulary"`
	Forbidden        []string `yaml:"forbidden_vocabulary" json:"forbiddenVocabulary"`
	Fallbacks        []string `yaml:"fallbacks" json:"fallbacks"`
	ProbeWindow      Window   `yaml:"probe_window" json:"probeWindow"`
	ProbeProbability float64  `yaml:"probe_probability" json:"probeProbability"`
	AvoidProbes      []string `yaml:"avoid_probes,omitempty" json:"avoidProbes,omitempty"`
}

type Table struct {
	Policies map[classifier.UserType]Policy `json:"policies"`
	// ValueWeights biases memory ranking per category; nil keeps the memory
	// manager's defaults.
	ValueWeights map[string]float64 `json:"valueWeights,omitempty"`
	// MinProbeMessages gates every probe until the visitor has sent this
	// many messages.
	MinProbeMessages int `json:"minProbeMessages"`
	// MinConfidence is the classification confidence below which the
	// UNKNOWN policy is used.
	MinConfidence float64 `json:"minConfidence"`
}

// DefaultTable returns a fresh copy of the built-in policies. The defaults
// stay neutral: no category gets sales pressure, guilt or escalation.
func DefaultTable() Table {
	return Table{
		MinProbeMessages: 3,
		MinConfidence:    0.4,
		Policies: map[classifier.UserType]Policy{
			classifier.TypeDiscreet: {
				Tone:        "calm, discreet and respectful of privacy",
				Length:      LengthMedium,
				ShortLength: LengthShort,
				Required:    []string{"no rush"},
				Forbidden:   []string{"wife", "husband", "cheating", "guilt", "caught"},
				Fallbacks: []string{
					"Take your time, there's no rush here.",
					"Happy to just chat about whatever is on your mind.",
					"This is a relaxed space. How has your evening been?",
				},
				ProbeWindow:      Window{Min: 3, Max: 15},
				ProbeProbability: 0.4,
				AvoidProbes:      []string{"message_frequency"},
			},
			classifier.TypeCompanionship: {
				Tone:      "warm, attentive and genuinely curious",
				Length:    LengthMedium,
				Required:  []string{"tell me"},
				Forbidden: []string{"buy", "upgrade", "premium", "discount", "offer", "subscribe"},
				Fallbacks: []string{
					"That sounds like a long day. How are you feeling now?",
					"I'm glad you reached out. What's been on your mind?",
					"Tell me more, I'm listening.",
				},
				ProbeWindow:      Window{Min: 5, Max: 20},
				ProbeProbability: 0.4,
				AvoidProbes:      []string{"ideal_evening"},
			},
			classifier.TypeExplicit: {
				Tone:      "brief, calm and friendly while keeping boundaries",
				Length:    LengthShort,
				Forbidden: []string{"graphic", "explicit"},
				Fallbacks: []string{
					"Let's keep things friendly. What else is going on tonight?",
					"I keep our chats respectful, but I'm happy to talk.",
					"Slow down a little, tell me about your day?",
				},
			},
			classifier.TypeBrowser: {
				Tone:      "clear, direct and informative",
				Length:    LengthShort,
				Forbidden: []string{"hurry", "limited time", "last chance"},
				Fallbacks: []string{
					"Happy to answer any questions about how this works.",
					"Take a look around and ask me anything.",
					"What would you like to know?",
				},
			},
			classifier.TypeUnknown: {
				Tone:             "friendly, open and curious",
				Length:           LengthMedium,
				ShortLength:      LengthShort,
				Fallbacks:        []string{"Hey! How's your day going?", "What brings you here today?", "Tell me a bit about yourself?"},
				ProbeWindow:      Window{Min: 2},
				ProbeProbability: 0.4,
			},
		},
	}
}

func (t Table) policy(userType classifier.UserType) Policy {
	if policy, ok := t.Policies[userType]; ok {
		return policy
	}
	return t.Policies[classifier.TypeUnknown]
}

func (t Table) clone() Table {
	out := t
	out.Policies = make(map[classifier.UserType]Policy, len(t.Policies))
	for userType, policy := range t.Policies {
		out.Policies[userType] = policy
	}
	if t.ValueWeights != nil {
		out.ValueWeights = make(map[string]float64, len(t.ValueWeights))
		for category, weight := range t.ValueWeights {
			out.ValueWeights[category] = weight
		}
	}
	return out
}
