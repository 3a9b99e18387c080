package classifier

import "strings"

type UserType string

const (
	TypeDiscreet      UserType = "DISCREET"
	TypeCompanionship UserType = "COMPANIONSHIP"
	TypeExplicit      UserType = "EXPLICIT"
	TypeBrowser       UserType = "BROWSER"
	TypeUnknown       UserType = "UNKNOWN"
)

// Types lists the named categories in scoring order. Ties keep the earlier
// entry.
var Types = []UserType{TypeDiscreet, TypeCompanionship, TypeExplicit, TypeBrowser}

func ParseUserType(value string) UserType {
	switch UserType(strings.ToUpper(strings.TrimSpace(value))) {
	case TypeDiscreet:
		return TypeDiscreet
	case TypeCompanionship:
		return TypeCompanionship
	case TypeExplicit:
		return TypeExplicit
	case TypeBrowser:
		return TypeBrowser
	default:
		return TypeUnknown
	}
}

type Potential string

const (
	PotentialHigh   Potential = "HIGH"
	PotentialMedium Potential = "MEDIUM"
	PotentialLow    Potential = "LOW"
)

// PotentialFor is the fixed per-category value bucket.
func PotentialFor(userType UserType) Potential {
	switch userType {
	case TypeDiscreet:
		return PotentialHigh
	case TypeCompanionship:
		return PotentialMedium
	default:
		return PotentialLow
	}
}

func parsePotential(value string, userType UserType) Potential {
	switch Potential(strings.ToUpper(strings.TrimSpace(value))) {
	case PotentialHigh:
		return PotentialHigh
	case PotentialMedium:
		return PotentialMedium
	case PotentialLow:
		return PotentialLow
	default:
		return PotentialFor(userType)
	}
}

type Source string

const (
	SourceQuick     Source = "quick"
	SourceCache     Source = "cache"
	SourceReasoning Source = "reasoning"
	SourceHeuristic Source = "heuristic"
)

type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Input is one visitor message plus the lightweight behavioural metadata
// observed around it. Zero values mean "not observed".
type Input struct {
	Message               string `json:"message"`
	PreviousQuestion      string `json:"previousQuestion,omitempty"`
	MessageOrdinal        int    `json:"messageOrdinal"`
	ResponseTimeMs        int64  `json:"responseTimeMs,omitempty"`
	TypingHesitationCount int    `json:"typingHesitationCount,omitempty"`
	HourOfDay             int    `json:"hourOfDay"`
	SessionDurationMin    int    `json:"sessionDurationMin,omitempty"`
	History               []Turn `json:"history,omitempty"`
}

type Result struct {
	UserType          UserType  `json:"userType"`
	Confidence        float64   `json:"confidence"`
	Indicators        []string  `json:"indicators"`
	HiddenMeaning     string    `json:"hiddenMeaning"`
	SuggestedStrategy string    `json:"suggestedStrategy"`
	RevenuePotential  Potential `json:"revenuePotential"`
	Source            Source    `json:"source"`
}

func clamp01(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
