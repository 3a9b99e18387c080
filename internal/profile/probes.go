package profile

import "regexp"

type Dimension string

const (
	DimensionNeed       Dimension = "need"
	DimensionStyle      Dimension = "style"
	DimensionAttachment Dimension = "attachment"
	DimensionMotivation Dimension = "motivation"
	DimensionPlanTier   Dimension = "plan_tier"
)

// Matcher scores one pattern against a free-text probe answer. Weight is the
// evidence added to each implied tag; Insights are deltas on the named
// 0-100 sub-scores.
type Matcher struct {
	Pattern      *regexp.Regexp
	Implies      map[Dimension]string
	Weight       float64
	Insights     map[string]float64
	TriggerWord  string
	MonthlyValue float64
}

type Probe struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Dimension Dimension `json:"dimension"`
	Phase     int       `json:"phase"`
	Matchers  []Matcher `json:"-"`
}

func pattern(expr string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + expr)
}

// Catalog is the ordered probe list. Order matters: NextProbe draws from the
// first three unasked entries.
var Catalog = []Probe{
	{
		ID:        "relationship_context",
		Question:  "Is tonight a quiet one on your own, or is the house busy?",
		Dimension: DimensionNeed,
		Phase:     1,
		Matchers: []Matcher{
			{
				Pattern:     pattern(`\b(partner|married|wife|husband|taken|kids|family)\b`),
				Implies:     map[Dimension]string{DimensionNeed: NeedReassurance, DimensionMotivation: MotivationSocial},
				Weight:      30,
				Insights:    map[string]float64{InsightPrivacy: 30},
				TriggerWord: "family",
			},
			{
				Pattern:     pattern(`\b(alone|single|on my own|by myself|quiet)\b`),
				Implies:     map[Dimension]string{DimensionNeed: NeedConnection},
				Weight:      25,
				Insights:    map[string]float64{InsightConnection: 20},
				TriggerWord: "alone",
			},
		},
	},
	{
		ID:        "availability",
		Question:  "When do you usually have time to chat?",
		Dimension: DimensionAttachment,
		Phase:     1,
		Matchers: []Matcher{
			{
				Pattern:  pattern(`\b(whenever|anytime|any time|all the time|always)\b`),
				Implies:  map[Dimension]string{DimensionAttachment: AttachmentAnxious},
				Weight:   25,
				Insights: map[string]float64{InsightConnection: 15},
			},
			{
				Pattern: pattern(`\b(rarely|busy|when i can|weekends?|not often)\b`),
				Implies: map[Dimension]string{DimensionAttachment: AttachmentAvoidant},
				Weight:  25,
			},
			{
				Pattern:  pattern(`\b(evenings?|mornings?|after work|lunch|nights?)\b`),
				Implies:  map[Dimension]string{DimensionAttachment: AttachmentSecure},
				Weight:   20,
				Insights: map[string]float64{InsightComfort: 10},
			},
		},
	},
	{
		ID:        "conversation_style",
		Question:  "Do you like to steer a conversation or see where it goes?",
		Dimension: DimensionStyle,
		Phase:     1,
		Matchers: []Matcher{
			{
				Pattern: pattern(`\b(steer|lead|in charge|control|decide)\b`),
				Implies: map[Dimension]string{DimensionStyle: StyleDirective},
				Weight:  30,
			},
			{
				Pattern:  pattern(`\b(flow|listen|follow|go along|see where)\b`),
				Implies:  map[Dimension]string{DimensionStyle: StyleSupportive},
				Weight:   30,
				Insights: map[string]float64{InsightOpenness: 10},
			},
			{
				Pattern: pattern(`\b(share|give|treat|help)\b`),
				Implies: map[Dimension]string{DimensionStyle: StyleGenerous},
				Weight:  25,
			},
			{
				Pattern:  pattern(`\b(curious|explore|new things|learn|surprise)\b`),
				Implies:  map[Dimension]string{DimensionStyle: StyleCurious},
				Weight:   25,
				Insights: map[string]float64{InsightOpenness: 15},
			},
		},
	},
	{
		ID:        "ideal_evening",
		Question:  "What does a perfect evening look like for you?",
		Dimension: DimensionPlanTier,
		Phase:     2,
		Matchers: []Matcher{
			{
				Pattern:      pattern(`\b(fancy|expensive|fine dining|concert|travel|trip)\b`),
				Implies:      map[Dimension]string{DimensionPlanTier: TierPremium},
				Weight:       30,
				Insights:     map[string]float64{InsightBudget: 40},
				MonthlyValue: 500,
			},
			{
				Pattern:      pattern(`\b(dinner|movies?|restaurant|games?|show)\b`),
				Implies:      map[Dimension]string{DimensionPlanTier: TierStandard},
				Weight:       25,
				Insights:     map[string]float64{InsightBudget: 10},
				MonthlyValue: 100,
			},
			{
				Pattern:      pattern(`\b(talk|simple|walk|home|quiet|sofa|couch)\b`),
				Implies:      map[Dimension]string{DimensionPlanTier: TierBasic},
				Weight:       20,
				Insights:     map[string]float64{InsightBudget: -20},
				MonthlyValue: 25,
			},
		},
	},
	{
		ID:        "message_frequency",
		Question:  "How often would you like to hear from me?",
		Dimension: DimensionAttachment,
		Phase:     2,
		Matchers: []Matcher{
			{
				Pattern:  pattern(`\b(all day|constantly|lots|a lot|every hour|always)\b`),
				Implies:  map[Dimension]string{DimensionAttachment: AttachmentAnxious, DimensionNeed: NeedAttention},
				Weight:   30,
				Insights: map[string]float64{InsightConnection: 20},
			},
			{
				Pattern: pattern(`\b(rarely|sometimes|occasionally|once a week|when i message)\b`),
				Implies: map[Dimension]string{DimensionAttachment: AttachmentAvoidant},
				Weight:  30,
			},
			{
				Pattern:  pattern(`\b(daily|every day|once a day|regular|evenings?)\b`),
				Implies:  map[Dimension]string{DimensionAttachment: AttachmentSecure},
				Weight:   25,
				Insights: map[string]float64{InsightComfort: 10},
			},
		},
	},
	{
		ID:        "motivation",
		Question:  "What made you want to chat today?",
		Dimension: DimensionMotivation,
		Phase:     2,
		Matchers: []Matcher{
			{
				Pattern: pattern(`\b(bored|curious|check|price|info|question)\b`),
				Implies: map[Dimension]string{DimensionMotivation: MotivationPractical},
				Weight:  25,
			},
			{
				Pattern:     pattern(`\b(lonely|alone|sad|talk to someone|listen|understand)\b`),
				Implies:     map[Dimension]string{DimensionMotivation: MotivationEmotional, DimensionNeed: NeedSupport},
				Weight:      30,
				Insights:    map[string]float64{InsightSupport: 30, InsightConnection: 15},
				TriggerWord: "lonely",
			},
			{
				Pattern: pattern(`\b(friends?|people|meet|social|new in town)\b`),
				Implies: map[Dimension]string{DimensionMotivation: MotivationSocial, DimensionNeed: NeedConnection},
				Weight:  25,
			},
			{
				Pattern: pattern(`\b(flirt|romance|romantic|date|intimate)\b`),
				Implies: map[Dimension]string{DimensionMotivation: MotivationIntimacy},
				Weight:  25,
			},
		},
	},
	{
		ID:        "privacy",
		Question:  "Is keeping our chats private important to you?",
		Dimension: DimensionNeed,
		Phase:     3,
		Matchers: []Matcher{
			{
				Pattern:     pattern(`\b(yes|very|private|secret|discreet|between us)\b`),
				Implies:     map[Dimension]string{DimensionNeed: NeedReassurance},
				Weight:      25,
				Insights:    map[string]float64{InsightPrivacy: 30},
				TriggerWord: "private",
			},
			{
				Pattern:  pattern(`\b(no|not really|don'?t mind|open)\b`),
				Weight:   10,
				Insights: map[string]float64{InsightOpenness: 20, InsightPrivacy: -20},
			},
		},
	},
	{
		ID:        "pace",
		Question:  "Do you prefer quick back and forth or slower, longer messages?",
		Dimension: DimensionNeed,
		Phase:     3,
		Matchers: []Matcher{
			{
				Pattern: pattern(`\b(quick|fast|short)\b`),
				Implies: map[Dimension]string{DimensionNeed: NeedAttention},
				Weight:  20,
			},
			{
				Pattern:  pattern(`\b(slow|slower|long|longer|detail)\b`),
				Implies:  map[Dimension]string{DimensionNeed: NeedSupport},
				Weight:   20,
				Insights: map[string]float64{InsightComfort: 10},
			},
		},
	},
}

func lookupProbe(id string) (Probe, bool) {
	for _, probe := range Catalog {
		if probe.ID == id {
			return probe, true
		}
	}
	return Probe{}, false
}

// PhaseFor maps the visitor's message count to the deepest probe phase
// unlocked so far.
func PhaseFor(messageCount int) int {
	switch {
	case messageCount <= 10:
		return 1
	case messageCount <= 25:
		return 2
	default:
		return 3
	}
}
