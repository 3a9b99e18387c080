package profile

import "github.com/dwizi/rapport/internal/classifier"

const (
	StrategyGathering = "gathering_data"
	StrategyBalanced  = "balanced_engagement"
	minDerivePoints   = 3
)

type strategyRule struct {
	need       string
	style      string
	attachment string
	motivation string
	strategy   string
	conversion float64
}

// strategyRules are checked in order; empty fields match anything.
var strategyRules = []strategyRule{
	{need: NeedConnection, attachment: AttachmentAnxious, strategy: "steady_check_ins", conversion: 0.6},
	{need: NeedConnection, strategy: "warm_companionship", conversion: 0.55},
	{need: NeedReassurance, strategy: "private_and_calm", conversion: 0.5},
	{need: NeedSupport, strategy: "listen_and_support", conversion: 0.45},
	{need: NeedAttention, strategy: "quick_and_present", conversion: 0.45},
	{style: StyleDirective, strategy: "let_them_lead", conversion: 0.4},
	{style: StyleCurious, strategy: "share_and_explore", conversion: 0.4},
	{motivation: MotivationPractical, strategy: "clear_answers", conversion: 0.3},
}

var tierMonthlyValue = map[string]float64{
	TierPremium:  500,
	TierStandard: 100,
	TierBasic:    25,
}

var focusByNeed = map[string][]string{
	NeedConnection:  {"remember_details", "regular_check_ins"},
	NeedReassurance: {"respect_privacy", "keep_calm_tone"},
	NeedSupport:     {"reflect_feelings", "longer_replies"},
	NeedAttention:   {"fast_replies", "short_messages"},
}

var focusByAttachment = map[string][]string{
	AttachmentAnxious:  {"consistent_timing"},
	AttachmentAvoidant: {"give_space"},
	AttachmentSecure:   {"match_their_pace"},
}

// derive recomputes the strategy tag, conversion probability and monthly
// value estimate from the current dimensions.
func derive(profile *Profile) {
	if value, ok := tierMonthlyValue[profile.PlanTier]; ok {
		profile.EstimatedMonthlyValue = value
	}
	if profile.DataPoints < minDerivePoints {
		profile.StrategyTag = StrategyGathering
		profile.ConversionProbability = 0.5
		return
	}
	for _, rule := range strategyRules {
		if rule.matches(*profile) {
			profile.StrategyTag = rule.strategy
			profile.ConversionProbability = rule.conversion
			return
		}
	}
	profile.StrategyTag = StrategyBalanced
	profile.ConversionProbability = 0.4
}

func (r strategyRule) matches(profile Profile) bool {
	return fieldMatches(r.need, profile.Need) &&
		fieldMatches(r.style, profile.Style) &&
		fieldMatches(r.attachment, profile.Attachment) &&
		fieldMatches(r.motivation, profile.Motivation)
}

func fieldMatches(want, have string) bool {
	return want == "" || want == have
}

func focusFor(profile Profile) []string {
	focus := []string{}
	focus = append(focus, focusByNeed[profile.Need]...)
	focus = append(focus, focusByAttachment[profile.Attachment]...)
	return focus
}

type coarseRule struct {
	need       string
	motivation string
	style      string
	minPrivacy float64
	userType   classifier.UserType
}

// coarseRules project the profile onto the four conversation categories.
var coarseRules = []coarseRule{
	{need: NeedReassurance, minPrivacy: 70, userType: classifier.TypeDiscreet},
	{motivation: MotivationEmotional, userType: classifier.TypeCompanionship},
	{need: NeedConnection, userType: classifier.TypeCompanionship},
	{motivation: MotivationIntimacy, style: StyleDirective, userType: classifier.TypeExplicit},
	{motivation: MotivationPractical, userType: classifier.TypeBrowser},
}

// CoarseType maps the profile to a category and the profile's confidence.
// Profiles matching no rule map to UNKNOWN.
func CoarseType(profile Profile) (classifier.UserType, float64) {
	for _, rule := range coarseRules {
		if !fieldMatches(rule.need, profile.Need) ||
			!fieldMatches(rule.motivation, profile.Motivation) ||
			!fieldMatches(rule.style, profile.Style) {
			continue
		}
		if rule.minPrivacy > 0 && profile.Insights[InsightPrivacy] < rule.minPrivacy {
			continue
		}
		return rule.userType, profile.Confidence
	}
	return classifier.TypeUnknown, profile.Confidence
}
