package profile

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/dwizi/rapport/internal/agenterr"
	"github.com/dwizi/rapport/internal/store"
)

const Unknown = "UNKNOWN"

const (
	NeedConnection  = "CONNECTION"
	NeedReassurance = "REASSURANCE"
	NeedSupport     = "SUPPORT"
	NeedAttention   = "ATTENTION"

	StyleDirective  = "DIRECTIVE"
	StyleSupportive = "SUPPORTIVE"
	StyleGenerous   = "GENEROUS"
	StyleCurious    = "CURIOUS"

	AttachmentAnxious  = "ANXIOUS"
	AttachmentAvoidant = "AVOIDANT"
	AttachmentSecure   = "SECURE"

	MotivationPractical = "PRACTICAL"
	MotivationEmotional = "EMOTIONAL"
	MotivationSocial    = "SOCIAL"
	MotivationIntimacy  = "INTIMACY"

	TierPremium  = "PREMIUM"
	TierStandard = "STANDARD"
	TierBasic    = "BASIC"
)

const (
	InsightConnection = "connection_need"
	InsightSupport    = "support_need"
	InsightPrivacy    = "privacy_preference"
	InsightOpenness   = "openness"
	InsightComfort    = "communication_comfort"
	InsightBudget     = "budget_comfort"
)

const (
	fullConfidenceDataPoints = 20
	engagementFastReply      = 30000
	maxKeyStatementRunes     = 200
	lockStripes              = 32
)

// Profile is the durable per-visitor state.
type Profile = store.VisitorProfile

type Behavior struct {
	ResponseTimeMs  int64 `json:"responseTimeMs,omitempty"`
	MessageLength   int   `json:"messageLength,omitempty"`
	HesitationCount int   `json:"hesitationCount,omitempty"`
	HourOfDay       int   `json:"hourOfDay"`
}

// Repository is the persistence the service needs; *store.Store satisfies it.
type Repository interface {
	GetVisitorProfile(ctx context.Context, visitorID string) (store.VisitorProfile, error)
	CreateVisitorProfile(ctx context.Context, profile store.VisitorProfile) (store.VisitorProfile, error)
	SaveProbeResponse(ctx context.Context, response store.ProbeResponse, profile store.VisitorProfile) (store.ProbeResponse, error)
	ListProbeResponses(ctx context.Context, visitorID string) ([]store.ProbeResponse, error)
	SaveBehaviorEvent(ctx context.Context, event store.BehaviorEvent, profile store.VisitorProfile) error
}

type Service struct {
	repo   Repository
	random func() float64
	logger *slog.Logger
	locks  [lockStripes]sync.Mutex
}

// New builds the profile service. random must return values in [0, 1); nil
// uses math/rand.
func New(repo Repository, random func() float64, logger *slog.Logger) *Service {
	if random == nil {
		random = rand.Float64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		random: random,
		logger: logger.With("component", "profile"),
	}
}

// Initialize creates the visitor's profile with every dimension UNKNOWN. An
// existing profile is returned unchanged.
func (s *Service) Initialize(ctx context.Context, visitorID string) (Profile, error) {
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return Profile{}, agenterr.ErrVisitorRequired
	}
	return s.repo.CreateVisitorProfile(ctx, newProfile(visitorID))
}

// Get loads the profile, creating it on first contact.
func (s *Service) Get(ctx context.Context, visitorID string) (Profile, error) {
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return Profile{}, agenterr.ErrVisitorRequired
	}
	profile, err := s.repo.GetVisitorProfile(ctx, visitorID)
	if errors.Is(err, store.ErrProfileNotFound) {
		s.logger.Debug("profile missing, initializing", "visitor_id", visitorID)
		return s.Initialize(ctx, visitorID)
	}
	return profile, err
}

// NextProbe picks an unasked probe unlocked by messageCount, uniformly among
// the first three candidates in catalog order.
func (s *Service) NextProbe(ctx context.Context, visitorID string, messageCount int) (Probe, bool, error) {
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return Probe{}, false, agenterr.ErrVisitorRequired
	}
	answered, err := s.repo.ListProbeResponses(ctx, visitorID)
	if err != nil {
		return Probe{}, false, err
	}
	asked := make(map[string]bool, len(answered))
	for _, response := range answered {
		asked[response.ProbeID] = true
	}

	phase := PhaseFor(messageCount)
	candidates := make([]Probe, 0, len(Catalog))
	for _, probe := range Catalog {
		if probe.Phase <= phase && !asked[probe.ID] {
			candidates = append(candidates, probe)
		}
	}
	if len(candidates) == 0 {
		return Probe{}, false, nil
	}
	window := min(3, len(candidates))
	index := int(s.random() * float64(window))
	if index >= window {
		index = window - 1
	}
	return candidates[index], true, nil
}

// RecordProbeResponse scores the answer against the probe's matchers and
// persists the response together with the updated profile.
func (s *Service) RecordProbeResponse(ctx context.Context, visitorID, probeID, text string) (Profile, error) {
	probe, ok := lookupProbe(strings.TrimSpace(probeID))
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", agenterr.ErrProbeUnknown, probeID)
	}
	unlock := s.lock(visitorID)
	defer unlock()

	profile, err := s.Get(ctx, visitorID)
	if err != nil {
		return Profile{}, err
	}
	updated := applyProbeResponse(cloneProfile(profile), probe, text)
	if _, err := s.repo.SaveProbeResponse(ctx, store.ProbeResponse{
		VisitorID: profile.VisitorID,
		ProbeID:   probe.ID,
		Response:  text,
		Category:  string(probe.Dimension),
		Phase:     probe.Phase,
	}, updated); err != nil {
		if errors.Is(err, store.ErrProbeResponseExists) {
			return Profile{}, fmt.Errorf("%w: %s", agenterr.ErrProbeAnswered, probe.ID)
		}
		return Profile{}, err
	}
	return updated, nil
}

// RecordBehavior folds one observed turn into the running metrics and
// appends it to the behaviour log.
func (s *Service) RecordBehavior(ctx context.Context, visitorID string, behavior Behavior) (Profile, error) {
	unlock := s.lock(visitorID)
	defer unlock()

	profile, err := s.Get(ctx, visitorID)
	if err != nil {
		return Profile{}, err
	}
	updated := applyBehavior(cloneProfile(profile), behavior)
	if err := s.repo.SaveBehaviorEvent(ctx, store.BehaviorEvent{
		VisitorID:       profile.VisitorID,
		ResponseTimeMs:  behavior.ResponseTimeMs,
		MessageLength:   behavior.MessageLength,
		HesitationCount: behavior.HesitationCount,
		HourOfDay:       behavior.HourOfDay,
	}, updated); err != nil {
		return Profile{}, err
	}
	return updated, nil
}

type StrategyView struct {
	Strategy              string   `json:"strategy"`
	Confidence            float64  `json:"confidence"`
	Focus                 []string `json:"focus"`
	EstimatedMonthlyValue float64  `json:"estimatedMonthlyValue"`
	ConversionProbability float64  `json:"conversionProbability"`
}

func (s *Service) Strategy(ctx context.Context, visitorID string) (StrategyView, error) {
	profile, err := s.Get(ctx, visitorID)
	if err != nil {
		return StrategyView{}, err
	}
	return StrategyView{
		Strategy:              profile.StrategyTag,
		Confidence:            profile.Confidence,
		Focus:                 focusFor(profile),
		EstimatedMonthlyValue: profile.EstimatedMonthlyValue,
		ConversionProbability: profile.ConversionProbability,
	}, nil
}

func (s *Service) lock(visitorID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.TrimSpace(visitorID)))
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

func newProfile(visitorID string) Profile {
	profile := Profile{
		VisitorID:        visitorID,
		Need:             Unknown,
		Style:            Unknown,
		Attachment:       Unknown,
		Motivation:       Unknown,
		PlanTier:         Unknown,
		EngagementScore:  50,
		ReceptivityScore: 50,
		Insights: map[string]float64{
			InsightConnection: 50,
			InsightSupport:    50,
			InsightPrivacy:    50,
			InsightOpenness:   50,
			InsightComfort:    50,
			InsightBudget:     50,
		},
		KeyStatements: []string{},
		TriggerWords:  []string{},
	}
	derive(&profile)
	return profile
}

func applyProbeResponse(profile Profile, probe Probe, text string) Profile {
	for _, matcher := range probe.Matchers {
		if !matcher.Pattern.MatchString(text) {
			continue
		}
		for dimension, tag := range matcher.Implies {
			key := evidenceKey(dimension, tag)
			profile.Insights[key] = clamp(profile.Insights[key]+matcher.Weight, 0, 100)
		}
		for name, delta := range matcher.Insights {
			current, ok := profile.Insights[name]
			if !ok {
				current = 50
			}
			profile.Insights[name] = clamp(current+delta, 0, 100)
		}
		if matcher.TriggerWord != "" && !containsString(profile.TriggerWords, matcher.TriggerWord) {
			profile.TriggerWords = append(profile.TriggerWords, matcher.TriggerWord)
		}
	}
	for _, dimension := range []Dimension{DimensionNeed, DimensionStyle, DimensionAttachment, DimensionMotivation, DimensionPlanTier} {
		setDimension(&profile, dimension, dominantTag(profile, dimension))
	}

	statement := fmt.Sprintf("%s: %s", probe.ID, clipRunes(strings.TrimSpace(text), maxKeyStatementRunes))
	profile.KeyStatements = append(profile.KeyStatements, statement)
	profile.DataPoints++
	profile.Confidence = confidenceFor(profile.DataPoints)
	derive(&profile)
	return profile
}

func applyBehavior(profile Profile, behavior Behavior) Profile {
	if behavior.ResponseTimeMs > 0 {
		points := float64(profile.DataPoints)
		profile.AvgResponseTimeMs = (profile.AvgResponseTimeMs*points + float64(behavior.ResponseTimeMs)) / (points + 1)
		if behavior.ResponseTimeMs < engagementFastReply {
			profile.EngagementScore = clamp(profile.EngagementScore+2, 0, 100)
		}
	}
	if behavior.HesitationCount > 2 {
		profile.HesitationLevel = clamp(profile.HesitationLevel+0.1, 0, 1)
		profile.ReceptivityScore = clamp(profile.ReceptivityScore+5, 0, 100)
	}
	profile.Confidence = confidenceFor(profile.DataPoints)
	derive(&profile)
	return profile
}

func confidenceFor(dataPoints int) float64 {
	if dataPoints <= 0 {
		return 0
	}
	return min(1, float64(dataPoints)/fullConfidenceDataPoints)
}

func evidenceKey(dimension Dimension, tag string) string {
	return string(dimension) + "." + strings.ToLower(tag)
}

// dominantTag returns the tag with the most evidence for dimension, keeping
// the current tag on ties.
func dominantTag(profile Profile, dimension Dimension) string {
	current := dimensionValue(profile, dimension)
	best := current
	bestScore := 0.0
	if current != Unknown {
		bestScore = profile.Insights[evidenceKey(dimension, current)]
	}
	for _, tag := range tagsFor(dimension) {
		score := profile.Insights[evidenceKey(dimension, tag)]
		if score > bestScore {
			best, bestScore = tag, score
		}
	}
	return best
}

func tagsFor(dimension Dimension) []string {
	switch dimension {
	case DimensionNeed:
		return []string{NeedConnection, NeedReassurance, NeedSupport, NeedAttention}
	case DimensionStyle:
		return []string{StyleDirective, StyleSupportive, StyleGenerous, StyleCurious}
	case DimensionAttachment:
		return []string{AttachmentAnxious, AttachmentAvoidant, AttachmentSecure}
	case DimensionMotivation:
		return []string{MotivationPractical, MotivationEmotional, MotivationSocial, MotivationIntimacy}
	case DimensionPlanTier:
		return []string{TierPremium, TierStandard, TierBasic}
	default:
		return nil
	}
}

func dimensionValue(profile Profile, dimension Dimension) string {
	switch dimension {
	case DimensionNeed:
		return profile.Need
	case DimensionStyle:
		return profile.Style
	case DimensionAttachment:
		return profile.Attachment
	case DimensionMotivation:
		return profile.Motivation
	case DimensionPlanTier:
		return profile.PlanTier
	default:
		return Unknown
	}
}

func setDimension(profile *Profile, dimension Dimension, tag string) {
	switch dimension {
	case DimensionNeed:
		profile.Need = tag
	case DimensionStyle:
		profile.Style = tag
	case DimensionAttachment:
		profile.Attachment = tag
	case DimensionMotivation:
		profile.Motivation = tag
	case DimensionPlanTier:
		profile.PlanTier = tag
	}
}

func cloneProfile(profile Profile) Profile {
	insights := make(map[string]float64, len(profile.Insights))
	for key, value := range profile.Insights {
		insights[key] = value
	}
	profile.Insights = insights
	profile.KeyStatements = append([]string{}, profile.KeyStatements...)
	profile.TriggerWords = append([]string{}, profile.TriggerWords...)
	return profile
}

func clamp(value, low, high float64) float64 {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func clipRunes(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max]) + "..."
}
