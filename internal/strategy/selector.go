package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/dwizi/rapport/internal/classifier"
	"github.com/dwizi/rapport/internal/profile"
)

const shortMessageWords = 5

// Strategy is the per-turn response plan.
type Strategy struct {
	UserType            classifier.UserType `json:"userType"`
	Tone                string              `json:"tone"`
	Length              Length              `json:"length"`
	RequiredVocabulary  []string            `json:"requiredVocabulary"`
	ForbiddenVocabulary []string            `json:"forbiddenVocabulary"`
	FallbackText        string              `json:"fallbackText"`
	ShouldInjectProbe   bool                `json:"shouldInjectProbe"`
	Probe               *profile.Probe      `json:"probe,omitempty"`
}

// ProbeSource supplies the next unasked probe; *profile.Service satisfies it.
type ProbeSource interface {
	NextProbe(ctx context.Context, visitorID string, messageCount int) (profile.Probe, bool, error)
}

type Selector struct {
	mu     sync.RWMutex
	table  Table
	hash   string
	probes ProbeSource
	random func() float64
	logger *slog.Logger
}

// NewSelector builds a selector over table. random must return values in
// [0, 1); nil uses math/rand.
func NewSelector(table Table, probes ProbeSource, random func() float64, logger *slog.Logger) *Selector {
	if len(table.Policies) == 0 {
		table = DefaultTable()
	}
	if random == nil {
		random = rand.Float64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		table:  table.clone(),
		probes: probes,
		random: random,
		logger: logger.With("component", "strategy"),
	}
}

func (s *Selector) SetTable(table Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table = table.clone()
}

func (s *Selector) Table() Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table.clone()
}

func (s *Selector) ValueWeights() map[string]float64 {
	return s.Table().ValueWeights
}

// StrategyFor maps a classification to its policy. Probe eligibility here
// covers the window and the random gate only; Plan also checks that a probe
// is actually available.
func (s *Selector) StrategyFor(userType classifier.UserType, confidence float64, shortMessage bool, messageOrdinal int) Strategy {
	table := s.Table()
	if confidence < table.MinConfidence {
		userType = classifier.TypeUnknown
	}
	policy := table.policy(userType)

	length := policy.Length
	if shortMessage && policy.ShortLength != "" {
		length = policy.ShortLength
	}
	strategy := Strategy{
		UserType:            userType,
		Tone:                policy.Tone,
		Length:              length,
		RequiredVocabulary:  append([]string{}, policy.Required...),
		ForbiddenVocabulary: append([]string{}, policy.Forbidden...),
		FallbackText:        s.pick(policy.Fallbacks),
	}
	if policy.ProbeProbability > 0 &&
		messageOrdinal >= table.MinProbeMessages &&
		policy.ProbeWindow.Contains(messageOrdinal) {
		strategy.ShouldInjectProbe = s.random() < policy.ProbeProbability
	}
	return strategy
}

type PlanInput struct {
	VisitorID      string
	UserType       classifier.UserType
	Confidence     float64
	Message        string
	MessageOrdinal int
}

// Plan resolves the strategy and, when a probe is due, fetches it. A probe
// lookup failure only cancels the probe.
func (s *Selector) Plan(ctx context.Context, in PlanInput) Strategy {
	strategy := s.StrategyFor(in.UserType, in.Confidence, IsShortMessage(in.Message), in.MessageOrdinal)
	if !strategy.ShouldInjectProbe {
		return strategy
	}
	strategy.ShouldInjectProbe = false
	if s.probes == nil {
		return strategy
	}
	probe, ok, err := s.probes.NextProbe(ctx, in.VisitorID, in.MessageOrdinal)
	if err != nil {
		s.logger.Warn("probe lookup failed", "visitor_id", in.VisitorID, "error", err)
		return strategy
	}
	if !ok {
		return strategy
	}
	for _, avoided := range s.Table().policy(strategy.UserType).AvoidProbes {
		if avoided == probe.ID {
			return strategy
		}
	}
	strategy.ShouldInjectProbe = true
	strategy.Probe = &probe
	return strategy
}

var probeConnectors = []string{
	"\n\nBtw, ",
	"\n\nOh and ",
	"\n\nCurious... ",
	"\n\nSo tell me... ",
	"\n\nOne more thing... ",
}

// InjectProbe appends question to reply behind a randomly chosen connector.
func (s *Selector) InjectProbe(reply, question string) string {
	question = strings.TrimSpace(question)
	if question == "" {
		return reply
	}
	return strings.TrimRight(reply, " \n") + s.pick(probeConnectors) + question
}

func (s *Selector) pick(options []string) string {
	if len(options) == 0 {
		return ""
	}
	index := int(s.random() * float64(len(options)))
	if index >= len(options) {
		index = len(options) - 1
	}
	return options[index]
}

// Instructions renders the strategy as system-prompt guidance.
func (st Strategy) Instructions() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tone: %s.\n", st.Tone)
	fmt.Fprintf(&b, "Reply length: %s.\n", lengthHint(st.Length))
	if len(st.RequiredVocabulary) > 0 {
		fmt.Fprintf(&b, "Work in naturally: %s.\n", strings.Join(st.RequiredVocabulary, ", "))
	}
	if len(st.ForbiddenVocabulary) > 0 {
		fmt.Fprintf(&b, "Never use: %s.\n", strings.Join(st.ForbiddenVocabulary, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func lengthHint(length Length) string {
	switch length {
	case LengthShort:
		return "one or two short sentences"
	case LengthLong:
		return "a full paragraph"
	default:
		return "two to four sentences"
	}
}

func IsShortMessage(message string) bool {
	return len(strings.Fields(message)) <= shortMessageWords
}
