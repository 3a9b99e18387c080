package strategy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dwizi/rapport/internal/classifier"
	"github.com/dwizi/rapport/internal/profile"
)

type fakeProbes struct {
	probe profile.Probe
	ok    bool
	err   error
	calls int
}

func (f *fakeProbes) NextProbe(ctx context.Context, visitorID string, messageCount int) (profile.Probe, bool, error) {
	f.calls++
	return f.probe, f.ok, f.err
}

func fixed(value float64) func() float64 {
	return func() float64 { return value }
}

func newTestSelector(probes ProbeSource, random func() float64) *Selector {
	return NewSelector(DefaultTable(), probes, random, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestProbeWindows(t *testing.T) {
	selector := newTestSelector(nil, fixed(0.1))
	cases := []struct {
		userType classifier.UserType
		ordinal  int
		want     bool
	}{
		{classifier.TypeDiscreet, 2, false},
		{classifier.TypeDiscreet, 3, true},
		{classifier.TypeDiscreet, 15, true},
		{classifier.TypeDiscreet, 16, false},
		{classifier.TypeCompanionship, 4, false},
		{classifier.TypeCompanionship, 20, true},
		{classifier.TypeCompanionship, 21, false},
		{classifier.TypeExplicit, 6, false},
		{classifier.TypeBrowser, 6, false},
		{classifier.TypeUnknown, 2, false},
		{classifier.TypeUnknown, 3, true},
		{classifier.TypeUnknown, 60, true},
	}
	for _, tc := range cases {
		got := selector.StrategyFor(tc.userType, 0.9, false, tc.ordinal).ShouldInjectProbe
		if got != tc.want {
			t.Fatalf("%s at %d: expected %v, got %v", tc.userType, tc.ordinal, tc.want, got)
		}
	}
}

func TestProbeProbabilityGate(t *testing.T) {
	if newTestSelector(nil, fixed(0.39)).StrategyFor(classifier.TypeDiscreet, 0.9, false, 5).ShouldInjectProbe != true {
		t.Fatal("expected probe below the 0.4 gate")
	}
	if newTestSelector(nil, fixed(0.4)).StrategyFor(classifier.TypeDiscreet, 0.9, false, 5).ShouldInjectProbe {
		t.Fatal("expected no probe at or above the 0.4 gate")
	}
}

func TestStrategyForPolicyFields(t *testing.T) {
	selector := newTestSelector(nil, fixed(0))
	strategy := selector.StrategyFor(classifier.TypeCompanionship, 0.8, true, 1)
	if strategy.Length != LengthMedium || strategy.Tone == "" || strategy.FallbackText == "" {
		t.Fatalf("unexpected companionship strategy %+v", strategy)
	}
	found := false
	for _, word := range strategy.ForbiddenVocabulary {
		if word == "upgrade" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected companionship policy to forbid sales vocabulary, got %v", strategy.ForbiddenVocabulary)
	}
	if short := selector.StrategyFor(classifier.TypeDiscreet, 0.8, true, 1); short.Length != LengthShort {
		t.Fatalf("expected short length for short message, got %s", short.Length)
	}
	if low := selector.StrategyFor(classifier.TypeExplicit, 0.2, false, 1); low.UserType != classifier.TypeUnknown {
		t.Fatalf("expected low confidence to use UNKNOWN policy, got %s", low.UserType)
	}
}

func TestPlanRequiresAvailableProbe(t *testing.T) {
	probe := profile.Catalog[0]
	probes := &fakeProbes{probe: probe, ok: true}
	selector := newTestSelector(probes, fixed(0.1))
	input := PlanInput{VisitorID: "v1", UserType: classifier.TypeUnknown, Confidence: 0.9, Message: "hey", MessageOrdinal: 4}

	strategy := selector.Plan(context.Background(), input)
	if !strategy.ShouldInjectProbe || strategy.Probe == nil || strategy.Probe.ID != probe.ID {
		t.Fatalf("expected probe %s, got %+v", probe.ID, strategy)
	}

	probes.ok = false
	if strategy := selector.Plan(context.Background(), input); strategy.ShouldInjectProbe {
		t.Fatal("expected no probe when none is available")
	}
	probes.ok, probes.err = true, errors.New("db down")
	if strategy := selector.Plan(context.Background(), input); strategy.ShouldInjectProbe {
		t.Fatal("expected lookup failure to cancel the probe")
	}

	probes.err = nil
	probes.probe = profile.Probe{ID: "message_frequency", Question: "q"}
	input.UserType = classifier.TypeDiscreet
	if strategy := selector.Plan(context.Background(), input); strategy.ShouldInjectProbe {
		t.Fatal("expected avoided probe to be skipped")
	}

	calls := probes.calls
	input.UserType = classifier.TypeExplicit
	if strategy := selector.Plan(context.Background(), input); strategy.ShouldInjectProbe || probes.calls != calls {
		t.Fatal("expected explicit category never to look up probes")
	}
}

func TestInjectProbe(t *testing.T) {
	selector := newTestSelector(nil, fixed(0))
	got := selector.InjectProbe("Sounds nice. ", "When do you usually have time to chat?")
	if got != "Sounds nice.\n\nBtw, When do you usually have time to chat?" {
		t.Fatalf("unexpected injection %q", got)
	}
	if got := selector.InjectProbe("reply", "  "); got != "reply" {
		t.Fatalf("expected reply unchanged, got %q", got)
	}
}

func TestMatchEnergy(t *testing.T) {
	long := "That sounds like a really long day at work. What did you end up doing after that, and how are you feeling now?"
	if got := MatchEnergy("long day", long); got != "That sounds like a really long day at work?" {
		t.Fatalf("unexpected brief reply %q", got)
	}
	if got := MatchEnergy("tell me about your evening plans", "Are you free? I hope your day went well."); got != "Are you free? I hope your day went well." {
		t.Fatalf("expected reply unchanged, got %q", got)
	}
	if got := MatchEnergy("tbh not sure what to say", "Did you have fun? Tell me your plans."); got != "Did u have fun? Tell me ur plans." {
		t.Fatalf("unexpected casual reply %q", got)
	}
	if got := MatchEnergy("ubuntu question here ok", "Are you there?"); got != "Are you there?" {
		t.Fatalf("markers must match whole words, got %q", got)
	}
}

func TestApplyPolicyFile(t *testing.T) {
	selector := newTestSelector(nil, fixed(0))
	path := filepath.Join(t.TempDir(), "policy.yaml")
	data := `
min_confidence: 0.5
value_weights:
  discreet: 0.5
  companionship: 0.3
policies:
  BROWSER:
    tone: patient and helpful
    probe_window: {min: 4, max: 8}
    probe_probability: 0.25
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := selector.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	table := selector.Table()
	browser := table.Policies[classifier.TypeBrowser]
	if browser.Tone != "patient and helpful" || browser.ProbeProbability != 0.25 || browser.ProbeWindow.Max != 8 {
		t.Fatalf("override not applied: %+v", browser)
	}
	if len(browser.Fallbacks) == 0 {
		t.Fatal("expected unspecified fields to keep defaults")
	}
	if table.MinConfidence != 0.5 || selector.ValueWeights()["DISCREET"] != 0.5 {
		t.Fatalf("unexpected table %+v", table)
	}
	if len(selector.Hash()) != 64 {
		t.Fatalf("expected sha256 hash, got %q", selector.Hash())
	}

	for _, bad := range []string{
		"policies:\n  VIP:\n    tone: x\n",
		"value_weights:\n  DISCREET: 0.9\n  BROWSER: 0.5\n",
		"policies:\n  UNKNOWN:\n    length: huge\n",
		"policies: [",
	} {
		if err := selector.Apply([]byte(bad)); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
	if selector.Table().Policies[classifier.TypeBrowser].Tone != "patient and helpful" {
		t.Fatal("failed apply must keep the live table")
	}
}

func TestInstructions(t *testing.T) {
	strategy := newTestSelector(nil, fixed(0)).StrategyFor(classifier.TypeCompanionship, 0.9, false, 1)
	text := strategy.Instructions()
	if !strings.Contains(text, "Tone: warm") || !strings.Contains(text, "Never use: buy") {
		t.Fatalf("unexpected instructions %q", text)
	}
}
