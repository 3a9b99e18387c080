package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/dwizi/rapport/internal/agenterr"
	"github.com/dwizi/rapport/internal/classifier"
	"github.com/dwizi/rapport/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, random func() float64) (*Service, *store.Store) {
	t.Helper()
	sqlStore, err := store.New(filepath.Join(t.TempDir(), "profile_test.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = sqlStore.Close() })
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(sqlStore, random, testLogger()), sqlStore
}

func fixed(value float64) func() float64 {
	return func() float64 { return value }
}

func TestGetLazilyInitializes(t *testing.T) {
	service, _ := newTestService(t, nil)
	profile, err := service.Get(context.Background(), "visitor-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if profile.Need != Unknown || profile.PlanTier != Unknown {
		t.Fatalf("expected unknown dimensions, got %+v", profile)
	}
	if profile.EngagementScore != 50 || profile.ReceptivityScore != 50 || profile.Insights[InsightConnection] != 50 {
		t.Fatalf("unexpected defaults: %+v", profile)
	}
	if profile.StrategyTag != StrategyGathering || profile.ConversionProbability != 0.5 {
		t.Fatalf("unexpected default strategy: %s %f", profile.StrategyTag, profile.ConversionProbability)
	}
	if _, err := service.Get(context.Background(), "  "); !errors.Is(err, agenterr.ErrVisitorRequired) {
		t.Fatalf("expected ErrVisitorRequired, got %v", err)
	}
}

func TestNextProbeRespectsPhaseAndWindow(t *testing.T) {
	service, _ := newTestService(t, fixed(0.99))
	ctx := context.Background()

	probe, ok, err := service.NextProbe(ctx, "visitor-1", 4)
	if err != nil || !ok {
		t.Fatalf("expected a probe, got ok=%v err=%v", ok, err)
	}
	if probe.Phase != 1 || probe.ID != "conversation_style" {
		t.Fatalf("expected third phase-one probe, got %+v", probe)
	}

	for _, id := range []string{"relationship_context", "availability", "conversation_style"} {
		if _, err := service.RecordProbeResponse(ctx, "visitor-1", id, "not sure"); err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}
	if _, ok, _ := service.NextProbe(ctx, "visitor-1", 8); ok {
		t.Fatal("expected no phase-one probes left")
	}
	probe, ok, err = service.NextProbe(ctx, "visitor-1", 12)
	if err != nil || !ok || probe.Phase != 2 {
		t.Fatalf("expected phase-two probe, got %+v ok=%v err=%v", probe, ok, err)
	}
}

func TestNextProbeExhaustsCatalog(t *testing.T) {
	service, _ := newTestService(t, fixed(0))
	ctx := context.Background()
	for range Catalog {
		probe, ok, err := service.NextProbe(ctx, "visitor-1", 40)
		if err != nil || !ok {
			t.Fatalf("expected probe, got ok=%v err=%v", ok, err)
		}
		if _, err := service.RecordProbeResponse(ctx, "visitor-1", probe.ID, "hmm"); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if _, ok, err := service.NextProbe(ctx, "visitor-1", 40); ok || err != nil {
		t.Fatalf("expected exhausted catalog, got ok=%v err=%v", ok, err)
	}
}

func TestKeyStatementsKeepEveryAnswer(t *testing.T) {
	probe := Probe{ID: "free_text", Dimension: DimensionNeed}
	profile := newProfile("visitor-1")
	for index := 0; index < 75; index++ {
		profile = applyProbeResponse(profile, probe, fmt.Sprintf("answer %d", index))
	}
	if len(profile.KeyStatements) != 75 {
		t.Fatalf("expected every statement kept, got %d", len(profile.KeyStatements))
	}
	if profile.KeyStatements[0] != "free_text: answer 0" || profile.KeyStatements[74] != "free_text: answer 74" {
		t.Fatalf("expected statements in answer order, got %q and %q", profile.KeyStatements[0], profile.KeyStatements[74])
	}
}

func TestRecordProbeResponseUpdatesDimensions(t *testing.T) {
	service, _ := newTestService(t, nil)
	ctx := context.Background()

	profile, err := service.RecordProbeResponse(ctx, "visitor-1", "relationship_context", "Honestly I'm on my own most nights")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if profile.Need != NeedConnection {
		t.Fatalf("expected CONNECTION, got %s", profile.Need)
	}
	if profile.Insights[InsightConnection] != 70 {
		t.Fatalf("expected connection insight 70, got %f", profile.Insights[InsightConnection])
	}
	if profile.DataPoints != 1 || profile.Confidence != 0.05 {
		t.Fatalf("unexpected data points/confidence: %d %f", profile.DataPoints, profile.Confidence)
	}
	if len(profile.KeyStatements) != 1 || len(profile.TriggerWords) != 1 {
		t.Fatalf("expected statement and trigger word, got %v %v", profile.KeyStatements, profile.TriggerWords)
	}

	profile, err = service.RecordProbeResponse(ctx, "visitor-1", "ideal_evening", "a fancy dinner somewhere")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if profile.PlanTier != TierPremium || profile.EstimatedMonthlyValue != 500 {
		t.Fatalf("expected premium tier with stronger evidence, got %s %f", profile.PlanTier, profile.EstimatedMonthlyValue)
	}

	stored, err := service.Get(ctx, "visitor-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.DataPoints != 2 || stored.Need != NeedConnection || stored.PlanTier != TierPremium {
		t.Fatalf("expected persisted profile, got %+v", stored)
	}
}

func TestRecordProbeResponseErrors(t *testing.T) {
	service, _ := newTestService(t, nil)
	ctx := context.Background()
	if _, err := service.RecordProbeResponse(ctx, "visitor-1", "missing", "x"); !errors.Is(err, agenterr.ErrProbeUnknown) {
		t.Fatalf("expected ErrProbeUnknown, got %v", err)
	}
	if _, err := service.RecordProbeResponse(ctx, "visitor-1", "pace", "slow please"); err != nil {
		t.Fatalf("first answer: %v", err)
	}
	if _, err := service.RecordProbeResponse(ctx, "visitor-1", "pace", "fast"); !errors.Is(err, agenterr.ErrProbeAnswered) {
		t.Fatalf("expected ErrProbeAnswered, got %v", err)
	}
	profile, err := service.Get(ctx, "visitor-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if profile.DataPoints != 1 {
		t.Fatalf("expected repeat answer to leave data points at 1, got %d", profile.DataPoints)
	}
}

func TestConfidenceTracksDataPoints(t *testing.T) {
	for _, points := range []int{0, 1, 7, 19, 20, 35} {
		want := float64(points) / 20
		if want > 1 {
			want = 1
		}
		if got := confidenceFor(points); got != want {
			t.Fatalf("points %d: expected %f, got %f", points, want, got)
		}
	}
}

func TestRecordBehaviorUpdatesMetrics(t *testing.T) {
	service, sqlStore := newTestService(t, nil)
	ctx := context.Background()

	profile, err := service.RecordBehavior(ctx, "visitor-1", Behavior{ResponseTimeMs: 4000, HesitationCount: 3, HourOfDay: 22})
	if err != nil {
		t.Fatalf("record behavior: %v", err)
	}
	if profile.AvgResponseTimeMs != 4000 {
		t.Fatalf("unexpected average: %f", profile.AvgResponseTimeMs)
	}
	if profile.EngagementScore != 52 || profile.ReceptivityScore != 55 || profile.HesitationLevel < 0.099 {
		t.Fatalf("unexpected metrics: %+v", profile)
	}

	profile, err = service.RecordBehavior(ctx, "visitor-1", Behavior{ResponseTimeMs: 45000})
	if err != nil {
		t.Fatalf("record behavior: %v", err)
	}
	if profile.EngagementScore != 52 {
		t.Fatalf("slow reply should not raise engagement, got %f", profile.EngagementScore)
	}
	count, err := sqlStore.CountBehaviorEvents(ctx, "visitor-1")
	if err != nil || count != 2 {
		t.Fatalf("expected 2 behavior events, got %d %v", count, err)
	}
}

func TestBehaviorScoresAreCapped(t *testing.T) {
	profile := newProfile("v")
	for range 80 {
		profile = applyBehavior(profile, Behavior{ResponseTimeMs: 1000, HesitationCount: 5})
	}
	if profile.EngagementScore != 100 || profile.ReceptivityScore != 100 || profile.HesitationLevel != 1 {
		t.Fatalf("expected capped metrics, got %+v", profile)
	}
}

func TestDeriveStrategyTable(t *testing.T) {
	profile := newProfile("v")
	profile.DataPoints = 5
	profile.Need = NeedConnection
	profile.Attachment = AttachmentAnxious
	derive(&profile)
	if profile.StrategyTag != "steady_check_ins" {
		t.Fatalf("unexpected strategy %s", profile.StrategyTag)
	}
	profile.Need = Unknown
	profile.Attachment = Unknown
	derive(&profile)
	if profile.StrategyTag != StrategyBalanced {
		t.Fatalf("expected default bucket, got %s", profile.StrategyTag)
	}
}

func TestCoarseType(t *testing.T) {
	profile := newProfile("v")
	profile.Confidence = 0.4
	if userType, _ := CoarseType(profile); userType != classifier.TypeUnknown {
		t.Fatalf("expected UNKNOWN, got %s", userType)
	}

	profile.Need = NeedReassurance
	profile.Insights[InsightPrivacy] = 80
	userType, confidence := CoarseType(profile)
	if userType != classifier.TypeDiscreet || confidence != 0.4 {
		t.Fatalf("expected DISCREET at 0.4, got %s %f", userType, confidence)
	}

	profile.Need = NeedConnection
	if userType, _ := CoarseType(profile); userType != classifier.TypeCompanionship {
		t.Fatalf("expected COMPANIONSHIP, got %s", userType)
	}
}
