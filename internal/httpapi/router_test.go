package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/dwizi/rapport/internal/agenterr"
	"github.com/dwizi/rapport/internal/classifier"
	"github.com/dwizi/rapport/internal/config"
	"github.com/dwizi/rapport/internal/heartbeat"
	"github.com/dwizi/rapport/internal/memory"
	"github.com/dwizi/rapport/internal/orchestrator"
	"github.com/dwizi/rapport/internal/profile"
	"github.com/dwizi/rapport/internal/scheduler"
	"github.com/dwizi/rapport/internal/store"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeTurns struct {
	requests []orchestrator.TurnRequest
}

func (f *fakeTurns) HandleTurn(ctx context.Context, req orchestrator.TurnRequest) (orchestrator.TurnResponse, error) {
	f.requests = append(f.requests, req)
	if strings.TrimSpace(req.VisitorID) == "" {
		return orchestrator.TurnResponse{}, agenterr.ErrVisitorRequired
	}
	return orchestrator.TurnResponse{Reply: "echo: " + req.Message, DelayMs: 2400}, nil
}

type fakeClassifier struct{ last classifier.Input }

func (f *fakeClassifier) Classify(ctx context.Context, in classifier.Input) classifier.Result {
	f.last = in
	return classifier.Result{UserType: classifier.TypeBrowser, Confidence: 0.6, Source: classifier.SourceQuick}
}

type fakeDecay struct {
	report memory.DecayReport
	err    error
	runs   int
}

func (f *fakeDecay) RunOnce(context.Context) (memory.DecayReport, error) {
	f.runs++
	return f.report, f.err
}

func (f *fakeDecay) LastRun() scheduler.Run {
	return scheduler.Run{Report: f.report}
}

type fixedPolicy string

func (p fixedPolicy) Hash() string { return string(p) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRouterTestStore(t *testing.T) *store.Store {
	t.Helper()
	sqlStore, err := store.New(filepath.Join(t.TempDir(), "router_test.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = sqlStore.Close() })
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate store: %v", err)
	}
	return sqlStore
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestTurnEndpoint(t *testing.T) {
	turns := &fakeTurns{}
	handler := NewRouter(Dependencies{Turns: turns, Logger: discardLogger()})

	res := postJSON(t, handler, "/api/v1/turn", map[string]any{
		"visitorId":      "v1",
		"message":        "hey there",
		"responseTimeMs": 1200,
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var response orchestrator.TurnResponse
	if err := json.Unmarshal(res.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if response.Reply != "echo: hey there" || response.DelayMs != 2400 {
		t.Fatalf("unexpected response %+v", response)
	}
	if turns.requests[0].ResponseTimeMs != 1200 {
		t.Fatalf("expected response time to be decoded, got %+v", turns.requests[0])
	}

	res = postJSON(t, handler, "/api/v1/turn", map[string]any{"message": "hey"})
	if res.Code != http.StatusBadRequest || !strings.Contains(res.Body.String(), "visitor id required") {
		t.Fatalf("expected 400 for missing visitor, got %d: %s", res.Code, res.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/turn", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/turn", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestTurnSocket(t *testing.T) {
	turns := &fakeTurns{}
	server := httptest.NewServer(NewRouter(Dependencies{Turns: turns, Logger: discardLogger()}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/turn/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(orchestrator.TurnRequest{VisitorID: "v1", Message: "first"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var response orchestrator.TurnResponse
	if err := conn.ReadJSON(&response); err != nil {
		t.Fatalf("read: %v", err)
	}
	if response.Reply != "echo: first" {
		t.Fatalf("unexpected reply %q", response.Reply)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write raw: %v", err)
	}
	var failure map[string]string
	if err := conn.ReadJSON(&failure); err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if failure["error"] != "invalid payload" {
		t.Fatalf("unexpected error frame %+v", failure)
	}

	if err := conn.WriteJSON(orchestrator.TurnRequest{Message: "anonymous"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	failure = nil
	if err := conn.ReadJSON(&failure); err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if failure["error"] != agenterr.ErrVisitorRequired.Error() {
		t.Fatalf("unexpected error frame %+v", failure)
	}

	if err := conn.WriteJSON(orchestrator.TurnRequest{VisitorID: "v1", Message: "second"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.ReadJSON(&response); err != nil {
		t.Fatalf("read: %v", err)
	}
	if response.Reply != "echo: second" || len(turns.requests) != 3 {
		t.Fatalf("connection should survive rejected frames, got %q after %d requests", response.Reply, len(turns.requests))
	}
}

func TestProfileEndpointCreatesOnFirstContact(t *testing.T) {
	sqlStore := newRouterTestStore(t)
	profiles := profile.New(sqlStore, func() float64 { return 0 }, discardLogger())
	handler := NewRouter(Dependencies{Store: sqlStore, Profiles: profiles, Logger: discardLogger()})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/visitors/visitor-42/profile", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var payload struct {
		Profile  profile.Profile      `json:"profile"`
		Strategy profile.StrategyView `json:"strategy"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Profile.VisitorID != "visitor-42" || payload.Profile.Need != "UNKNOWN" {
		t.Fatalf("unexpected profile %+v", payload.Profile)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/visitors/%20/profile", nil)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank visitor, got %d", res.Code)
	}
}

func TestClassifyEndpoint(t *testing.T) {
	fake := &fakeClassifier{}
	handler := NewRouter(Dependencies{Classifier: fake, Logger: discardLogger()})

	res := postJSON(t, handler, "/api/v1/classify", map[string]any{"message": "just looking around", "hourOfDay": 14})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var result classifier.Result
	if err := json.Unmarshal(res.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.UserType != classifier.TypeBrowser || fake.last.MessageOrdinal != 1 || fake.last.HourOfDay != 14 {
		t.Fatalf("unexpected classification %+v input %+v", result, fake.last)
	}

	res = postJSON(t, handler, "/api/v1/classify", map[string]any{"message": "  "})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank message, got %d", res.Code)
	}
}

func TestDecayEndpoint(t *testing.T) {
	decay := &fakeDecay{report: memory.DecayReport{Scanned: 3, Tombstoned: 1, Kept: 2}}
	handler := NewRouter(Dependencies{Decay: decay, Logger: discardLogger()})

	res := postJSON(t, handler, "/api/v1/decay", map[string]any{})
	if res.Code != http.StatusOK || decay.runs != 1 {
		t.Fatalf("expected manual run, got %d runs=%d", res.Code, decay.runs)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/decay", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"tombstoned":1`) {
		t.Fatalf("unexpected last run response %d: %s", rec.Code, rec.Body.String())
	}

	decay.err = scheduler.ErrAlreadyRunning
	res = postJSON(t, handler, "/api/v1/decay", map[string]any{})
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409 while running, got %d", res.Code)
	}

	decay.err = errors.New("disk full")
	res = postJSON(t, handler, "/api/v1/decay", map[string]any{})
	if res.Code != http.StatusInternalServerError || strings.Contains(res.Body.String(), "disk full") {
		t.Fatalf("expected opaque 500, got %d: %s", res.Code, res.Body.String())
	}
}

func TestReadyChecksStoreAndComponents(t *testing.T) {
	registry := heartbeat.NewRegistry()
	registry.Beat(heartbeat.ComponentStore, "ok")
	registry.Degrade(heartbeat.ComponentSummaryEngine, "worker crashed", errors.New("boom"))

	handler := NewRouter(Dependencies{
		Store:              fakePinger{},
		Heartbeat:          registry,
		RequiredComponents: []string{heartbeat.ComponentStore, heartbeat.ComponentSummaryEngine},
		Logger:             discardLogger(),
	})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusServiceUnavailable || !strings.Contains(res.Body.String(), heartbeat.ComponentSummaryEngine) {
		t.Fatalf("expected degraded component to fail readiness, got %d: %s", res.Code, res.Body.String())
	}

	registry.Beat(heartbeat.ComponentSummaryEngine, "recovered")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d: %s", res.Code, res.Body.String())
	}

	broken := NewRouter(Dependencies{Store: fakePinger{err: errors.New("database is closed")}})
	res = httptest.NewRecorder()
	broken.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected store failure to fail readiness, got %d", res.Code)
	}
}

func TestInfoAndHeartbeat(t *testing.T) {
	handler := NewRouter(Dependencies{
		Config: config.Config{Environment: "test", LLMProvider: "none", EmbedProvider: "hash", VectorBackend: "sqlite"},
		Policy: fixedPolicy("abc123"),
	})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/v1/info", nil))
	var info map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info["name"] != "rapport" || info["policy_hash"] != "abc123" || info["embed_provider"] != "hash" {
		t.Fatalf("unexpected info %+v", info)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/v1/heartbeat", nil))
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without registry, got %d", res.Code)
	}
}
