package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func snapshotOf(overall string, components ...ComponentStatus) Snapshot {
	return Snapshot{GeneratedAtUnix: time.Now().Unix(), Overall: overall, Components: components}
}

func TestEvaluateReportsOnlyStateChanges(t *testing.T) {
	var got []Transition
	monitor := NewMonitor(NewRegistry(), MonitorConfig{
		OnTransition: func(ctx context.Context, transition Transition, snapshot Snapshot) {
			got = append(got, transition)
		},
	})

	previous := map[string]string{}
	ctx := context.Background()
	monitor.evaluate(ctx, snapshotOf(StateHealthy, ComponentStatus{Name: ComponentDecay, State: StateHealthy}), previous)
	monitor.evaluate(ctx, snapshotOf(StateHealthy, ComponentStatus{Name: ComponentDecay, State: StateHealthy, Message: "swept"}), previous)
	monitor.evaluate(ctx, snapshotOf(StateDegraded, ComponentStatus{Name: ComponentDecay, State: StateStale}), previous)

	if len(got) != 1 {
		t.Fatalf("expected one transition after the first observation, got %+v", got)
	}
	if got[0].Component != ComponentDecay || got[0].FromState != StateHealthy || got[0].ToState != StateStale {
		t.Fatalf("unexpected transition %+v", got[0])
	}
}

func TestDefaultTransitionLogging(t *testing.T) {
	var buf bytes.Buffer
	monitor := NewMonitor(NewRegistry(), MonitorConfig{Logger: slog.New(slog.NewJSONHandler(&buf, nil))})

	previous := map[string]string{}
	ctx := context.Background()
	monitor.evaluate(ctx, snapshotOf(StateHealthy, ComponentStatus{Name: ComponentDecay, State: StateHealthy}), previous)
	monitor.evaluate(ctx, snapshotOf(StateDegraded, ComponentStatus{Name: ComponentDecay, State: StateDegraded, Error: "database is locked"}), previous)
	monitor.evaluate(ctx, snapshotOf(StateHealthy, ComponentStatus{Name: ComponentDecay, State: StateHealthy}), previous)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two log records, got %q", buf.String())
	}
	records := make([]map[string]any, len(lines))
	for index, line := range lines {
		if err := json.Unmarshal([]byte(line), &records[index]); err != nil {
			t.Fatalf("decode log record %q: %v", line, err)
		}
	}

	degraded := records[0]
	if degraded["level"] != "WARN" || degraded["msg"] != "component degraded" {
		t.Fatalf("expected degraded warning, got %v", degraded)
	}
	if degraded["component"] != ComponentMonitor || degraded["target"] != ComponentDecay {
		t.Fatalf("expected monitor logger scoped to the decayed target, got %v", degraded)
	}
	if degraded["from"] != StateHealthy || degraded["to"] != StateDegraded || degraded["overall"] != StateDegraded || degraded["error"] != "database is locked" {
		t.Fatalf("unexpected degraded attributes %v", degraded)
	}

	recovered := records[1]
	if recovered["level"] != "INFO" || recovered["msg"] != "component state changed" {
		t.Fatalf("expected recovery info, got %v", recovered)
	}
	if _, ok := recovered["error"]; ok {
		t.Fatalf("recovery must not carry an error attribute, got %v", recovered)
	}
}

func TestMonitorWithoutRegistryWaitsForCancel(t *testing.T) {
	monitor := NewMonitor(nil, MonitorConfig{Interval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Start(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("monitor returned before cancel: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after cancel")
	}
}
