package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/dwizi/rapport/internal/heartbeat"
	"github.com/dwizi/rapport/internal/memory"
)

type fakeDecayer struct {
	report  memory.DecayReport
	err     error
	options []memory.DecayOptions
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeDecayer) Decay(ctx context.Context, opts memory.DecayOptions) (memory.DecayReport, error) {
	f.options = append(f.options, opts)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	return f.report, f.err
}

func newTestService(t *testing.T, decayer Decayer, cfg Config) *Service {
	t.Helper()
	service, err := New(decayer, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return service
}

func TestNewRejectsInvalidSchedule(t *testing.T) {
	if _, err := New(&fakeDecayer{}, Config{CronExpr: "every night"}, nil); err == nil {
		t.Fatal("expected cron parse error")
	}
	if _, err := New(&fakeDecayer{}, Config{Timezone: "Mars/Olympus"}, nil); err == nil {
		t.Fatal("expected timezone error")
	}
}

func TestNextUsesTimezone(t *testing.T) {
	service := newTestService(t, &fakeDecayer{}, Config{CronExpr: "0 3 * * *", Timezone: "America/New_York"})
	from := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	want := time.Date(2026, 6, 2, 7, 0, 0, 0, time.UTC)
	if got := service.Next(from); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}

	defaults := newTestService(t, &fakeDecayer{}, Config{})
	if got := defaults.Next(from); !got.Equal(time.Date(2026, 6, 2, 4, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected default next run %s", got)
	}
}

func TestRunOnceReportsHeartbeat(t *testing.T) {
	decayer := &fakeDecayer{report: memory.DecayReport{Scanned: 10, Tombstoned: 4, Kept: 6}}
	service := newTestService(t, decayer, Config{Options: memory.DecayOptions{DaysToKeep: 14, MinSimilarity: 0.4}})
	registry := heartbeat.NewRegistry()
	service.SetHeartbeatReporter(registry)

	report, err := service.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if report.Tombstoned != 4 || decayer.options[0].DaysToKeep != 14 {
		t.Fatalf("unexpected report %+v options %+v", report, decayer.options)
	}
	status, _ := registry.Snapshot(0).Component(heartbeat.ComponentDecay)
	if status.State != heartbeat.StateHealthy || status.Message != "scanned=10 tombstoned=4" {
		t.Fatalf("unexpected heartbeat %+v", status)
	}
	if last := service.LastRun(); last.Report.Kept != 6 || last.Error != "" {
		t.Fatalf("unexpected last run %+v", last)
	}

	decayer.err = errors.New("database is locked")
	if _, err := service.RunOnce(context.Background()); err == nil {
		t.Fatal("expected decay error")
	}
	status, _ = registry.Snapshot(0).Component(heartbeat.ComponentDecay)
	if status.State != heartbeat.StateDegraded || service.LastRun().Error != "database is locked" {
		t.Fatalf("expected degraded heartbeat, got %+v", status)
	}
}

func TestRunOnceRejectsOverlap(t *testing.T) {
	decayer := &fakeDecayer{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	service := newTestService(t, decayer, Config{})

	done := make(chan error, 1)
	go func() {
		_, err := service.RunOnce(context.Background())
		done <- err
	}()
	<-decayer.entered
	if _, err := service.RunOnce(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	close(decayer.block)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

func TestStartWithoutDecayerIsDisabled(t *testing.T) {
	service := newTestService(t, nil, Config{})
	registry := heartbeat.NewRegistry()
	service.SetHeartbeatReporter(registry)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = service.Start(ctx)
		close(done)
	}()
	deadline := time.After(time.Second)
	for {
		if status, ok := registry.Snapshot(0).Component(heartbeat.ComponentDecay); ok && status.State == heartbeat.StateDisabled {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected disabled heartbeat")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
