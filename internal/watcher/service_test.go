package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dwizi/rapport/internal/heartbeat"
)

func TestServiceReloadsWatchedFile(t *testing.T) {
	dir := t.TempDir()
	policy := filepath.Join(dir, "policy.yaml")
	other := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(policy, []byte("min_confidence: 0.4\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var calls atomic.Int32
	reloaded := make(chan string, 4)
	fail := atomic.Bool{}
	service, err := New([]string{policy}, 20*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)), func(ctx context.Context, path string) error {
		calls.Add(1)
		reloaded <- path
		if fail.Load() {
			return errors.New("bad yaml")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	registry := heartbeat.NewRegistry()
	service.SetHeartbeatReporter(registry)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = service.Start(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()
	waitFor(t, func() bool {
		status, ok := registry.Snapshot(0).Component(heartbeat.ComponentPolicyWatcher)
		return ok && status.State == heartbeat.StateHealthy
	})

	if err := os.WriteFile(other, []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write other: %v", err)
	}
	for index := 0; index < 3; index++ {
		if err := os.WriteFile(policy, []byte("min_confidence: 0.5\n"), 0o644); err != nil {
			t.Fatalf("rewrite: %v", err)
		}
	}

	select {
	case path := <-reloaded:
		if filepath.Base(path) != "policy.yaml" {
			t.Fatalf("unexpected reload path %s", path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected reload")
	}
	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected writes to be debounced into one reload, got %d", got)
	}

	fail.Store(true)
	if err := os.WriteFile(policy, []byte("policies: ["), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	<-reloaded
	waitFor(t, func() bool {
		status, _ := registry.Snapshot(0).Component(heartbeat.ComponentPolicyWatcher)
		return status.State == heartbeat.StateDegraded
	})
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
