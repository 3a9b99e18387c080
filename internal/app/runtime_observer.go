package app

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/dwizi/rapport/internal/heartbeat"
	"github.com/dwizi/rapport/internal/orchestrator"
)

// summaryObserver logs summary task lifecycle and keeps the summary engine's
// heartbeat current. A failure degrades the component until the next success.
type summaryObserver struct {
	reporter  heartbeat.Reporter
	logger    *slog.Logger
	completed atomic.Int64
	failed    atomic.Int64
}

func newSummaryObserver(registry *heartbeat.Registry, logger *slog.Logger) *summaryObserver {
	if logger == nil {
		logger = slog.Default()
	}
	observer := &summaryObserver{logger: logger.With("component", heartbeat.ComponentSummaryEngine)}
	if registry != nil {
		observer.reporter = registry
	}
	return observer
}

func (o *summaryObserver) OnTaskQueued(task orchestrator.Task) {
	o.logger.Debug("summary queued", "task_id", task.ID, "visitor_id", task.VisitorID, "turns", len(task.History))
}

func (o *summaryObserver) OnTaskStarted(task orchestrator.Task, workerID int) {
	o.logger.Debug("summary started", "task_id", task.ID, "worker_id", workerID)
}

func (o *summaryObserver) OnTaskCompleted(task orchestrator.Task, workerID int, result orchestrator.TaskResult) {
	total := o.completed.Add(1)
	o.logger.Info("session summarized",
		"task_id", task.ID,
		"visitor_id", task.VisitorID,
		"memory_id", result.MemoryID,
		"attempts", result.Attempts,
	)
	if o.reporter != nil {
		o.reporter.Beat(heartbeat.ComponentSummaryEngine, fmt.Sprintf("completed=%d failed=%d", total, o.failed.Load()))
	}
}

func (o *summaryObserver) OnTaskFailed(task orchestrator.Task, workerID int, err error) {
	o.failed.Add(1)
	o.logger.Error("session summary failed", "task_id", task.ID, "visitor_id", task.VisitorID, "error", err)
	if o.reporter != nil {
		o.reporter.Degrade(heartbeat.ComponentSummaryEngine, "summary task failed", err)
	}
}
