package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dwizi/rapport/internal/classifier"
	"github.com/dwizi/rapport/internal/retry"
)

var ErrQueueFull = errors.New("task queue is full")

type TaskKind string

const TaskKindSessionSummary TaskKind = "session_summary"

// Task is background work spawned by a turn. It never blocks the reply.
type Task struct {
	ID             string
	VisitorID      string
	SessionKey     string
	Kind           TaskKind
	History        []classifier.Turn
	Classification classifier.Result
	CreatedAt      time.Time
}

type TaskResult struct {
	MemoryID string
	Summary  string
	Attempts int
}

type Executor interface {
	Execute(ctx context.Context, task Task) (TaskResult, error)
}

type Observer interface {
	OnTaskQueued(task Task)
	OnTaskStarted(task Task, workerID int)
	OnTaskCompleted(task Task, workerID int, result TaskResult)
	OnTaskFailed(task Task, workerID int, err error)
}

// Engine is a fixed worker pool over a bounded queue. Failed tasks are
// retried with backoff and then dropped.
type Engine struct {
	maxConcurrency int
	tasks          chan Task
	retry          retry.Config
	logger         *slog.Logger
	startOnce      sync.Once

	mu       sync.RWMutex
	executor Executor
	observer Observer
}

func New(maxConcurrency int, logger *slog.Logger) *Engine {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		maxConcurrency: maxConcurrency,
		tasks:          make(chan Task, maxConcurrency*50),
		retry:          retry.DefaultConfig,
		logger:         logger.With("component", "summary_engine"),
	}
}

func (e *Engine) SetExecutor(executor Executor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executor = executor
}

func (e *Engine) SetObserver(observer Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = observer
}

func (e *Engine) SetRetry(cfg retry.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retry = cfg
}

func (e *Engine) Start(ctx context.Context) error {
	var workers sync.WaitGroup
	e.startOnce.Do(func() {
		for index := 0; index < e.maxConcurrency; index++ {
			workers.Add(1)
			go func(workerID int) {
				defer workers.Done()
				e.worker(ctx, workerID)
			}(index + 1)
		}
	})

	<-ctx.Done()
	workers.Wait()
	return nil
}

func (e *Engine) Enqueue(task Task) (Task, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Kind == "" {
		task.Kind = TaskKindSessionSummary
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	select {
	case e.tasks <- task:
		e.logger.Info("task queued", "task_id", task.ID, "visitor_id", task.VisitorID, "kind", task.Kind)
		if observer := e.currentObserver(); observer != nil {
			observer.OnTaskQueued(task)
		}
		return task, nil
	default:
		return Task{}, ErrQueueFull
	}
}

func (e *Engine) worker(ctx context.Context, workerID int) {
	e.logger.Info("worker started", "worker_id", workerID)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("worker stopped", "worker_id", workerID)
			return
		case task := <-e.tasks:
			e.processTask(ctx, workerID, task)
		}
	}
}

func (e *Engine) processTask(ctx context.Context, workerID int, task Task) {
	e.mu.RLock()
	executor := e.executor
	observer := e.observer
	policy := e.retry
	e.mu.RUnlock()

	if observer != nil {
		observer.OnTaskStarted(task, workerID)
	}
	if executor == nil {
		e.logger.Warn("no executor configured, dropping task", "task_id", task.ID)
		return
	}

	var (
		result   TaskResult
		attempts int
	)
	err := retry.Do(ctx, policy, func() error {
		attempts++
		var execErr error
		result, execErr = executor.Execute(ctx, task)
		return execErr
	})
	result.Attempts = attempts
	if err != nil {
		e.logger.Warn("task dropped after retries",
			"worker_id", workerID,
			"task_id", task.ID,
			"visitor_id", task.VisitorID,
			"attempts", attempts,
			"error", err,
		)
		if observer != nil {
			observer.OnTaskFailed(task, workerID, err)
		}
		return
	}
	e.logger.Info("task completed", "worker_id", workerID, "task_id", task.ID, "attempts", attempts)
	if observer != nil {
		observer.OnTaskCompleted(task, workerID, result)
	}
}

func (e *Engine) currentObserver() Observer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.observer
}
