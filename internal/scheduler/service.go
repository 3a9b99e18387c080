// Package scheduler runs memory decay on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dwizi/rapport/internal/heartbeat"
	"github.com/dwizi/rapport/internal/memory"
)

const (
	DefaultCron     = "0 4 * * *"
	DefaultTimezone = "UTC"
)

var ErrAlreadyRunning = errors.New("decay run already in progress")

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type Decayer interface {
	Decay(ctx context.Context, opts memory.DecayOptions) (memory.DecayReport, error)
}

type Config struct {
	CronExpr string
	Timezone string
	Options  memory.DecayOptions
}

// Run describes the outcome of the most recent decay pass.
type Run struct {
	StartedAt time.Time          `json:"startedAt"`
	Duration  time.Duration      `json:"duration"`
	Report    memory.DecayReport `json:"report"`
	Error     string             `json:"error,omitempty"`
}

type Service struct {
	decayer  Decayer
	options  memory.DecayOptions
	schedule cron.Schedule
	location *time.Location
	expr     string
	logger   *slog.Logger
	reporter heartbeat.Reporter
	now      func() time.Time

	running sync.Mutex
	mu      sync.RWMutex
	last    Run
}

func New(decayer Decayer, cfg Config, logger *slog.Logger) (*Service, error) {
	expr := strings.Join(strings.Fields(cfg.CronExpr), " ")
	if expr == "" {
		expr = DefaultCron
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse decay cron %q: %w", expr, err)
	}
	timezone := strings.TrimSpace(cfg.Timezone)
	if timezone == "" {
		timezone = DefaultTimezone
	}
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load decay timezone: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		decayer:  decayer,
		options:  cfg.Options,
		schedule: schedule,
		location: location,
		expr:     expr,
		logger:   logger.With("component", heartbeat.ComponentDecay),
		now:      time.Now,
	}, nil
}

func (s *Service) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	s.reporter = reporter
}

// Next is the first scheduled run strictly after from.
func (s *Service) Next(from time.Time) time.Time {
	return s.schedule.Next(from.In(s.location)).UTC()
}

func (s *Service) Start(ctx context.Context) error {
	if s.decayer == nil {
		s.report(func(r heartbeat.Reporter) { r.Disabled(heartbeat.ComponentDecay, "memory manager missing") })
		<-ctx.Done()
		return nil
	}
	next := s.Next(s.now())
	s.logger.Info("decay scheduler started", "cron", s.expr, "timezone", s.location.String(), "next_run", next)
	s.report(func(r heartbeat.Reporter) { r.Beat(heartbeat.ComponentDecay, "next run "+next.Format(time.RFC3339)) })

	for {
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.report(func(r heartbeat.Reporter) { r.Stopped(heartbeat.ComponentDecay, "stopped") })
			s.logger.Info("decay scheduler stopped")
			return nil
		case <-timer.C:
		}
		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			s.logger.Error("scheduled decay failed", "error", err)
		}
		next = s.Next(s.now())
	}
}

// RunOnce performs one decay pass now. Concurrent calls fail with
// ErrAlreadyRunning rather than queueing.
func (s *Service) RunOnce(ctx context.Context) (memory.DecayReport, error) {
	if s.decayer == nil {
		return memory.DecayReport{}, errors.New("decay is not configured")
	}
	if !s.running.TryLock() {
		return memory.DecayReport{}, ErrAlreadyRunning
	}
	defer s.running.Unlock()

	startedAt := s.now().UTC()
	report, err := s.decayer.Decay(ctx, s.options)
	run := Run{StartedAt: startedAt, Duration: s.now().Sub(startedAt), Report: report}
	if err != nil {
		run.Error = err.Error()
		s.report(func(r heartbeat.Reporter) { r.Degrade(heartbeat.ComponentDecay, "decay run failed", err) })
	} else {
		message := fmt.Sprintf("scanned=%d tombstoned=%d", report.Scanned, report.Tombstoned)
		s.report(func(r heartbeat.Reporter) { r.Beat(heartbeat.ComponentDecay, message) })
	}
	s.mu.Lock()
	s.last = run
	s.mu.Unlock()
	if err != nil {
		return report, fmt.Errorf("decay memories: %w", err)
	}
	return report, nil
}

func (s *Service) LastRun() Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Service) report(fn func(heartbeat.Reporter)) {
	if s.reporter != nil {
		fn(s.reporter)
	}
}
