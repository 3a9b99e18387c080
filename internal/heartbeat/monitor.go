package heartbeat

import (
	"context"
	"log/slog"
	"time"
)

type Transition struct {
	Component string `json:"component"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

type MonitorConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	Logger     *slog.Logger
	// OnTransition is called for every state change after the first
	// observation of a component. Nil logs the change.
	OnTransition func(context.Context, Transition, Snapshot)
}

// Monitor polls the registry and reports component state changes, including
// components going stale.
type Monitor struct {
	registry     *Registry
	interval     time.Duration
	staleAfter   time.Duration
	logger       *slog.Logger
	onTransition func(context.Context, Transition, Snapshot)
}

func NewMonitor(registry *Registry, cfg MonitorConfig) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	monitor := &Monitor{
		registry:     registry,
		interval:     interval,
		staleAfter:   cfg.StaleAfter,
		logger:       logger.With("component", ComponentMonitor),
		onTransition: cfg.OnTransition,
	}
	if monitor.onTransition == nil {
		monitor.onTransition = monitor.logTransition
	}
	return monitor
}

func (m *Monitor) Start(ctx context.Context) error {
	if m.registry == nil {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.logger.Info("heartbeat monitor started", "interval", m.interval.String(), "stale_after", m.staleAfter.String())

	previous := map[string]string{}
	for {
		m.evaluate(ctx, m.registry.Snapshot(m.staleAfter), previous)
		select {
		case <-ctx.Done():
			m.logger.Info("heartbeat monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) evaluate(ctx context.Context, snapshot Snapshot, previous map[string]string) {
	for _, item := range snapshot.Components {
		before, seen := previous[item.Name]
		previous[item.Name] = item.State
		if !seen || before == item.State {
			continue
		}
		m.onTransition(ctx, Transition{
			Component: item.Name,
			FromState: before,
			ToState:   item.State,
			Message:   item.Message,
			Error:     item.Error,
		}, snapshot)
	}
}

func (m *Monitor) logTransition(_ context.Context, transition Transition, snapshot Snapshot) {
	attrs := []any{
		"target", transition.Component,
		"from", transition.FromState,
		"to", transition.ToState,
		"overall", snapshot.Overall,
	}
	if transition.Error != "" {
		attrs = append(attrs, "error", transition.Error)
	}
	if IsDegradedState(transition.ToState) {
		m.logger.Warn("component degraded", attrs...)
		return
	}
	m.logger.Info("component state changed", attrs...)
}
