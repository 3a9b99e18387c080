// Package heartbeat tracks the liveness of the runtime's long-running
// components and derives the overall readiness reported by the API.
package heartbeat

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	StateStarting = "starting"
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateDisabled = "disabled"
	StateStopped  = "stopped"
	StateStale    = "stale"

	OverallUnknown = "unknown"
	OverallIdle    = "idle"
)

// Component names reported by the runtime.
const (
	ComponentStore         = "store"
	ComponentAPI           = "http_api"
	ComponentSummaryEngine = "summary_engine"
	ComponentDecay         = "memory_decay"
	ComponentPolicyWatcher = "policy_watcher"
	ComponentGenerator     = "generator"
	ComponentEmbedder      = "embedder"
	ComponentMonitor       = "heartbeat_monitor"
)

type Reporter interface {
	Starting(component, message string)
	Beat(component, message string)
	Degrade(component, message string, err error)
	Disabled(component, message string)
	Stopped(component, message string)
}

type ComponentStatus struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	BaseState      string `json:"base_state"`
	Message        string `json:"message,omitempty"`
	Error          string `json:"error,omitempty"`
	LastBeatAtUnix int64  `json:"last_beat_at_unix,omitempty"`
	UpdatedAtUnix  int64  `json:"updated_at_unix"`
	Stale          bool   `json:"stale,omitempty"`
}

type Snapshot struct {
	GeneratedAtUnix int64             `json:"generated_at_unix"`
	Overall         string            `json:"overall"`
	Components      []ComponentStatus `json:"components"`
}

// Component returns the named status, if registered.
func (s Snapshot) Component(name string) (ComponentStatus, bool) {
	name = normalizeComponent(name)
	for _, item := range s.Components {
		if item.Name == name {
			return item, true
		}
	}
	return ComponentStatus{}, false
}

type record struct {
	state      string
	message    string
	lastError  string
	lastBeatAt time.Time
	updatedAt  time.Time
}

type Registry struct {
	mu         sync.RWMutex
	components map[string]record
	now        func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		components: map[string]record{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) Starting(component, message string) {
	r.set(component, StateStarting, message, nil, false)
}

// Beat marks the component healthy and clears its last error.
func (r *Registry) Beat(component, message string) {
	r.set(component, StateHealthy, message, nil, true)
}

func (r *Registry) Degrade(component, message string, err error) {
	r.set(component, StateDegraded, message, err, false)
}

func (r *Registry) Disabled(component, message string) {
	r.set(component, StateDisabled, message, nil, false)
}

func (r *Registry) Stopped(component, message string) {
	r.set(component, StateStopped, message, nil, false)
}

func (r *Registry) set(component, state, message string, err error, beat bool) {
	name := normalizeComponent(component)
	if name == "" {
		return
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := r.components[name]
	entry.state = state
	entry.message = strings.TrimSpace(message)
	entry.lastError = ""
	if err != nil {
		entry.lastError = strings.TrimSpace(err.Error())
	}
	entry.updatedAt = now
	if beat || entry.lastBeatAt.IsZero() {
		entry.lastBeatAt = now
	}
	r.components[name] = entry
}

// Snapshot reports every component. Healthy or starting components whose
// last beat is older than staleAfter are reported stale; zero disables that.
func (r *Registry) Snapshot(staleAfter time.Duration) Snapshot {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]ComponentStatus, 0, len(r.components))
	for name, entry := range r.components {
		status := ComponentStatus{
			Name:           name,
			State:          entry.state,
			BaseState:      entry.state,
			Message:        entry.message,
			Error:          entry.lastError,
			LastBeatAtUnix: entry.lastBeatAt.Unix(),
			UpdatedAtUnix:  entry.updatedAt.Unix(),
		}
		if staleAfter > 0 && canBecomeStale(entry.state) && now.Sub(entry.lastBeatAt) > staleAfter {
			status.State = StateStale
			status.Stale = true
		}
		results = append(results, status)
	}
	sort.Slice(results, func(left, right int) bool {
		return results[left].Name < results[right].Name
	})

	return Snapshot{
		GeneratedAtUnix: now.Unix(),
		Overall:         computeOverall(results),
		Components:      results,
	}
}

// Ready reports whether every required component is up. A missing, stopped,
// degraded or stale required component makes the runtime unready; the names
// of the offending components are returned.
func (s Snapshot) Ready(required ...string) (bool, []string) {
	var blocking []string
	for _, name := range required {
		status, ok := s.Component(name)
		if !ok {
			blocking = append(blocking, normalizeComponent(name))
			continue
		}
		switch status.State {
		case StateHealthy, StateDisabled:
		default:
			blocking = append(blocking, status.Name)
		}
	}
	return len(blocking) == 0, blocking
}

func IsDegradedState(state string) bool {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case StateDegraded, StateStale:
		return true
	default:
		return false
	}
}

func normalizeComponent(component string) string {
	return strings.ToLower(strings.TrimSpace(component))
}

func canBecomeStale(state string) bool {
	return state == StateHealthy || state == StateStarting
}

func computeOverall(items []ComponentStatus) string {
	if len(items) == 0 {
		return OverallUnknown
	}
	hasHealthy, hasStarting := false, false
	for _, item := range items {
		switch item.State {
		case StateDegraded, StateStale:
			return StateDegraded
		case StateHealthy:
			hasHealthy = true
		case StateStarting:
			hasStarting = true
		}
	}
	switch {
	case hasStarting:
		return StateStarting
	case hasHealthy:
		return StateHealthy
	default:
		return OverallIdle
	}
}
