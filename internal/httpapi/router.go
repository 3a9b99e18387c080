package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dwizi/rapport/internal/agenterr"
	"github.com/dwizi/rapport/internal/classifier"
	"github.com/dwizi/rapport/internal/config"
	"github.com/dwizi/rapport/internal/heartbeat"
	"github.com/dwizi/rapport/internal/memory"
	"github.com/dwizi/rapport/internal/orchestrator"
	"github.com/dwizi/rapport/internal/profile"
	"github.com/dwizi/rapport/internal/scheduler"
)

const maxBodyBytes = 1 << 20

type Pinger interface {
	Ping(ctx context.Context) error
}

type TurnHandler interface {
	HandleTurn(ctx context.Context, req orchestrator.TurnRequest) (orchestrator.TurnResponse, error)
}

type ProfileReader interface {
	Get(ctx context.Context, visitorID string) (profile.Profile, error)
	Strategy(ctx context.Context, visitorID string) (profile.StrategyView, error)
}

type Classifier interface {
	Classify(ctx context.Context, in classifier.Input) classifier.Result
}

type DecayRunner interface {
	RunOnce(ctx context.Context) (memory.DecayReport, error)
	LastRun() scheduler.Run
}

type PolicyInfo interface {
	Hash() string
}

type Dependencies struct {
	Config              config.Config
	Store               Pinger
	Turns               TurnHandler
	Profiles            ProfileReader
	Classifier          Classifier
	Decay               DecayRunner
	Policy              PolicyInfo
	// MCP, when set, is mounted at /mcp.
	MCP                 http.Handler
	Logger              *slog.Logger
	Heartbeat           *heartbeat.Registry
	HeartbeatStaleAfter time.Duration
	// RequiredComponents gate /readyz in addition to the store ping.
	RequiredComponents  []string
}

type router struct {
	deps   Dependencies
	logger *slog.Logger
}

func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rt := &router{deps: deps, logger: logger.With("component", heartbeat.ComponentAPI)}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.handleHealth)
	mux.HandleFunc("/readyz", rt.handleReady)
	mux.HandleFunc("/api/v1/heartbeat", rt.handleHeartbeat)
	mux.HandleFunc("/api/v1/info", rt.handleInfo)
	mux.HandleFunc("POST /api/v1/turn", rt.handleTurn)
	mux.HandleFunc("GET /api/v1/turn/ws", rt.handleTurnSocket)
	mux.HandleFunc("GET /api/v1/visitors/{id}/profile", rt.handleProfile)
	mux.HandleFunc("POST /api/v1/classify", rt.handleClassify)
	mux.HandleFunc("/api/v1/decay", rt.handleDecay)
	if deps.MCP != nil {
		mux.Handle("/mcp", deps.MCP)
	}
	return mux
}

func decodeJSON(w http.ResponseWriter, req *http.Request, target any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return false
	}
	return true
}

// writeError maps domain errors onto status codes. Anything unrecognised is
// logged and reported as a 500.
func (r *router) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agenterr.ErrVisitorRequired),
		errors.Is(err, agenterr.ErrMessageRequired),
		errors.Is(err, agenterr.ErrProbeUnknown),
		errors.Is(err, agenterr.ErrProbeAnswered):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "request timed out"})
	default:
		r.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
