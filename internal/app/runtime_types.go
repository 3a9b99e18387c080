package app

import (
	"log/slog"
	"net/http"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dwizi/rapport/internal/config"
	"github.com/dwizi/rapport/internal/heartbeat"
	"github.com/dwizi/rapport/internal/orchestrator"
	"github.com/dwizi/rapport/internal/scheduler"
	"github.com/dwizi/rapport/internal/store"
	"github.com/dwizi/rapport/internal/strategy"
	"github.com/dwizi/rapport/internal/watcher"
)

const Version = "0.1.0"

type Runtime struct {
	cfg              config.Config
	logger           *slog.Logger
	store            *store.Store
	engine           *orchestrator.Engine
	orchestrator     *orchestrator.Orchestrator
	selector         *strategy.Selector
	httpServer       *http.Server
	mcpServer        *sdkmcp.Server
	watcher          *watcher.Service
	scheduler        *scheduler.Service
	heartbeat        *heartbeat.Registry
	heartbeatMonitor *heartbeat.Monitor
}
