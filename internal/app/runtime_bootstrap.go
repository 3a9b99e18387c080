package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dwizi/rapport/internal/cache"
	"github.com/dwizi/rapport/internal/classifier"
	"github.com/dwizi/rapport/internal/config"
	"github.com/dwizi/rapport/internal/contextasm"
	"github.com/dwizi/rapport/internal/heartbeat"
	"github.com/dwizi/rapport/internal/httpapi"
	"github.com/dwizi/rapport/internal/mcp"
	"github.com/dwizi/rapport/internal/memory"
	"github.com/dwizi/rapport/internal/orchestrator"
	"github.com/dwizi/rapport/internal/profile"
	"github.com/dwizi/rapport/internal/retry"
	"github.com/dwizi/rapport/internal/scheduler"
	"github.com/dwizi/rapport/internal/store"
	"github.com/dwizi/rapport/internal/strategy"
	"github.com/dwizi/rapport/internal/tokens"
	"github.com/dwizi/rapport/internal/watcher"
)

func New(cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	systemPrompt, err := loadSystemPrompt(cfg)
	if err != nil {
		return nil, err
	}

	sqlStore, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		sqlStore.Close()
		return nil, err
	}

	var heartbeatRegistry *heartbeat.Registry
	if cfg.HeartbeatEnabled {
		heartbeatRegistry = heartbeat.NewRegistry()
		heartbeatRegistry.Beat(heartbeat.ComponentStore, "sqlite ready")
		heartbeatRegistry.Starting(heartbeat.ComponentSummaryEngine, "initializing")
		heartbeatRegistry.Starting(heartbeat.ComponentDecay, "initializing")
		heartbeatRegistry.Starting(heartbeat.ComponentAPI, "initializing")
	}

	generator := newLLMClient(cfg, cfg.LLMModel, logger)
	reasoner := generator
	if cfg.LLMReasoningModel != "" && cfg.LLMReasoningModel != cfg.LLMModel {
		reasoner = newLLMClient(cfg, cfg.LLMReasoningModel, logger)
	}
	embedder := newEmbedder(cfg, logger)
	if heartbeatRegistry != nil {
		if generator == nil {
			heartbeatRegistry.Disabled(heartbeat.ComponentGenerator, "llm provider disabled, using fallback replies")
		} else {
			heartbeatRegistry.Beat(heartbeat.ComponentGenerator, "provider "+cfg.LLMProvider)
		}
		if embedder.Dimensions() == 0 {
			heartbeatRegistry.Disabled(heartbeat.ComponentEmbedder, "embeddings disabled, retrieval is chronological")
		} else {
			heartbeatRegistry.Beat(heartbeat.ComponentEmbedder, fmt.Sprintf("provider %s dims=%d", cfg.EmbedProvider, embedder.Dimensions()))
		}
	}

	index, err := newVectorIndex(cfg, sqlStore, logger)
	if err != nil {
		sqlStore.Close()
		return nil, err
	}
	classifierCache, err := cache.New[classifier.Result](cache.Config{MaxItems: int64(cfg.ClassifierCacheMaxItems)})
	if err != nil {
		sqlStore.Close()
		return nil, err
	}

	messageClassifier := classifier.New(reasoner, classifierCache, classifier.Config{
		CacheTTL:         time.Duration(cfg.ClassifierCacheTTLSec) * time.Second,
		ReasoningTimeout: time.Duration(cfg.ClassifierTimeoutSec) * time.Second,
	}, logger)
	profiles := profile.New(sqlStore, rand.Float64, logger)
	memoryManager := memory.New(sqlStore, index, embedder, reasoner, memory.Config{}, logger)
	selector := strategy.NewSelector(strategy.DefaultTable(), profiles, rand.Float64, logger)
	if cfg.PolicyFile != "" {
		if err := selector.LoadFile(cfg.PolicyFile); err != nil {
			sqlStore.Close()
			return nil, fmt.Errorf("load policy file: %w", err)
		}
	}

	engine := orchestrator.New(cfg.SummaryWorkers, logger.With("component", heartbeat.ComponentSummaryEngine))
	engine.SetExecutor(orchestrator.NewSummaryExecutor(memoryManager))
	engine.SetRetry(retry.DefaultConfig)
	engine.SetObserver(newSummaryObserver(heartbeatRegistry, logger))

	turns := orchestrator.NewOrchestrator(orchestrator.Dependencies{
		Classifier: messageClassifier,
		Profiles:   profiles,
		Memory:     memoryManager,
		Planner:    selector,
		Assembler:  contextasm.New(tokens.DefaultSplit, cfg.ContextMaxTokens, logger),
		Generator:  generator,
		Queue:      engine,
	}, orchestrator.Config{
		SystemPrompt: systemPrompt,
		MaxTokens:    cfg.ContextMaxTokens,
		MemoryTopK:   cfg.MemoryTopK,
		SummaryLimit: cfg.SummaryLimit,
		GenerateWait: time.Duration(cfg.GenerateTimeoutSec) * time.Second,
	}, logger)

	schedulerService, err := scheduler.New(memoryManager, scheduler.Config{
		CronExpr: cfg.DecaySchedule,
		Timezone: cfg.DecayTimezone,
		Options: memory.DecayOptions{
			DaysToKeep:    cfg.DecayDaysToKeep,
			MinSimilarity: cfg.DecayMinSimilarity,
		},
	}, logger)
	if err != nil {
		sqlStore.Close()
		return nil, err
	}

	var watchService *watcher.Service
	if cfg.PolicyFile != "" && cfg.PolicyWatch {
		watchService, err = watcher.New([]string{cfg.PolicyFile}, 0, logger, func(ctx context.Context, path string) error {
			return selector.LoadFile(path)
		})
		if err != nil {
			sqlStore.Close()
			return nil, err
		}
	} else if heartbeatRegistry != nil {
		heartbeatRegistry.Disabled(heartbeat.ComponentPolicyWatcher, "no policy file watched")
	}

	if heartbeatRegistry != nil {
		schedulerService.SetHeartbeatReporter(heartbeatRegistry)
		if watchService != nil {
			watchService.SetHeartbeatReporter(heartbeatRegistry)
		}
	}

	mcpServer := mcp.NewServer(mcp.Tools{
		Classifier: messageClassifier,
		Profiles:   profiles,
		Turns:      turns,
		Decay:      schedulerService,
	}, Version, logger)

	handler := httpapi.NewRouter(httpapi.Dependencies{
		Config:              cfg,
		Store:               sqlStore,
		Turns:               turns,
		Profiles:            profiles,
		Classifier:          messageClassifier,
		Decay:               schedulerService,
		Policy:              selector,
		MCP:                 mcp.Handler(mcpServer),
		Logger:              logger,
		Heartbeat:           heartbeatRegistry,
		HeartbeatStaleAfter: time.Duration(cfg.HeartbeatStaleSec) * time.Second,
		RequiredComponents:  []string{heartbeat.ComponentStore, heartbeat.ComponentSummaryEngine},
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	runtime := &Runtime{
		cfg:          cfg,
		logger:       logger,
		store:        sqlStore,
		engine:       engine,
		orchestrator: turns,
		selector:     selector,
		httpServer:   httpServer,
		mcpServer:    mcpServer,
		watcher:      watchService,
		scheduler:    schedulerService,
		heartbeat:    heartbeatRegistry,
	}
	if heartbeatRegistry != nil {
		runtime.heartbeatMonitor = heartbeat.NewMonitor(heartbeatRegistry, heartbeat.MonitorConfig{
			Interval:   time.Duration(cfg.HeartbeatIntervalSec) * time.Second,
			StaleAfter: time.Duration(cfg.HeartbeatStaleSec) * time.Second,
			Logger:     logger,
		})
	}
	logger.Info("runtime configured",
		"llm_provider", cfg.LLMProvider,
		"embed_provider", cfg.EmbedProvider,
		"vector_backend", cfg.VectorBackend,
		"policy_file", cfg.PolicyFile,
		"custom_prompt", strings.TrimSpace(systemPrompt) != "",
	)
	return runtime, nil
}
