package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dwizi/rapport/internal/heartbeat"
	"github.com/dwizi/rapport/internal/mcp"
)

func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info("rapport runtime starting", "addr", r.cfg.HTTPAddr, "db_path", r.cfg.DBPath)

	// The reporter stays a nil interface when heartbeats are off.
	var reporter heartbeat.Reporter
	if r.heartbeat != nil {
		reporter = r.heartbeat
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return runMonitored(groupCtx, reporter, heartbeat.ComponentSummaryEngine, 20*time.Second, func(runCtx context.Context) error {
			return r.engine.Start(runCtx)
		})
	})
	group.Go(func() error {
		return r.scheduler.Start(groupCtx)
	})
	if r.watcher != nil {
		group.Go(func() error {
			return r.watcher.Start(groupCtx)
		})
	}
	group.Go(func() error {
		return runMonitored(groupCtx, reporter, heartbeat.ComponentStore, 0, func(runCtx context.Context) error {
			return r.watchStore(runCtx, reporter)
		})
	})
	group.Go(func() error {
		return runMonitored(groupCtx, reporter, heartbeat.ComponentAPI, 20*time.Second, func(runCtx context.Context) error {
			err := r.httpServer.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	})
	if r.heartbeatMonitor != nil {
		group.Go(func() error {
			return r.heartbeatMonitor.Start(groupCtx)
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return r.httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// ServeMCP runs the pipeline behind a stdio MCP server instead of HTTP.
// Background summaries and scheduled decay keep running while it serves.
func (r *Runtime) ServeMCP(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return r.engine.Start(groupCtx)
	})
	group.Go(func() error {
		return r.scheduler.Start(groupCtx)
	})
	if r.watcher != nil {
		group.Go(func() error {
			return r.watcher.Start(groupCtx)
		})
	}
	group.Go(func() error {
		err := mcp.ServeStdio(groupCtx, r.mcpServer)
		r.logger.Info("mcp client disconnected")
		return errStdioClosed(err)
	})
	err := group.Wait()
	if errors.Is(err, errMCPDone) {
		return nil
	}
	return err
}

var errMCPDone = errors.New("mcp session finished")

// errStdioClosed turns a clean disconnect into a sentinel so the group
// cancels the background workers.
func errStdioClosed(err error) error {
	if err != nil {
		return err
	}
	return errMCPDone
}

func (r *Runtime) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}

// watchStore pings the database on the heartbeat interval. A failed ping
// degrades the store, which fails readiness until a later ping succeeds.
func (r *Runtime) watchStore(ctx context.Context, reporter heartbeat.Reporter) error {
	interval := time.Duration(r.cfg.HeartbeatIntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := r.store.Ping(pingCtx)
		cancel()
		if reporter == nil {
			continue
		}
		if err != nil {
			r.logger.Warn("store ping failed", "error", err)
			reporter.Degrade(heartbeat.ComponentStore, "ping failed", err)
			continue
		}
		reporter.Beat(heartbeat.ComponentStore, "ping ok")
	}
}

func runMonitored(
	ctx context.Context,
	reporter heartbeat.Reporter,
	component string,
	beatInterval time.Duration,
	run func(context.Context) error,
) error {
	if run == nil {
		return nil
	}
	if reporter != nil {
		reporter.Starting(component, "starting")
		reporter.Beat(component, "running")
	}

	var stopHeartbeat func()
	if reporter != nil && beatInterval > 0 {
		heartbeatCtx, cancel := context.WithCancel(ctx)
		stopHeartbeat = cancel
		go func() {
			ticker := time.NewTicker(beatInterval)
			defer ticker.Stop()
			for {
				select {
				case <-heartbeatCtx.Done():
					return
				case <-ticker.C:
					reporter.Beat(component, "running")
				}
			}
		}()
	}

	err := run(ctx)
	if stopHeartbeat != nil {
		stopHeartbeat()
	}
	if reporter == nil {
		return err
	}
	if err != nil && ctx.Err() == nil {
		reporter.Degrade(component, "component failed", err)
		return err
	}
	reporter.Stopped(component, "stopped")
	return err
}
