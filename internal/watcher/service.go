// Package watcher reloads files when they change on disk.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dwizi/rapport/internal/heartbeat"
)

const DefaultDebounce = 250 * time.Millisecond

// Service watches a set of files and calls onChange once per burst of
// writes to any of them. Parent directories are watched, not the files, so
// editors that save by rename are still seen.
type Service struct {
	files    map[string]struct{}
	dirs     []string
	debounce time.Duration
	logger   *slog.Logger
	onChange func(context.Context, string) error
	watcher  *fsnotify.Watcher
	reporter heartbeat.Reporter
}

func New(files []string, debounce time.Duration, logger *slog.Logger, onChange func(context.Context, string) error) (*Service, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	fileWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	service := &Service{
		files:    map[string]struct{}{},
		debounce: debounce,
		logger:   logger.With("component", heartbeat.ComponentPolicyWatcher),
		onChange: onChange,
		watcher:  fileWatcher,
	}
	seenDirs := map[string]struct{}{}
	for _, file := range files {
		absolute, err := filepath.Abs(file)
		if err != nil {
			_ = fileWatcher.Close()
			return nil, fmt.Errorf("resolve %s: %w", file, err)
		}
		service.files[absolute] = struct{}{}
		dir := filepath.Dir(absolute)
		if _, ok := seenDirs[dir]; !ok {
			seenDirs[dir] = struct{}{}
			service.dirs = append(service.dirs, dir)
		}
	}
	return service, nil
}

func (s *Service) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	s.reporter = reporter
}

func (s *Service) Start(ctx context.Context) error {
	defer s.watcher.Close()

	for _, dir := range s.dirs {
		if err := s.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch path %s: %w", dir, err)
		}
	}
	s.logger.Info("policy watcher started", "files", len(s.files))
	if s.reporter != nil {
		s.reporter.Beat(heartbeat.ComponentPolicyWatcher, "watching")
	}

	var (
		mu      sync.Mutex
		pending = map[string]*time.Timer{}
	)
	defer func() {
		mu.Lock()
		for _, timer := range pending {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			if s.reporter != nil {
				s.reporter.Stopped(heartbeat.ComponentPolicyWatcher, "stopped")
			}
			s.logger.Info("policy watcher stopped")
			return nil
		case event, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			path, relevant := s.relevant(event)
			if !relevant {
				continue
			}
			mu.Lock()
			if timer, exists := pending[path]; exists {
				timer.Reset(s.debounce)
			} else {
				pending[path] = time.AfterFunc(s.debounce, func() {
					mu.Lock()
					delete(pending, path)
					mu.Unlock()
					s.fire(ctx, path)
				})
			}
			mu.Unlock()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				s.logger.Error("file watcher error", "error", err)
			}
		}
	}
}

func (s *Service) relevant(event fsnotify.Event) (string, bool) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return "", false
	}
	path, err := filepath.Abs(event.Name)
	if err != nil {
		return "", false
	}
	_, ok := s.files[path]
	return path, ok
}

func (s *Service) fire(ctx context.Context, path string) {
	if ctx.Err() != nil || s.onChange == nil {
		return
	}
	if err := s.onChange(ctx, path); err != nil {
		s.logger.Error("reload failed, keeping previous version", "path", path, "error", err)
		if s.reporter != nil {
			s.reporter.Degrade(heartbeat.ComponentPolicyWatcher, "reload failed: "+filepath.Base(path), err)
		}
		return
	}
	s.logger.Info("file reloaded", "path", path)
	if s.reporter != nil {
		s.reporter.Beat(heartbeat.ComponentPolicyWatcher, "reloaded "+filepath.Base(path))
	}
}
