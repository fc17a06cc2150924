package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize config watcher")

// ResolvePath returns the config file LoadWithFile reads for path. An empty
// path resolves to config.yaml in DefaultDir.
func ResolvePath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Watcher reports changes to one config file.
//
// The parent directory is watched rather than the file itself so that
// editors that replace the file by rename, and files created after
// startup, are both seen.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	stop    chan struct{}
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	return &Watcher{
		path:    abs,
		watcher: w,
		logger:  logger,
		stop:    make(chan struct{}),
	}, nil
}

// Start begins watching and calls onChange after every write, create or
// rename of the file. It returns once the watch is registered; events are
// handled in a background goroutine until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context, onChange func()) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	go w.processEvents(ctx, onChange)
	return nil
}

// Stop stops the watcher and releases its resources. Safe to call twice.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
}

const changeOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename

func (w *Watcher) processEvents(ctx context.Context, onChange func()) {
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || event.Op&changeOps == 0 {
				continue
			}
			w.logger.Info("config file changed",
				zap.String("path", w.path),
				zap.String("op", event.Op.String()),
			)
			onChange()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
