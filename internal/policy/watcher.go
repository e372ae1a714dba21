package policy

import (
	"context"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadFunc receives the freshly loaded rules after a file change.
// Callers use it to swap the active rules and emit a policy_reloaded audit
// event; a rules change that is not recorded is itself a governance defect.
type ReloadFunc func(rules *Rules)

// Watcher reloads the rules file when it changes on disk.
type Watcher struct {
	path     string
	logger   *zap.Logger
	onReload ReloadFunc

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewWatcher creates a watcher for the given rules file.
func NewWatcher(path string, logger *zap.Logger, onReload ReloadFunc) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:     path,
		logger:   logger,
		onReload: onReload,
	}
}

// Start begins watching until the context is cancelled.
// Invalid rule files are rejected and logged; the previous rules stay active.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.path); err != nil {
		fw.Close()
		return err
	}

	w.mu.Lock()
	w.watcher = fw
	w.mu.Unlock()

	go w.loop(ctx, fw)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer fw.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			rules, err := Load(w.path)
			if err != nil {
				w.logger.Warn("rejected rules reload",
					zap.String("path", w.path),
					zap.Error(err))
				continue
			}
			w.logger.Info("rules reloaded",
				zap.String("path", w.path),
				zap.Int("version", rules.Version))
			if w.onReload != nil {
				w.onReload(rules)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("rules watcher error", zap.Error(err))
		}
	}
}
