package catalog

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"agentflow/internal/domain"
	"agentflow/internal/infra/telemetry"
)

const defaultReloadDebounce = 200 * time.Millisecond

// ReloadFunc receives every configuration that loaded and validated after a
// change on disk.
type ReloadFunc func(ctx context.Context, cfg domain.Config)

type WatcherOptions struct {
	Path     string
	Loader   *Loader
	OnReload ReloadFunc
	Debounce time.Duration
	Logger   *zap.Logger
}

// Watcher reloads the config file when it changes. The parent directory is
// watched so that editors replacing the file by rename are noticed.
type Watcher struct {
	path     string
	loader   *Loader
	onReload ReloadFunc
	debounce time.Duration
	logger   *zap.Logger
}

func NewWatcher(opts WatcherOptions) *Watcher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loader := opts.Loader
	if loader == nil {
		loader = NewLoader(logger)
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultReloadDebounce
	}
	return &Watcher{
		path:     opts.Path,
		loader:   loader,
		onReload: opts.OnReload,
		debounce: debounce,
		logger:   logger.Named("config_watcher"),
	}
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	target := filepath.Clean(w.path)

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op == fsnotify.Chmod {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
		case <-timerChan(timer):
			timer = nil
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := w.loader.Load(ctx, w.path)
	if err != nil {
		w.logger.Warn("config reload failed", telemetry.EventField(telemetry.EventConfigReload), zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("config reloaded", telemetry.EventField(telemetry.EventConfigReload), zap.String("path", w.path))
	if w.onReload != nil {
		w.onReload(ctx, cfg)
	}
}

func timerChan(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}
