package ml

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultWatchDebounce = 500 * time.Millisecond

// ArtifactWatcher reloads the predictor when another process (usually
// train_model) publishes a new artifact directory.
type ArtifactWatcher struct {
	predictor *DualPredictor
	store     *ArtifactStore
	logger    *zap.Logger
	debounce  time.Duration
	reloaded  func()
}

func NewArtifactWatcher(predictor *DualPredictor, store *ArtifactStore, logger *zap.Logger) *ArtifactWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactWatcher{
		predictor: predictor,
		store:     store,
		logger:    logger,
		debounce:  defaultWatchDebounce,
	}
}

// OnReload sets a callback invoked after each successful reload.
func (w *ArtifactWatcher) OnReload(fn func()) {
	w.reloaded = fn
}

// Run blocks until ctx is cancelled. Save publishes by renaming a fresh
// symlink onto the artifact path, so the parent directory is watched.
func (w *ArtifactWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	parent := filepath.Dir(w.store.Dir())
	if err := watcher.Add(parent); err != nil {
		return err
	}
	w.logger.Info("watching artifacts", zap.String("dir", w.store.Dir()))

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("artifact watcher error", zap.Error(err))
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *ArtifactWatcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.store.Dir() {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Write)
}

func (w *ArtifactWatcher) reload() {
	found, err := w.predictor.Load()
	switch {
	case err != nil:
		w.logger.Error("artifact reload failed", zap.Error(err))
	case !found:
		w.logger.Debug("artifact directory changed but set is incomplete")
	default:
		if w.reloaded != nil {
			w.reloaded()
		}
	}
}
