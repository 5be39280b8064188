package manifest

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventCallback is called after a watcher-driven apply. kind is "applied"
// or "removed".
type EventCallback func(kind string, rep Report)

const settle = 200 * time.Millisecond

// Watch applies every manifest below root, then watches root with fsnotify
// and re-applies changed manifests until ctx is cancelled. Bursts of writes
// to one file are applied once after they settle. New directories are added
// to the watch list.
func Watch(ctx context.Context, a *Applier, root string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}
	applyTree(ctx, a, root, logger, cb)
	logger.Info("watcher: started", slog.String("root", root))

	pending := make(map[string]struct{})
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	schedule := func(path string) {
		pending[path] = struct{}{}
		if timer == nil {
			timer = time.NewTimer(settle)
			timerCh = timer.C
		} else {
			timer.Reset(settle)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			for path := range pending {
				apply(ctx, a, path, logger, cb)
			}
			clear(pending)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			path := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, path); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", path),
							slog.String("error", addErr.Error()))
					}
					applyTree(ctx, a, path, logger, cb)
					continue
				}
			}
			if !IsManifest(path) {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				schedule(path)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// Removing a manifest does not delete what it declared.
				a.Forget(path)
				delete(pending, path)
				logger.Debug("watcher: manifest removed", slog.String("path", path))
				if cb != nil {
					cb("removed", Report{Path: path})
				}
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func apply(ctx context.Context, a *Applier, path string, logger *slog.Logger, cb EventCallback) {
	rep, err := a.ApplyFile(ctx, path)
	if err != nil {
		logger.Warn("watcher: apply failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	if rep.Skipped {
		logger.Debug("watcher: unchanged", slog.String("path", path))
		return
	}
	if cb != nil {
		cb("applied", rep)
	}
}

// applyTree applies every manifest found below dir.
func applyTree(ctx context.Context, a *Applier, dir string, logger *slog.Logger, cb EventCallback) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !IsManifest(path) {
			return nil
		}
		apply(ctx, a, path, logger, cb)
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
