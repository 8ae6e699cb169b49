package registry

import (
	"context"
	"time"

	"github.com/conneroisu/fxlab/internal/logging"
	"github.com/conneroisu/fxlab/internal/watcher"
)

// ReloadHandler returns a watcher handler that re-reads the catalog at path
// into r. A file that fails to parse leaves the current catalog in place.
func ReloadHandler(r *Registry, path string, logger logging.Logger) watcher.ChangeHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("catalog")

	return func(events []watcher.ChangeEvent) error {
		ctx := context.Background()
		for _, ev := range events {
			if ev.Type == watcher.EventTypeDeleted {
				logger.Warn(ctx, nil, "Catalog file removed, keeping loaded effects", "path", path)
				return nil
			}
		}

		effects, err := LoadFile(path)
		if err != nil {
			return err
		}
		if len(effects) == 0 {
			// Usually a save caught between truncate and write.
			logger.Warn(ctx, nil, "Catalog file is empty, keeping loaded effects", "path", path)
			return nil
		}
		r.Replace(effects)
		logger.Info(ctx, "Catalog reloaded", "path", path, "effects", len(effects))
		return nil
	}
}

// DefaultReloadDelay is the quiet period before a changed catalog is read.
const DefaultReloadDelay = 250 * time.Millisecond

// ReloadObserver is told the outcome of every catalog reload attempt.
type ReloadObserver func(err error)

// WatchFile starts watching the catalog at path and reloads r once the file
// settles after a change. Observers see the result of each attempt. Stop the
// returned watcher to end it.
func WatchFile(ctx context.Context, r *Registry, path string, logger logging.Logger, observers ...ReloadObserver) (*watcher.FileWatcher, error) {
	fw, err := watcher.NewFileWatcher(DefaultReloadDelay, watcher.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := fw.AddFile(path); err != nil {
		_ = fw.Stop()
		return nil, err
	}
	reload := ReloadHandler(r, path, logger)
	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		err := reload(events)
		for _, observe := range observers {
			observe(err)
		}
		return err
	})
	if err := fw.Start(ctx); err != nil {
		_ = fw.Stop()
		return nil, err
	}
	return fw, nil
}
