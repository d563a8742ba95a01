package config

import (
	"context"
	"log/slog"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadSettle is how long the file must be quiet before it is reloaded.
// Editors and config management tools often truncate then write, which
// surfaces as several events with a half-written file in between.
const reloadSettle = 200 * time.Millisecond

// Watch monitors path and calls onChange with the newly loaded Config when a
// setting that can be applied at runtime changes: log_level, ioc.reduce,
// analysis and alarms. Changes to anything else are logged as needing a
// restart. It runs until ctx is cancelled.
//
// If a reload fails (e.g., invalid YAML), the error is logged and the
// previous config remains active; onChange is not called.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	// A file that does not load yet still gets watched; the first valid
	// version is then always applied.
	prev, err := Load(path)
	if err != nil {
		slog.Warn("config: current file does not load", "path", path, "err", err)
	}

	slog.Info("config: watching for changes", "path", path, "settle", reloadSettle)

	var settled <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save via rename, so Create counts as a write.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			settled = time.After(reloadSettle)

		case <-settled:
			settled = nil
			cfg, err := Load(path)
			// Re-add the file in case an atomic save replaced the inode.
			_ = watcher.Add(path)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config",
					"path", path, "err", err)
				continue
			}

			if prev != nil {
				if RestartRequired(prev, cfg) {
					slog.Warn("config: some changes take effect only after restart", "path", path)
				}
				if !HotChanged(prev, cfg) {
					slog.Debug("config: no runtime-applicable change", "path", path)
					prev = cfg
					continue
				}
			}

			slog.Info("config: reloaded", "path", path)
			prev = cfg
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

// HotChanged reports whether next differs from prev in a setting that is
// applied without a restart.
func HotChanged(prev, next *Config) bool {
	return prev.Level() != next.Level() ||
		prev.IOC.Reduce != next.IOC.Reduce ||
		prev.Analysis != next.Analysis ||
		!reflect.DeepEqual(prev.Alarms, next.Alarms)
}

// RestartRequired reports whether next changes listeners, PV naming, dataset
// layout, initial ROI values or directory watches.
func RestartRequired(prev, next *Config) bool {
	a, b := prev.IOC, next.IOC
	a.Reduce, b.Reduce = "", ""
	return a != b || prev.Server != next.Server || prev.Watch != next.Watch
}
