package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadSettle is how long the config file must stay quiet after a write
// before it is reloaded.
const ReloadSettle = 50 * time.Millisecond

// Watch reloads the config at path whenever it changes and passes the result
// to onChange. A config that fails to load or validate is logged and
// skipped, leaving the caller on its previous config. Watch runs until ctx
// is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	return WatchFiles(ctx, []string{path}, ReloadSettle, func(string) {
		cfg, err := Load(path)
		if err != nil {
			slog.Error("config: reload failed, keeping previous config", "path", path, "err", err)
			return
		}
		slog.Info("config: reloaded", "path", path)
		onChange(cfg)
	})
}

// WatchFiles calls onChange once per changed path after writes to it have
// been quiet for settle. Exporters write large CSVs in several chunks, so a
// single export yields one callback instead of one per chunk.
//
// The parent directories are watched rather than the files, so a file that
// is replaced by rename or does not exist yet is still picked up.
// WatchFiles runs until ctx is cancelled.
func WatchFiles(ctx context.Context, paths []string, settle time.Duration, onChange func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	wanted := make(map[string]bool, len(paths))
	for _, p := range paths {
		wanted[filepath.Clean(p)] = true
	}
	for dir := range dirsOf(wanted) {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("config: watch %s: %w", dir, err)
		}
	}
	slog.Info("config: watching for changes", "paths", paths, "settle", settle)

	pending := make(map[string]bool)
	quiet := time.NewTimer(time.Hour)
	quiet.Stop()
	defer quiet.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Clean(event.Name)
			if !wanted[name] || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			pending[name] = true
			quiet.Reset(settle)

		case <-quiet.C:
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			sort.Strings(changed)
			clear(pending)
			for _, p := range changed {
				onChange(p)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

func dirsOf(paths map[string]bool) map[string]bool {
	dirs := make(map[string]bool)
	for p := range paths {
		dirs[filepath.Dir(p)] = true
	}
	return dirs
}
