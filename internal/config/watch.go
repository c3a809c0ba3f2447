package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"codexkit/internal/logging"
)

// Watch reloads the config file whenever it changes and invokes onChange
// with the fresh merge. Reload errors are logged and skipped; the last
// good config stays live. Returns when ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace files, which drops a watch on
	// the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				logging.ConfigWarn("reload of %s failed: %v", path, err)
				continue
			}
			logging.Config("reloaded %s", path)
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.ConfigWarn("watcher error: %v", err)
		}
	}
}
