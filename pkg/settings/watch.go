package settings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads the snapshot whenever the settings file changes on disk until
// ctx is canceled. The parent directory is watched because saves replace the
// file through a rename.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			s.log.Warn("Failed to close settings watcher", "error", err)
		}
	}()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch settings directory: %w", err)
	}

	s.log.Debug("Watching settings file", "path", s.path)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = time.After(reloadDebounce)
			}
		case <-pending:
			pending = nil
			if err := s.Reload(); err != nil {
				s.log.Error("Failed to reload settings", "error", err)
				continue
			}
			s.log.Info("Settings reloaded", "path", s.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Error("Settings watcher error", "error", err)
		}
	}
}
