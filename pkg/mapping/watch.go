package mapping

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch loads path and reloads it whenever it changes, until ctx is done.
// The parent directory is watched so editors that replace the file on
// save are handled.
func (s *Store) Watch(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve mapping path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	if err := s.LoadFile(abs); err != nil {
		// Keep waiting; the file may appear later
		s.logger.Warn("initial mapping load failed", "path", abs, "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := s.LoadFile(abs); err != nil {
				s.logger.Warn("mapping reload failed", "path", abs, "error", err)
				continue
			}
			s.logger.Info("mapping reloaded", "path", abs, "version", s.Version())

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("mapping watcher error", "error", err)
		}
	}
}
