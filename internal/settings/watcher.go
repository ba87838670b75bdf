package settings

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the settings whenever the file changes on disk, until ctx is
// cancelled. The parent directory is watched so atomic rename-over writes
// are seen. Bursts of events are debounced.
func (s *Store) Watch(ctx context.Context) error {
	abs, err := s.fs.Abs(s.name)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings: watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("settings: watch %s: %w", filepath.Dir(abs), err)
	}
	s.logger.Info("settings watcher: started", slog.String("path", abs))

	var reloadTimer *time.Timer
	var reloadCh <-chan time.Time

	scheduleReload := func() {
		if reloadTimer == nil {
			reloadTimer = time.NewTimer(100 * time.Millisecond)
			reloadCh = reloadTimer.C
		} else {
			reloadTimer.Reset(100 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			s.logger.Info("settings watcher: stopped")
			return nil

		case <-reloadCh:
			if err := s.Reload(); err != nil {
				s.logger.Warn("settings watcher: reload failed", slog.String("error", err.Error()))
				continue
			}
			s.logger.Debug("settings watcher: reloaded", slog.String("mode", s.Mode()))

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0 {
				scheduleReload()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("settings watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
