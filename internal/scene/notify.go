package scene

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/dcompose/workbench/internal/manifest"

	"github.com/fsnotify/fsnotify"
)

// Notify calls fn with the scene name whenever a scene directory is created,
// removed or its manifest changes. It blocks until ctx is done.
func (s *Store) Notify(ctx context.Context, fn func(scene string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating scenes watcher: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()

	if err := w.Add(s.root); err != nil {
		return fmt.Errorf("watching %s: %w", s.root, err)
	}
	scenes, err := s.List()
	if err != nil {
		return err
	}
	for _, sc := range scenes {
		if err := w.Add(sc.Path); err != nil {
			slog.WarnContext(ctx, "can't watch scene", "scene", sc.Name, "err", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "scenes watcher", "err", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name, isDir := s.sceneOf(ev.Name)
			if name == "" {
				continue
			}
			if isDir && ev.Has(fsnotify.Create) {
				if err := w.Add(ev.Name); err != nil {
					slog.DebugContext(ctx, "can't watch scene", "scene", name, "err", err)
				}
			}
			if isDir || filepath.Base(ev.Name) == manifest.FileName {
				fn(name)
			}
		}
	}
}

// sceneOf maps an event path to its scene name; isDir is true when path is
// the scene directory itself.
func (s *Store) sceneOf(path string) (name string, isDir bool) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if strings.HasPrefix(parts[0], ".") {
		return "", false
	}
	return parts[0], len(parts) == 1
}
