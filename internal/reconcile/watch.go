package reconcile

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls onChange whenever the file at path is written, created or
// renamed. It watches the parent directory because the store replaces the
// file on every rewrite. The watcher stops when ctx is done.
func Watch(ctx context.Context, path string, onChange func(), logger Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir, name := filepath.Split(filepath.Clean(path))
	if dir == "" {
		dir = "."
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != name {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
					onChange()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Printf("[reconcile] watcher error: %v", err)
			}
		}
	}()
	return nil
}
