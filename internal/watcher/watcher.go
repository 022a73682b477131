// Package watcher reports files that appear in a directory tree.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const tmpSuffix = ".tmp"

// Watcher watches a directory tree for new or rewritten files.
type Watcher struct {
	root     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger

	// pending maps a path to its last event time.
	pending map[string]time.Time
}

// New creates a watcher for root. A file is reported once no event has been
// seen for it during debounce, so it has been fully written.
func New(root string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	return &Watcher{
		root:     root,
		watcher:  w,
		debounce: debounce,
		logger:   logger,
		pending:  make(map[string]time.Time),
	}, nil
}

// Run calls handle for every settled file until ctx is done. Temporary
// files ending in .tmp are ignored. The watcher is closed when Run returns.
func (w *Watcher) Run(ctx context.Context, handle func(path string)) error {
	defer w.watcher.Close()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	tick := w.debounce / 5
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	w.logger.Info("watching directory", "path", w.root)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)

		case now := <-ticker.C:
			for path, seen := range w.pending {
				if now.Sub(seen) < w.debounce {
					continue
				}
				delete(w.pending, path)
				if _, err := os.Stat(path); err != nil {
					continue
				}
				handle(path)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}

	if info.IsDir() {
		if event.Has(fsnotify.Create) {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
		}
		return
	}

	if strings.HasSuffix(event.Name, tmpSuffix) {
		return
	}
	w.pending[event.Name] = time.Now()
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
		return nil
	})
}
