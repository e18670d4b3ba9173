package catalog

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/magnetoid/nisam-video-sub001/internal/storage"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher syncs the seed file into the store at startup and on every change.
type Watcher struct {
	path     string
	store    storage.CatalogStore
	log      *slog.Logger
	debounce time.Duration

	lastSum [sha256.Size]byte
}

// NewWatcher creates a Watcher for the seed file at path.
func NewWatcher(path string, store storage.CatalogStore, log *slog.Logger) *Watcher {
	return &Watcher{path: path, store: store, log: log, debounce: defaultDebounce}
}

// Reload syncs the file if its content changed since the last successful sync.
func (w *Watcher) Reload(ctx context.Context) error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	sum := sha256.Sum256(data)
	if sum == w.lastSum {
		return nil
	}
	seed, err := Parse(data)
	if err != nil {
		return err
	}
	res, err := Sync(ctx, w.store, seed)
	if err != nil {
		return err
	}
	w.lastSum = sum
	w.log.Info("channel seed synced", "path", w.path, "channels", res.Channels, "filters", res.Filters)
	return nil
}

// Run watches the file's directory, performs an initial Reload, and reloads
// on every change until ctx is cancelled. Editors that replace the file are handled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	dir, file := filepath.Dir(w.path), filepath.Base(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	if err := w.Reload(ctx); err != nil {
		w.log.Error("initial channel seed sync", "path", w.path, "error", err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("channel seed watcher", "error", err)
		case <-fire:
			fire = nil
			if err := w.Reload(ctx); err != nil {
				w.log.Error("channel seed reload", "path", w.path, "error", err)
			}
		}
	}
}
