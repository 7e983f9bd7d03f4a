package backends

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haidra-org/horde-model-reference/internal/models"
	"github.com/haidra-org/horde-model-reference/internal/paths"
)

const watchDebounce = 200 * time.Millisecond

// Watch marks categories stale as soon as their v2 or legacy file changes
// on disk, until ctx is cancelled. Bursts of events for one category (an
// atomic replace emits several) are coalesced into a single MarkStale.
func Watch(ctx context.Context, layout paths.Layout, b Backend, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, dir := range []string{layout.Base, layout.LegacyDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := w.Add(dir); err != nil {
			return err
		}
	}
	files := watchedFiles(layout)
	logger.Info("Watching reference files", "base_path", layout.Base, "files", len(files))

	var (
		mu     sync.Mutex
		timers = make(map[models.Category]*time.Timer)
	)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	schedule := func(c models.Category) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[c]; ok {
			t.Reset(watchDebounce)
			return
		}
		timers[c] = time.AfterFunc(watchDebounce, func() {
			mu.Lock()
			delete(timers, c)
			mu.Unlock()
			logger.Debug("Reference file changed", "category", c)
			b.MarkStale(c)
		})
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopped watching reference files")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if c, ok := files[filepath.Clean(ev.Name)]; ok {
				schedule(c)
			}

		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("File watcher error", "error", werr)
		}
	}
}

// watchedFiles maps every v2 and legacy document path to its category.
func watchedFiles(layout paths.Layout) map[string]models.Category {
	out := make(map[string]models.Category, 2*len(models.AllCategories))
	for _, c := range models.AllCategories {
		out[filepath.Clean(layout.CategoryFile(c))] = c
		out[filepath.Clean(layout.LegacyFile(c))] = c
	}
	return out
}
