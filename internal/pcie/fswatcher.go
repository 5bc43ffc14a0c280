package pcie

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// fsDebounce coalesces bursts of filesystem events (an editor save is
// typically a truncate + several writes) into a single WatcherEvent, rather
// than a broadcast-on-settle update per raw fsnotify event.
const fsDebounce = 100 * time.Millisecond

// fsWatcher watches the repository working tree (excluding .git, which
// belongs to gitRefWatcher) and emits a debounced WatcherFileChanged or
// WatcherDirChanged event per settled burst. Watching .git here too would
// let a `git status` or `git diff` GitResult refresh — which itself
// touches no working-tree files but may cause git to rewrite .git/index —
// re-trigger its own watcher; routing all .git/** events through
// gitRefWatcher's narrower ref-only watch set is what breaks that loop.
type fsWatcher struct {
	root   string
	out    chan WatcherEvent
	logger *slog.Logger
}

func newFsWatcher(root string, logger *slog.Logger) *fsWatcher {
	return &fsWatcher{root: root, out: make(chan WatcherEvent, 256), logger: logger}
}

func (w *fsWatcher) events() <-chan WatcherEvent { return w.out }

// run adds a watch on every directory under root (skipping .git, vendor-
// style teacher convention adapted to skip any directory named ".git")
// and debounces events into w.out until ctx is cancelled.
func (w *fsWatcher) run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := addTreeWatches(watcher, w.root, w.logger); err != nil {
		return err
	}

	var debounceTimer *time.Timer
	var pending WatcherEvent
	pendingSet := false

	flush := func() {
		if !pendingSet {
			return
		}
		select {
		case w.out <- pending:
		default:
			healthCounters.watcherDrops.Add(1)
		}
		pendingSet = false
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if shouldIgnoreFsEvent(event) {
				continue
			}

			if event.Op&fsnotify.Create != 0 {
				if isDir(event.Name) {
					_ = watcher.Add(event.Name)
				}
			}

			tag := WatcherFileChanged
			if isDir(event.Name) {
				tag = WatcherDirChanged
			}
			pending = WatcherEvent{Tag: tag, Path: event.Name}
			pendingSet = true

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(fsDebounce, flush)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("fs watcher error", "err", err)
		}
	}
}

func addTreeWatches(watcher *fsnotify.Watcher, root string, logger *slog.Logger) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // skip unreadable entries
		}
		if !info.IsDir() {
			return nil
		}
		if filepath.Base(path) == ".git" {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			logger.Warn("failed to watch directory", "dir", path, "err", err)
		}
		return nil
	})
}

func shouldIgnoreFsEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return true
	}
	base := filepath.Base(event.Name)
	if strings.HasSuffix(base, ".swp") || strings.HasSuffix(base, "~") {
		return true
	}
	if strings.Contains(filepath.ToSlash(event.Name), "/.git/") {
		return true
	}
	return false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
