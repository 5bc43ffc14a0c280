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

// refDebounce mirrors fsDebounce: a branch switch touches HEAD and possibly
// several files under refs/ in quick succession, and should surface as one
// WatcherGitRefsChanged signal, not a burst.
const refDebounce = 100 * time.Millisecond

// gitRefWatcher watches .git's own metadata (HEAD, refs/heads, refs/tags,
// refs/remotes, the index) in isolation from the rest of the working tree.
// Keeping this watch set narrow and separate from fsWatcher is what lets
// the GitStatus refresh routine rewrite .git/index (git plumbing does this
// on every status computation in some code paths) without that write
// re-arming a generic "working tree changed" watch and looping forever.
type gitRefWatcher struct {
	gitDir string
	out    chan WatcherEvent
	logger *slog.Logger
}

func newGitRefWatcher(gitDir string, logger *slog.Logger) *gitRefWatcher {
	return &gitRefWatcher{gitDir: gitDir, out: make(chan WatcherEvent, 64), logger: logger}
}

func (w *gitRefWatcher) events() <-chan WatcherEvent { return w.out }

func (w *gitRefWatcher) run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.gitDir); err != nil {
		return err
	}
	for _, sub := range []string{"refs/heads", "refs/tags", "refs/remotes"} {
		walkAndWatchRefs(watcher, filepath.Join(w.gitDir, sub), w.logger)
	}

	var debounceTimer *time.Timer
	fire := func() {
		select {
		case w.out <- WatcherEvent{Tag: WatcherGitRefsChanged}:
		default:
			healthCounters.watcherDrops.Add(1)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if shouldIgnoreRefEvent(event) {
				continue
			}
			// A new subdirectory under refs/heads (hierarchical branch
			// names, e.g. feature/login) needs its own watch before the
			// next event inside it can be seen.
			if event.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(refDebounce, fire)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("git ref watcher error", "err", err)
		}
	}
}

func walkAndWatchRefs(watcher *fsnotify.Watcher, dir string, logger *slog.Logger) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return
	}
	err = filepath.Walk(dir, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // skip unreadable entries
		}
		if fi.IsDir() {
			if addErr := watcher.Add(path); addErr != nil {
				logger.Warn("failed to watch refs directory", "dir", path, "err", addErr)
			}
		}
		return nil
	})
	if err != nil {
		logger.Warn("failed to walk refs directory", "dir", dir, "err", err)
	}
}

func shouldIgnoreRefEvent(event fsnotify.Event) bool {
	base := filepath.Base(event.Name)
	path := event.Name

	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return true
	}
	if strings.HasSuffix(base, ".lock") {
		return true
	}
	if strings.Contains(path, "/logs/") {
		return true
	}
	if base == "config" {
		return true
	}
	return false
}
