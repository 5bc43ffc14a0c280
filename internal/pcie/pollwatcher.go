package pcie

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// defaultPollInterval is used when a RemoteResultConfig does not specify
// IntervalHint. gh and other hosted-API commands are rate-limited and
// network-latency-bound, so polling faster than this buys little and
// risks tripping API throttles — grounded on gpoll's default Poller
// interval and ghcache's revalidation cadence.
const defaultPollInterval = 20 * time.Second

// remoteCommandTimeout bounds a single RemoteResult command execution.
const remoteCommandTimeout = 45 * time.Second

// pollWatcher is the External-Poll Watcher: unlike every other panel kind,
// RemoteResult panels are refreshed on their own ticker rather than through
// the Cache Worker Pool's Deprecated/InFlight gate, since a hosted API
// command (gh pr view, gh issue list) has its own freshness cadence that
// is decoupled from local mutation/watcher activity entirely.
type pollWatcher struct {
	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	out      chan CacheUpdate
	logger   *slog.Logger
	throttle *subprocessThrottle
}

func newPollWatcher(logger *slog.Logger, throttle *subprocessThrottle) *pollWatcher {
	return &pollWatcher{
		cancels:  make(map[string]context.CancelFunc),
		out:      make(chan CacheUpdate, 32),
		logger:   logger,
		throttle: throttle,
	}
}

func (w *pollWatcher) updates() <-chan CacheUpdate { return w.out }

// register starts (or restarts) polling panelID per cfg. Calling register
// again for the same panel ID (e.g. after the panel's command changes)
// cancels the prior ticker first.
func (w *pollWatcher) register(ctx context.Context, panelID string, cfg RemoteResultConfig) {
	w.unregister(panelID)

	pollCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancels[panelID] = cancel
	w.mu.Unlock()

	interval := defaultPollInterval
	if cfg.IntervalHint > 0 {
		interval = time.Duration(cfg.IntervalHint) * time.Second
	}

	go w.loop(pollCtx, panelID, cfg, interval)
}

func (w *pollWatcher) unregister(panelID string) {
	w.mu.Lock()
	cancel, ok := w.cancels[panelID]
	delete(w.cancels, panelID)
	w.mu.Unlock()
	if ok {
		cancel()
	}
}

func (w *pollWatcher) loop(ctx context.Context, panelID string, cfg RemoteResultConfig, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastHash := ZeroHash
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update, newHash := w.poll(ctx, panelID, cfg, lastHash)
			lastHash = newHash
			select {
			case w.out <- update:
			default:
				healthCounters.watcherDrops.Add(1)
			}
		}
	}
}

func (w *pollWatcher) poll(ctx context.Context, panelID string, cfg RemoteResultConfig, lastHash Hash) (CacheUpdate, Hash) {
	runCtx, cancel := context.WithTimeout(ctx, remoteCommandTimeout)
	defer cancel()

	fields := strings.Fields(cfg.Command)
	if len(fields) == 0 || fields[0] != "gh" {
		healthCounters.refreshErrors.Add(1)
		content := fmt.Sprintf("(refusing to poll non-gh command %q)", cfg.Command)
		return CacheUpdate{Tag: UpdateContent, PanelID: panelID, NewContent: content, NewHash: HashContent(content)}, lastHash
	}

	if w.throttle != nil && !w.throttle.allow("gh") {
		if lastHash != ZeroHash {
			return CacheUpdate{Tag: UpdateUnchanged, PanelID: panelID}, lastHash
		}
		content := "(throttled: too many gh subprocess executions; will retry next poll)"
		return CacheUpdate{Tag: UpdateContent, PanelID: panelID, NewContent: content, NewHash: HashContent(content)}, HashContent(content)
	}

	cmd := exec.CommandContext(runCtx, fields[0], fields[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		healthCounters.refreshErrors.Add(1)
		w.logger.Warn("remote poll failed", "panel_id", panelID, "command", cfg.Command, "err", err)
		content := fmt.Sprintf("(poll failed: %v)\n%s", err, out.String())
		hash := HashContent(content)
		if hash == lastHash {
			return CacheUpdate{Tag: UpdateUnchanged, PanelID: panelID}, lastHash
		}
		return CacheUpdate{Tag: UpdateContent, PanelID: panelID, NewContent: content, NewHash: hash}, hash
	}

	content := out.String()
	hash := HashContent(content)
	if hash == lastHash {
		return CacheUpdate{Tag: UpdateUnchanged, PanelID: panelID}, lastHash
	}
	return CacheUpdate{
		Tag:        UpdateContent,
		PanelID:    panelID,
		NewContent: content,
		NewHash:    hash,
		TokenCount: estimateTokens(content),
	}, hash
}
