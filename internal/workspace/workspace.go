// Package workspace hosts one Panel Cache and Invalidation Engine per
// repository, the multi-workspace analogue of repomanager's per-session
// git-repo lifecycle management: periodic background fetches keep a
// workspace's remote-tracking refs current, and idle workspaces are closed
// to bound resident memory when a host process is serving many repos at
// once (e.g. a SaaS-style deployment backing several users' sessions).
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/rybkr/contextpilot/internal/pcie"
)

// Config holds settings for a Host.
type Config struct {
	FetchInterval time.Duration
	FetchTimeout  time.Duration
	InactivityTTL time.Duration
	Logger        *slog.Logger
	Rulebook      *pcie.Rulebook
}

func (c *Config) defaults() {
	if c.FetchInterval <= 0 {
		c.FetchInterval = 30 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 2 * time.Minute
	}
	if c.InactivityTTL <= 0 {
		c.InactivityTTL = 24 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ManagedWorkspace is one hosted repository: its PCIE Engine plus the
// bookkeeping a Host needs to fetch and evict it.
type ManagedWorkspace struct {
	mu sync.RWMutex

	ID         string
	RepoRoot   string
	Engine     *pcie.Engine
	CreatedAt  time.Time
	LastAccess time.Time
	LastFetch  time.Time
}

// Touch records activity, resetting the workspace's idle-eviction clock.
func (w *ManagedWorkspace) Touch() {
	w.mu.Lock()
	w.LastAccess = time.Now()
	w.mu.Unlock()
}

func (w *ManagedWorkspace) idleSince() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.LastAccess
}

// WorkspaceInfo is a read-only snapshot for the introspection surface.
type WorkspaceInfo struct {
	ID         string
	RepoRoot   string
	CreatedAt  time.Time
	LastAccess time.Time
	LastFetch  time.Time
}

// Host manages the set of currently open workspaces, analogous to
// repomanager.RepoManager but one layer up: each workspace owns a full
// PCIE Engine rather than a bare *gitcore.Repository.
type Host struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.RWMutex
	workspaces map[string]*ManagedWorkspace

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Host and starts its background fetch and eviction loops.
func New(cfg Config) *Host {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())

	h := &Host{
		cfg:        cfg,
		logger:     cfg.Logger,
		workspaces: make(map[string]*ManagedWorkspace),
		ctx:        ctx,
		cancel:     cancel,
	}

	h.wg.Add(2)
	go h.fetchLoop()
	go h.evictionLoop()

	return h
}

// Open opens repoRoot (which must already exist on disk as a git
// repository — cloning a remote is the out-of-scope tool-dispatch
// collaborator's job, not PCIE's) as a new workspace under id. Opening an
// id that is already open returns the existing workspace.
func (h *Host) Open(id, repoRoot string) (*ManagedWorkspace, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if w, ok := h.workspaces[id]; ok {
		w.Touch()
		return w, nil
	}

	engine, err := pcie.NewEngine(h.ctx, repoRoot, pcie.EngineOptions{
		Logger:   h.logger.With("workspace_id", id),
		Rulebook: h.cfg.Rulebook,
	})
	if err != nil {
		return nil, fmt.Errorf("workspace: opening %s: %w", repoRoot, err)
	}

	now := time.Now()
	w := &ManagedWorkspace{
		ID:         id,
		RepoRoot:   repoRoot,
		Engine:     engine,
		CreatedAt:  now,
		LastAccess: now,
	}
	h.workspaces[id] = w
	return w, nil
}

// Get returns the workspace for id, if open.
func (h *Host) Get(id string) (*ManagedWorkspace, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	w, ok := h.workspaces[id]
	return w, ok
}

// Close closes and evicts the workspace for id, if open.
func (h *Host) Close(id string) {
	h.mu.Lock()
	w, ok := h.workspaces[id]
	delete(h.workspaces, id)
	h.mu.Unlock()

	if ok {
		w.Engine.Close()
	}
}

// List returns a snapshot of every currently open workspace.
func (h *Host) List() []WorkspaceInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]WorkspaceInfo, 0, len(h.workspaces))
	for _, w := range h.workspaces {
		w.mu.RLock()
		out = append(out, WorkspaceInfo{
			ID: w.ID, RepoRoot: w.RepoRoot,
			CreatedAt: w.CreatedAt, LastAccess: w.LastAccess, LastFetch: w.LastFetch,
		})
		w.mu.RUnlock()
	}
	return out
}

// Shutdown stops the background loops and closes every open workspace.
func (h *Host) Shutdown() {
	h.cancel()
	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, w := range h.workspaces {
		w.Engine.Close()
		delete(h.workspaces, id)
	}
}

// fetchLoop periodically fetches each open workspace's remote and, when the
// fetch actually moved a ref, reports it to the workspace's Engine as a
// MutationGitExecuted event — the rulebook then deprecates GitResult panels
// exactly as it would for a user-issued `git fetch`, since the origin's
// refs/remotes/* entries just changed under them.
func (h *Host) fetchLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.FetchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.fetchAll()
		}
	}
}

func (h *Host) fetchAll() {
	h.mu.RLock()
	workspaces := make([]*ManagedWorkspace, 0, len(h.workspaces))
	for _, w := range h.workspaces {
		workspaces = append(workspaces, w)
	}
	h.mu.RUnlock()

	for _, w := range workspaces {
		moved, err := fetchRepo(h.ctx, w.RepoRoot, h.cfg.FetchTimeout)
		if err != nil {
			h.logger.Warn("background fetch failed", "workspace_id", w.ID, "err", err)
			continue
		}
		w.mu.Lock()
		w.LastFetch = time.Now()
		w.mu.Unlock()

		if moved {
			w.Engine.MutationNotify(pcie.MutationEvent{
				Tag:         pcie.MutationGitExecuted,
				CommandText: "git fetch",
			})
		}
	}
}

// fetchRepo runs `git fetch --prune` in repoRoot and reports whether any
// ref moved, by comparing `git rev-parse --all` before and after —
// grounded on repomanager's fetchRepo/fetchAll pair, adapted to report a
// boolean instead of eagerly reloading a held *gitcore.Repository (PCIE
// panels reopen the repository on every refresh, so there is nothing here
// to swap a pointer on).
func fetchRepo(ctx context.Context, repoRoot string, timeout time.Duration) (bool, error) {
	before, err := revParseAll(ctx, repoRoot, timeout)
	if err != nil {
		return false, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(fetchCtx, "git", "fetch", "--prune", "--quiet")
	cmd.Dir = repoRoot
	if err := cmd.Run(); err != nil {
		return false, fmt.Errorf("git fetch: %w", err)
	}

	after, err := revParseAll(ctx, repoRoot, timeout)
	if err != nil {
		return false, err
	}
	return before != after, nil
}

func revParseAll(ctx context.Context, repoRoot string, timeout time.Duration) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(runCtx, "git", "rev-parse", "--all")
	cmd.Dir = repoRoot
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse --all: %w", err)
	}
	return string(out), nil
}

// evictionLoop periodically closes workspaces that have had no activity
// (no Touch call, which Open of an existing id and every introspection
// request for the workspace make) for InactivityTTL.
func (h *Host) evictionLoop() {
	defer h.wg.Done()

	interval := h.cfg.InactivityTTL / 10
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.evictInactive()
		}
	}
}

func (h *Host) evictInactive() {
	cutoff := time.Now().Add(-h.cfg.InactivityTTL)

	h.mu.Lock()
	var toEvict []string
	for id, w := range h.workspaces {
		if w.idleSince().Before(cutoff) {
			toEvict = append(toEvict, id)
		}
	}
	for _, id := range toEvict {
		h.workspaces[id].Engine.Close()
		delete(h.workspaces, id)
	}
	h.mu.Unlock()

	for _, id := range toEvict {
		h.logger.Info("evicted idle workspace", "workspace_id", id)
	}
}
