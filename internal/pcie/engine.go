package pcie

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rybkr/contextpilot/internal/gitcore"
)

// terminalSettle is how long a TerminalPane panel waits after the last
// MutationTerminalSent before it is considered gating-eligible for refresh.
// A pane that just received keystrokes is almost certainly still producing
// output; refreshing immediately would cache a half-written prompt.
const terminalSettle = 300 * time.Millisecond

// Timer-sweep polling intervals, one per kind that is eligible for periodic
// refresh independent of an explicit deprecation. File and GitResult panels
// are deliberately absent: they refresh only on first load, on an explicit
// mutation, or (File) a filesystem-watcher hit — polling either on a timer
// would mean either re-reading untouched files or re-shelling a git
// subcommand for no new information.
const (
	globPollInterval      = 30 * time.Second
	grepPollInterval      = 30 * time.Second
	terminalPollInterval  = 1 * time.Second
	gitStatusPollInterval = 5 * time.Second
	fixedDocPollInterval  = 60 * time.Second
)

// pollInterval returns the timer-sweep interval for kind and whether kind
// participates in the sweep at all.
func pollInterval(kind Kind) (time.Duration, bool) {
	switch kind {
	case KindGlob:
		return globPollInterval, true
	case KindGrep:
		return grepPollInterval, true
	case KindTerminalPane:
		return terminalPollInterval, true
	case KindGitStatus:
		return gitStatusPollInterval, true
	case KindFixed:
		return fixedDocPollInterval, true
	default:
		return 0, false
	}
}

// PanelSnapshot is the read-only view of a Panel exposed to callers outside
// the engine's single control-flow thread (the introspection HTTP/WS
// surface, tests). It is a value copy, safe to hold and compare after the
// engine has moved on to a later tick.
type PanelSnapshot struct {
	ID            string
	Kind          Kind
	HasContent    bool
	CachedContent string
	ContentHash   Hash
	Deprecated    bool
	InFlight      bool
	TokenCount    int
	Selected      bool
}

// Engine is one Panel Cache and Invalidation Engine instance: the unit of
// hosting is one Engine per repository/workspace (see internal/workspace).
// Every exported method except Snapshot and Close is intended to
// be called from a single host-owned goroutine — the "one control-flow
// thread" the Panel Table's single-writer discipline depends on. Snapshot
// is the one read path safe to call concurrently with that thread, guarded
// by mu.
type Engine struct {
	mu sync.Mutex // guards table reads from Snapshot only; Tick/MutationNotify/etc. are single-threaded by calling convention and also take mu to stay consistent with concurrent Snapshot callers.

	table    *table
	rulebook *Rulebook
	pool     *pool
	cache    *lruCache[string]
	throttle *subprocessThrottle
	logger   *slog.Logger

	repoRoot string
	gitDir   string

	fsw *fsWatcher
	grw *gitRefWatcher
	pw  *pollWatcher

	cancel  context.CancelFunc
	watcher *errgroup.Group

	terminalTimers map[string]*time.Timer
}

// EngineOptions configures a new Engine. Logger and Rulebook default to
// slog.Default() and DefaultRulebook() respectively when left zero.
type EngineOptions struct {
	Logger            *slog.Logger
	Rulebook          *Rulebook
	ReadPaneTail      func(handle string, tailLines int) (string, error)
	SubprocessRate    int
	SubprocessBurst   int
	SubprocessWindow  time.Duration
}

// NewEngine opens repoRoot as a git repository and starts its watchers. The
// returned Engine owns background goroutines; callers must call Close when
// done with the workspace.
func NewEngine(ctx context.Context, repoRoot string, opts EngineOptions) (*Engine, error) {
	repo, err := gitcore.NewRepository(repoRoot)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rb := opts.Rulebook
	if rb == nil {
		rb = DefaultRulebook()
	}
	rate, burst, window := opts.SubprocessRate, opts.SubprocessBurst, opts.SubprocessWindow
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = 5
	}
	if window <= 0 {
		window = time.Second
	}

	engineCtx, cancel := context.WithCancel(ctx)
	watcherGroup, watcherCtx := errgroup.WithContext(engineCtx)

	refreshers := map[Kind]Refresher{
		KindFile:         fileRefresher{},
		KindTree:         treeRefresher{},
		KindGlob:         globRefresher{},
		KindGrep:         grepRefresher{},
		KindTerminalPane: terminalRefresher{readPaneTail: opts.ReadPaneTail},
		KindGitStatus:    gitStatusRefresher{},
		KindFixed:        fixedDocRefresher{},
	}

	cmdCache := newLRUCache[string](0)
	throttle := newSubprocessThrottle(rate, burst, window)
	refreshers[KindGitResult] = gitResultRefresher{cache: cmdCache, throttle: throttle}

	workDir := repo.WorkDir()

	e := &Engine{
		table:          newTable(),
		rulebook:       rb,
		pool:           newPool(logger, refreshers),
		cache:          cmdCache,
		throttle:       throttle,
		logger:         logger,
		repoRoot:       workDir,
		gitDir:         repo.GitDir(),
		fsw:            newFsWatcher(workDir, logger),
		grw:            newGitRefWatcher(repo.GitDir(), logger),
		pw:             newPollWatcher(logger, throttle),
		cancel:         cancel,
		watcher:        watcherGroup,
		terminalTimers: make(map[string]*time.Timer),
	}

	// Both watchers share watcherCtx (errgroup.WithContext's derived
	// context): if either exits with an error, the other is canceled too,
	// rather than leaving a half-dead watcher pair running silently.
	e.watcher.Go(func() error {
		if err := e.fsw.run(watcherCtx); err != nil {
			e.logger.Error("filesystem watcher exited", "err", err)
			return err
		}
		return nil
	})
	e.watcher.Go(func() error {
		if err := e.grw.run(watcherCtx); err != nil {
			e.logger.Error("git ref watcher exited", "err", err)
			return err
		}
		return nil
	})

	return e, nil
}

// Close stops all background watchers and the subprocess throttle's
// cleanup goroutine. It does not wait for in-flight pool refreshes; a
// refresh racing Close posts its update to a channel nobody drains again,
// which is safe (the update is simply dropped) since the workspace that
// owned it is gone.
func (e *Engine) Close() {
	e.cancel()
	e.throttle.Close()
	e.mu.Lock()
	for _, t := range e.terminalTimers {
		t.Stop()
	}
	for _, p := range e.table.byKind(KindRemoteResult) {
		e.pw.unregister(p.ID)
	}
	e.mu.Unlock()
	_ = e.watcher.Wait()
}

// RepoRoot returns the working-tree root the engine resolved at construction
// time, regardless of whether NewEngine was given a working-tree path or a
// .git directory path. Callers building panel configs (e.g. a CLI reading
// GIT_DIR) should use this rather than re-deriving the root themselves.
func (e *Engine) RepoRoot() string {
	return e.repoRoot
}

// CreatePanel registers a new panel of the given kind and returns its ID.
// A fresh panel starts Deprecated so its first Tick submits it for refresh.
func (e *Engine) CreatePanel(kind Kind, cfg KindConfig) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.table.allocID(kind.String())
	p := &Panel{ID: id, Kind: kind, Config: cfg, Deprecated: true}
	e.table.insert(p)

	if kind == KindRemoteResult && cfg.RemoteResult != nil {
		e.pw.register(context.Background(), id, *cfg.RemoteResult)
	}
	return id
}

// ClosePanel removes a panel and releases any resources (poll ticker,
// pending terminal-settle timer) associated with it.
func (e *Engine) ClosePanel(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.terminalTimers[id]; ok {
		t.Stop()
		delete(e.terminalTimers, id)
	}
	e.pw.unregister(id)
	e.table.remove(id)
}

// Select marks a panel as pinned for the purposes of eviction/priority
// decisions made by the host (e.g. a UI-visible panel refreshes ahead of
// an unselected one of equal eligibility).
func (e *Engine) Select(id string) { e.setSelected(id, true) }

// Deselect clears Select's pin.
func (e *Engine) Deselect(id string) { e.setSelected(id, false) }

func (e *Engine) setSelected(id string, selected bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.table.get(id); ok {
		p.Selected = selected
	}
}

// MutationNotify consumes a tool-dispatch mutation event and applies the
// Invalidation Rulebook (or, for file mutations, the direct path-based
// predicates) to the Panel Table. This is the eager half of invalidation;
// the filesystem and git-ref watchers are the fallback that catches changes
// no tool call reported (an external editor, a human at a second terminal).
func (e *Engine) MutationNotify(ev MutationEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.Tag {
	case MutationFileWritten, MutationFileEdited, MutationFileCreated, MutationFileDeleted:
		ApplyFileMutation(e.table, ev.Tag, ev.Path)
	case MutationGitExecuted:
		e.rulebook.ApplyGitMutation(e.table, ev.CommandText)
	case MutationRemoteExecuted:
		e.rulebook.ApplyGhMutation(e.table, ev.CommandText)
	case MutationTerminalSent:
		e.armTerminalSettle(ev.PaneHandle)
	}
}

// armTerminalSettle (re)starts the debounce timer that deprecates a
// terminal pane terminalSettle after its last keystroke, rather than on
// every keystroke.
func (e *Engine) armTerminalSettle(paneHandle string) {
	var panelID string
	for _, p := range e.table.byKind(KindTerminalPane) {
		if p.Config.TerminalPane != nil && p.Config.TerminalPane.PaneHandle == paneHandle {
			panelID = p.ID
			break
		}
	}
	if panelID == "" {
		return
	}

	if t, ok := e.terminalTimers[panelID]; ok {
		t.Stop()
	}
	e.terminalTimers[panelID] = time.AfterFunc(terminalSettle, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if p, ok := e.table.get(panelID); ok {
			p.Deprecated = true
		}
		delete(e.terminalTimers, panelID)
	})
}

// Tick drives one iteration of the engine's main loop: drain watcher
// events, drain completed pool refreshes and poll-watcher updates into the
// table, then submit every eligible deprecated, non-in-flight panel to the
// worker pool. The host is expected to call Tick in a loop (e.g. on every
// incoming host event, or on a short idle timer); Tick never blocks
// waiting for a refresh to complete.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.drainFsEvents()
	e.drainRefEvents()
	e.applyUpdates(e.pool.drain())
	e.applyPollUpdates()
	e.submitEligible(ctx)
}

func (e *Engine) drainFsEvents() {
	for {
		select {
		case ev := <-e.fsw.events():
			e.applyFsEvent(ev)
		default:
			return
		}
	}
}

func (e *Engine) applyFsEvent(ev WatcherEvent) {
	rel, err := filepath.Rel(e.repoRoot, ev.Path)
	if err != nil {
		rel = ev.Path
	}
	rel = filepath.ToSlash(rel)

	for _, p := range e.table.all() {
		switch p.Kind {
		case KindFile:
			if p.Config.File != nil && p.Config.File.Path == ev.Path {
				p.Deprecated = true
			}
		case KindTree:
			if ev.Tag == WatcherDirChanged {
				p.Deprecated = true
			}
		case KindGlob:
			if p.Config.Glob != nil && strings.HasPrefix(rel, filepath.ToSlash(p.Config.Glob.Base)) {
				p.Deprecated = true
			}
		case KindGrep:
			if p.Config.Grep != nil && strings.HasPrefix(rel, filepath.ToSlash(p.Config.Grep.Path)) {
				p.Deprecated = true
			}
		}
	}
}

func (e *Engine) drainRefEvents() {
	for {
		select {
		case ev := <-e.grw.events():
			_ = ev
			// Cached GitResult output was computed against the old .git
			// state; drop it so the deprecated panels below re-execute.
			e.cache.Clear()
			for _, p := range e.table.all() {
				if p.Kind == KindGitStatus || p.Kind == KindGitResult {
					p.Deprecated = true
				}
			}
		default:
			return
		}
	}
}

func (e *Engine) applyPollUpdates() {
	for {
		select {
		case u := <-e.pw.updates():
			e.applyUpdate(u)
		default:
			return
		}
	}
}

func (e *Engine) applyUpdates(updates []CacheUpdate) {
	for _, u := range updates {
		e.applyUpdate(u)
	}
}

// applyUpdate is the single place a CacheUpdate is folded into the table,
// shared by pool-driven refreshes and poll-watcher-driven ones (Invariant
// 2: every request produces exactly one fold).
func (e *Engine) applyUpdate(u CacheUpdate) {
	p, ok := e.table.get(u.PanelID)
	if !ok {
		return // panel closed while its refresh was in flight.
	}

	p.InFlight = false
	p.LastRefreshMs = nowMs()

	switch u.Tag {
	case UpdateContent:
		p.CachedContent = u.NewContent
		p.ContentHash = u.NewHash
		p.HasContent = true
		p.TokenCount = u.TokenCount
		p.Deprecated = false
	case UpdateUnchanged:
		p.Deprecated = false
	case UpdateStatusOnly:
		p.Deprecated = false
	}
}

// submitEligible implements the timer-sweep eligibility decision:
// in_flight panels are skipped outright; a panel with no cached content yet
// or one already flagged Deprecated is always eligible; otherwise a
// kind-specific poll interval decides, gated by selection for every polled
// kind except TerminalPane and GitStatus, which poll regardless of
// selection. Eligible panels are handed to the pool, which may itself
// decline the request if every worker is busy — in that case the panel is
// simply left for the next tick rather than forced through.
func (e *Engine) submitEligible(ctx context.Context) {
	now := nowMs()
	for _, p := range e.table.all() {
		if p.Kind == KindRemoteResult {
			continue // refreshed exclusively by the poll watcher.
		}
		if p.InFlight {
			continue
		}
		if !e.pollEligible(p, now) {
			continue
		}

		p.InFlight = true
		if !e.pool.submit(ctx, CacheRequest{
			PanelID:     p.ID,
			Kind:        p.Kind,
			Config:      p.Config,
			CurrentHash: p.ContentHash,
			HasContent:  p.HasContent,
		}) {
			// Pool is at capacity; retry on a later tick instead of
			// blocking the engine's single control-flow thread waiting
			// for a worker to free up.
			p.InFlight = false
			continue
		}
		p.LastPolledMs = now
	}
}

// pollEligible applies the timer-sweep eligibility tree to a single panel.
func (e *Engine) pollEligible(p *Panel, now int64) bool {
	if !p.HasContent || p.Deprecated {
		return true
	}

	interval, ok := pollInterval(p.Kind)
	if !ok {
		return false
	}
	if now-p.LastPolledMs < interval.Milliseconds() {
		return false
	}
	if p.Kind == KindTerminalPane || p.Kind == KindGitStatus {
		return true
	}
	return p.Selected
}

// BarrierReady implements the wait-for-panels barrier: it reports whether
// every gating panel (a File or TerminalPane panel currently
// deprecated or in flight) has settled, i.e. it is safe for the host to
// proceed with an operation that depends on those panels' content being
// current — most notably, assembling the next LLM turn's context.
func (e *Engine) BarrierReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, p := range e.table.all() {
		if p.Kind != KindFile && p.Kind != KindTerminalPane {
			continue
		}
		if p.Deprecated || p.InFlight {
			return false
		}
	}
	return true
}

// Snapshot returns a value-copy view of every panel, safe to call from a
// goroutine other than the one driving Tick (the introspection HTTP/WS
// surface).
func (e *Engine) Snapshot() []PanelSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	panels := e.table.all()
	out := make([]PanelSnapshot, 0, len(panels))
	for _, p := range panels {
		out = append(out, PanelSnapshot{
			ID:            p.ID,
			Kind:          p.Kind,
			HasContent:    p.HasContent,
			CachedContent: p.CachedContent,
			ContentHash:   p.ContentHash,
			Deprecated:    p.Deprecated,
			InFlight:      p.InFlight,
			TokenCount:    p.TokenCount,
			Selected:      p.Selected,
		})
	}
	return out
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
