package pcie

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, repoRoot string) *Engine {
	t.Helper()
	e, err := NewEngine(context.Background(), repoRoot, EngineOptions{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

// waitUntil repeatedly ticks the engine until cond reports true or timeout
// elapses, simulating the host driving Tick on every event loop turn while
// the pool's goroutines complete asynchronously in the background.
func waitUntil(t *testing.T, e *Engine, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		e.Tick(context.Background())
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func panelByID(e *Engine, id string) (PanelSnapshot, bool) {
	for _, p := range e.Snapshot() {
		if p.ID == id {
			return p, true
		}
	}
	return PanelSnapshot{}, false
}

// TestWaitForPanelsBarrier (S6) verifies the barrier starts closed for a
// freshly created gating panel and reopens once its refresh settles, then
// closes again the moment a mutation re-deprecates it.
func TestWaitForPanelsBarrier(t *testing.T) {
	repoRoot := initGitRepo(t)
	e := newTestEngine(t, repoRoot)

	path := filepath.Join(repoRoot, "README.md")
	id := e.CreatePanel(KindFile, KindConfig{File: &FileConfig{Path: path}})

	if e.BarrierReady() {
		t.Fatalf("barrier should not be ready before the fresh panel's first refresh")
	}

	waitUntil(t, e, e.BarrierReady, 2*time.Second)

	p, ok := panelByID(e, id)
	if !ok || !p.HasContent {
		t.Fatalf("expected panel to have content once barrier is ready")
	}

	e.MutationNotify(MutationEvent{Tag: MutationFileEdited, Path: path})
	if e.BarrierReady() {
		t.Fatalf("barrier must close again immediately after a gating panel is re-deprecated")
	}
}

// TestFileEditWithoutDiskEchoBug (S1) verifies that a reported file edit
// deprecates and refreshes the File panel promptly via MutationNotify,
// without waiting on the filesystem watcher's debounce window.
func TestFileEditWithoutDiskEchoBug(t *testing.T) {
	repoRoot := initGitRepo(t)
	e := newTestEngine(t, repoRoot)

	path := filepath.Join(repoRoot, "README.md")
	id := e.CreatePanel(KindFile, KindConfig{File: &FileConfig{Path: path}})

	waitUntil(t, e, func() bool {
		p, ok := panelByID(e, id)
		return ok && p.HasContent
	}, 2*time.Second)

	if err := os.WriteFile(path, []byte("# updated\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	e.MutationNotify(MutationEvent{Tag: MutationFileEdited, Path: path})

	waitUntil(t, e, func() bool {
		p, ok := panelByID(e, id)
		return ok && p.CachedContent == "# updated\n"
	}, 2*time.Second)
}

// TestIdleFileStaysIdle (S2) verifies a settled panel is not resubmitted to
// the pool on every Tick when nothing has changed.
func TestIdleFileStaysIdle(t *testing.T) {
	repoRoot := initGitRepo(t)
	e := newTestEngine(t, repoRoot)

	path := filepath.Join(repoRoot, "README.md")
	id := e.CreatePanel(KindFile, KindConfig{File: &FileConfig{Path: path}})

	waitUntil(t, e, func() bool {
		p, ok := panelByID(e, id)
		return ok && p.HasContent
	}, 2*time.Second)

	before, _ := panelByID(e, id)
	for i := 0; i < 5; i++ {
		e.Tick(context.Background())
		time.Sleep(5 * time.Millisecond)
	}
	after, _ := panelByID(e, id)

	if after.Deprecated || after.InFlight {
		t.Fatalf("idle panel should not be deprecated or in flight: %+v", after)
	}
	if before.ContentHash != after.ContentHash {
		t.Fatalf("idle panel content hash changed without any mutation")
	}
}

// TestGitCommandLoopIsBroken (S3) verifies a GitResult panel configured
// with "git status" is refused rather than executed, since ComputeWorking
// TreeStatus-adjacent git subcommands are exactly the ones capable of
// rewriting .git/index and re-arming the filesystem/ref watchers that feed
// this same panel's invalidation.
func TestGitCommandLoopIsBroken(t *testing.T) {
	repoRoot := initGitRepo(t)

	req := CacheRequest{
		Kind: KindGitResult,
		Config: KindConfig{GitResult: &GitResultConfig{
			Command:  "git status",
			RepoRoot: repoRoot,
		}},
	}

	update := (gitResultRefresher{}).Refresh(context.Background(), req)
	if update.Tag != UpdateContent {
		t.Fatalf("expected a content update explaining the refusal")
	}
	if !contains(update.NewContent, "refusing") {
		t.Fatalf("expected refusal content, got %q", update.NewContent)
	}
}

// TestGlobStalenessUponCreation (S4) verifies a newly created file under a
// Glob panel's base directory deprecates that panel and the subsequent
// refresh picks the new file up.
func TestGlobStalenessUponCreation(t *testing.T) {
	repoRoot := initGitRepo(t)
	e := newTestEngine(t, repoRoot)

	id := e.CreatePanel(KindGlob, KindConfig{Glob: &GlobConfig{
		Pattern: "*.go",
		Base:    repoRoot,
	}})

	waitUntil(t, e, func() bool {
		p, ok := panelByID(e, id)
		return ok && p.HasContent
	}, 2*time.Second)

	newFile := filepath.Join(repoRoot, "new_file.go")
	if err := os.WriteFile(newFile, []byte("package main\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	e.MutationNotify(MutationEvent{Tag: MutationFileCreated, Path: newFile})

	waitUntil(t, e, func() bool {
		p, ok := panelByID(e, id)
		return ok && contains(p.CachedContent, "new_file.go")
	}, 2*time.Second)
}

// TestUnknownRemoteCommandMutation (S5) verifies an unrecognized gh mutation
// deprecates a GitResult panel too (the gh blanket fallback mirrors the git
// blanket fallback) at the Engine level, not just the Rulebook unit level.
// The RemoteResult side of this rule is covered at the Rulebook level in
// rulebook_test.go, since RemoteResult panels settle on their own poll
// ticker rather than through Tick and would make this test's timing depend
// on that ticker's interval.
func TestUnknownRemoteCommandMutation(t *testing.T) {
	repoRoot := initGitRepo(t)
	e := newTestEngine(t, repoRoot)

	gitID := e.CreatePanel(KindGitResult, KindConfig{GitResult: &GitResultConfig{Command: "git log --oneline", RepoRoot: repoRoot}})

	waitUntil(t, e, func() bool {
		g, ok := panelByID(e, gitID)
		return ok && !g.Deprecated
	}, 2*time.Second)

	e.MutationNotify(MutationEvent{Tag: MutationRemoteExecuted, CommandText: "gh auth refresh"})

	g, _ := panelByID(e, gitID)
	if !g.Deprecated {
		t.Fatalf("unrecognized gh command should deprecate GitResult panel too")
	}
}

// TestPollEligible_FirstLoadAndDeprecatedAlwaysEligible verifies the two
// unconditional eligibility paths: no cached content yet, and an explicit
// deprecation, both win regardless of kind, selection, or elapsed time.
func TestPollEligible_FirstLoadAndDeprecatedAlwaysEligible(t *testing.T) {
	e := &Engine{}

	fresh := &Panel{Kind: KindGlob, HasContent: false}
	if !e.pollEligible(fresh, 1000) {
		t.Fatalf("panel with no cached content should always be eligible")
	}

	stale := &Panel{Kind: KindGlob, HasContent: true, Deprecated: true, LastPolledMs: 999}
	if !e.pollEligible(stale, 1000) {
		t.Fatalf("deprecated panel should always be eligible")
	}
}

// TestPollEligible_IntervalGating verifies Glob/Grep require both an
// elapsed interval and Selected, TerminalPane/GitStatus require only the
// elapsed interval, and File never becomes eligible from the timer sweep
// alone.
func TestPollEligible_IntervalGating(t *testing.T) {
	e := &Engine{}

	glob := &Panel{Kind: KindGlob, HasContent: true, LastPolledMs: 0}
	if e.pollEligible(glob, int64(globPollInterval.Milliseconds())) {
		t.Fatalf("unselected Glob panel should not be eligible even after its interval elapses")
	}
	glob.Selected = true
	if !e.pollEligible(glob, int64(globPollInterval.Milliseconds())) {
		t.Fatalf("selected Glob panel should be eligible once its interval elapses")
	}
	if e.pollEligible(glob, int64(globPollInterval.Milliseconds())-1) {
		t.Fatalf("selected Glob panel should not be eligible before its interval elapses")
	}

	terminal := &Panel{Kind: KindTerminalPane, HasContent: true, LastPolledMs: 0}
	if !e.pollEligible(terminal, int64(terminalPollInterval.Milliseconds())) {
		t.Fatalf("TerminalPane should be eligible on its interval regardless of selection")
	}

	status := &Panel{Kind: KindGitStatus, HasContent: true, LastPolledMs: 0}
	if !e.pollEligible(status, int64(gitStatusPollInterval.Milliseconds())) {
		t.Fatalf("GitStatus should be eligible on its interval regardless of selection")
	}

	file := &Panel{Kind: KindFile, HasContent: true, LastPolledMs: 0}
	if e.pollEligible(file, int64(time.Hour.Milliseconds())) {
		t.Fatalf("File panels have no timer-sweep interval and must never become eligible this way")
	}
}

// TestTerminalPaneRefreshesWithoutExplicitMutation (S-series regression)
// verifies a TerminalPane panel that never receives a MutationTerminalSent
// event still gets re-submitted by the timer sweep, rather than going
// stale forever once its first load settles.
func TestTerminalPaneRefreshesWithoutExplicitMutation(t *testing.T) {
	repoRoot := initGitRepo(t)
	e := newTestEngine(t, repoRoot)

	calls := 0
	e.pool.refreshers[KindTerminalPane] = terminalRefresher{readPaneTail: func(handle string, tailLines int) (string, error) {
		calls++
		return time.Now().String(), nil
	}}

	id := e.CreatePanel(KindTerminalPane, KindConfig{TerminalPane: &TerminalPaneConfig{PaneHandle: "pane-1", TailLines: 10}})

	waitUntil(t, e, func() bool {
		p, ok := panelByID(e, id)
		return ok && p.HasContent
	}, 2*time.Second)

	waitUntil(t, e, func() bool {
		return calls >= 2
	}, 3*time.Second)
}

// TestPoolSubmit_RejectsWhenFull verifies submit's non-blocking contract: a
// full pool reports rejection instead of blocking the caller, and the
// accepted requests still complete once capacity frees up.
func TestPoolSubmit_RejectsWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, poolSize)

	blocking := blockingRefresher{started: started, release: release}
	p := newPool(slogDiscard(), map[Kind]Refresher{KindFile: blocking})

	ctx := context.Background()
	for i := 0; i < poolSize; i++ {
		if !p.submit(ctx, CacheRequest{PanelID: "p", Kind: KindFile}) {
			t.Fatalf("submit %d should have been accepted", i)
		}
	}
	for i := 0; i < poolSize; i++ {
		<-started
	}

	if p.submit(ctx, CacheRequest{PanelID: "overflow", Kind: KindFile}) {
		t.Fatalf("submit should reject once every worker is busy")
	}

	close(release)
	for i := 0; i < poolSize; i++ {
		<-p.updates
	}
}

type blockingRefresher struct {
	started chan struct{}
	release chan struct{}
}

func (b blockingRefresher) Refresh(ctx context.Context, req CacheRequest) CacheUpdate {
	b.started <- struct{}{}
	<-b.release
	return CacheUpdate{Tag: UpdateUnchanged, PanelID: req.PanelID}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (needle == "" || indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
