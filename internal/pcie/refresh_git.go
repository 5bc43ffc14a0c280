package pcie

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/rybkr/contextpilot/internal/gitcore"
)

// maxGitResultBytes caps the output of a read-only git subcommand capture.
const maxGitResultBytes = 1 << 20 // 1 MiB

// gitCommandTimeout bounds how long a GitResult subprocess may run before
// it is killed and the panel reports a timeout error as content.
const gitCommandTimeout = 30 * time.Second

// allowedGitResultSubcommands is the read-only allowlist GitResult panels
// may execute. GitResult panels exist to let the model inspect history and
// diffs cheaply; they must never be the vehicle for a mutating command,
// which belongs to the (out-of-scope) tool-dispatch path that reports
// MutationGitExecuted instead.
var allowedGitResultSubcommands = map[string]bool{
	"log": true, "show": true, "diff": true, "blame": true,
	"branch": true, "tag": true, "remote": true, "describe": true,
	"shortlog": true, "reflog": true,
}

// gitStatusRefresher implements Refresher for KindGitStatus: the
// (singleton, per-workspace) working tree status, computed without
// shelling out.
type gitStatusRefresher struct{}

func (gitStatusRefresher) Refresh(_ context.Context, req CacheRequest) CacheUpdate {
	cfg := req.Config.GitStatus
	if cfg == nil {
		return CacheUpdate{Tag: UpdateContent, PanelID: req.PanelID, NewContent: "(missing git status config)"}
	}

	repo, err := gitcore.NewRepository(cfg.RepoRoot)
	if err != nil {
		healthCounters.refreshErrors.Add(1)
		return finalizeUpdate(req, fmt.Sprintf("(error opening repository: %v)", err))
	}

	status, err := gitcore.ComputeWorkingTreeStatus(repo)
	if err != nil {
		healthCounters.refreshErrors.Add(1)
		return finalizeUpdate(req, fmt.Sprintf("(error computing status: %v)", err))
	}

	content := renderStatus(status)
	update := finalizeUpdate(req, content)
	if update.Tag == UpdateUnchanged {
		// The status was sampled and matched the cached one.
		return CacheUpdate{Tag: UpdateStatusOnly, PanelID: req.PanelID, StatusUnchanged: true}
	}
	return update
}

func renderStatus(status *gitcore.WorkingTreeStatus) string {
	if len(status.Files) == 0 {
		return "working tree clean"
	}
	var b strings.Builder
	for _, f := range status.Files {
		switch {
		case f.IsUntracked:
			fmt.Fprintf(&b, "?? %s\n", f.Path)
		default:
			fmt.Fprintf(&b, "%-8s %-8s %s\n", f.IndexStatus, f.WorkStatus, f.Path)
		}
	}
	return b.String()
}

// gitResultRefresher implements Refresher for KindGitResult: re-executes a
// verbatim read-only git subcommand and caches stdout. cache memoizes
// identical "repoRoot\x00command" executions across panels (two open
// GitResult panels running the same `git log` share one subprocess) until
// the engine clears it on the next git-ref watcher event; throttle bounds
// how often this family of subprocess actually runs.
type gitResultRefresher struct {
	cache    *lruCache[string]
	throttle *subprocessThrottle
}

func (g gitResultRefresher) Refresh(ctx context.Context, req CacheRequest) CacheUpdate {
	cfg := req.Config.GitResult
	if cfg == nil {
		return CacheUpdate{Tag: UpdateContent, PanelID: req.PanelID, NewContent: "(missing git result config)"}
	}

	fields := strings.Fields(cfg.Command)
	if len(fields) < 2 || fields[0] != "git" || !allowedGitResultSubcommands[fields[1]] {
		healthCounters.refreshErrors.Add(1)
		return finalizeUpdate(req, fmt.Sprintf("(refusing to execute non-read-only command %q)", cfg.Command))
	}

	if content, handled := g.tryInProcess(req, cfg, fields); handled {
		return content
	}

	cacheKey := cfg.RepoRoot + "\x00" + cfg.Command
	if g.cache != nil {
		if cached, ok := g.cache.Get(cacheKey); ok {
			return finalizeUpdate(req, cached)
		}
	}

	if g.throttle != nil && !g.throttle.allow("git") {
		return finalizeUpdate(req, "(throttled: too many git subprocess executions; will retry next tick)")
	}

	runCtx, cancel := context.WithTimeout(ctx, gitCommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, fields[0], fields[1:]...)
	cmd.Dir = cfg.RepoRoot

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		healthCounters.refreshErrors.Add(1)
		return finalizeUpdate(req, fmt.Sprintf("(command failed: %v)\n%s", err, capBytes(out.String(), maxGitResultBytes)))
	}

	content := capBytes(out.String(), maxGitResultBytes)
	if g.cache != nil {
		g.cache.Put(cacheKey, content)
	}
	return finalizeUpdate(req, content)
}

func capBytes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + fmt.Sprintf("\n... (truncated, %d of %d bytes shown)\n", limit, len(s))
}

// tryInProcess recognizes the two GitResult command shapes that have a pure
// Go implementation in gitcore (a single-file working-tree diff, and a
// directory's last-modified-by-commit summary), and serves them without a
// second subprocess. Every other allowed subcommand — including multi-path
// or flag-bearing diff/blame invocations this doesn't recognize — falls
// through to the exec path below, so the allowlist's coverage never shrinks.
func (g gitResultRefresher) tryInProcess(req CacheRequest, cfg *GitResultConfig, fields []string) (CacheUpdate, bool) {
	args := fields[2:]
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}
	if len(args) != 1 || strings.HasPrefix(args[0], "-") {
		return CacheUpdate{}, false // flags (e.g. --stat, -L) aren't a bare path; let exec handle them.
	}
	path := args[0]
	if path == "." {
		path = ""
	}

	repo, err := gitcore.NewRepository(cfg.RepoRoot)
	if err != nil {
		return CacheUpdate{}, false
	}

	switch fields[1] {
	case "diff":
		fd, err := gitcore.ComputeWorkingTreeFileDiff(repo, path, gitcore.DefaultContextLines)
		if err != nil {
			return CacheUpdate{}, false
		}
		return finalizeUpdate(req, renderFileDiff(fd)), true
	case "blame":
		blame, err := repo.GetFileBlame(repo.Head(), path)
		if err != nil {
			return CacheUpdate{}, false
		}
		return finalizeUpdate(req, renderBlame(blame)), true
	default:
		return CacheUpdate{}, false
	}
}

// renderFileDiff formats a FileDiff as a unified-diff body (no a/ b/
// headers beyond the path line, since GitResult content is consumed by the
// model rather than patched back with `git apply`).
func renderFileDiff(fd *gitcore.FileDiff) string {
	if fd.IsBinary {
		return fmt.Sprintf("Binary file %s differs\n", fd.Path)
	}
	if fd.Truncated {
		return fmt.Sprintf("(diff of %s exceeds the size cap; not shown)\n", fd.Path)
	}
	if len(fd.Hunks) == 0 {
		return "" // no differences.
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", fd.Path, fd.Path)
	for _, h := range fd.Hunks {
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldLines, h.NewStart, h.NewLines)
		for _, l := range h.Lines {
			switch l.Type {
			case "addition":
				fmt.Fprintf(&b, "+%s\n", l.Content)
			case "deletion":
				fmt.Fprintf(&b, "-%s\n", l.Content)
			default:
				fmt.Fprintf(&b, " %s\n", l.Content)
			}
		}
	}
	return b.String()
}

// renderBlame formats a directory's per-entry last-modified summary in
// name order, so the output is stable across runs for the Hasher's
// Unchanged short-circuit.
func renderBlame(blame map[string]*gitcore.BlameEntry) string {
	names := make([]string, 0, len(blame))
	for name := range blame {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		entry := blame[name]
		short := entry.CommitHash
		if len(short) > 8 {
			short = short[:8]
		}
		fmt.Fprintf(&b, "%-8s %-20s %s  %s\n", short, entry.AuthorName, entry.When.Format("2006-01-02"), name)
	}
	return b.String()
}
