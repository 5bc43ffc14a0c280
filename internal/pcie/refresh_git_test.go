package pcie

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// TestGitResultDiff_UsesInProcessWorktreeDiff (S3-adjacent) verifies a
// single-path "git diff -- <path>" command is served by
// gitcore.ComputeWorkingTreeFileDiff rather than a second git subprocess,
// and reflects an on-disk change HEAD hasn't seen yet.
func TestGitResultDiff_UsesInProcessWorktreeDiff(t *testing.T) {
	repoRoot := initGitRepo(t)

	readmePath := filepath.Join(repoRoot, "README.md")
	if err := os.WriteFile(readmePath, []byte("# hello\nworld\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	req := CacheRequest{
		PanelID: "p1",
		Kind:    KindGitResult,
		Config: KindConfig{GitResult: &GitResultConfig{
			Command:  "git diff -- README.md",
			RepoRoot: repoRoot,
		}},
	}

	update := (gitResultRefresher{}).Refresh(context.Background(), req)
	if update.Tag != UpdateContent {
		t.Fatalf("expected content update, got tag %v", update.Tag)
	}
	if !contains(update.NewContent, "+world") {
		t.Fatalf("expected diff to show the added line, got %q", update.NewContent)
	}
}

// TestGitResultBlame_UsesInProcessDirectoryBlame verifies "git blame <dir>"
// is served by gitcore.Repository.GetFileBlame rather than shelling out,
// and names the file committed in the fixture repo.
func TestGitResultBlame_UsesInProcessDirectoryBlame(t *testing.T) {
	repoRoot := initGitRepo(t)

	req := CacheRequest{
		PanelID: "p1",
		Kind:    KindGitResult,
		Config: KindConfig{GitResult: &GitResultConfig{
			Command:  "git blame .",
			RepoRoot: repoRoot,
		}},
	}

	update := (gitResultRefresher{}).Refresh(context.Background(), req)
	if update.Tag != UpdateContent {
		t.Fatalf("expected content update, got tag %v", update.Tag)
	}
	if !contains(update.NewContent, "README.md") {
		t.Fatalf("expected blame output to mention README.md, got %q", update.NewContent)
	}
}

// TestGitResultDiff_FallsBackForUnsupportedShape verifies a "git diff"
// invocation outside the single-path fast path (no path argument at all)
// still falls through to the subprocess path rather than being refused.
func TestGitResultDiff_FallsBackForUnsupportedShape(t *testing.T) {
	repoRoot := initGitRepo(t)

	req := CacheRequest{
		PanelID: "p1",
		Kind:    KindGitResult,
		Config: KindConfig{GitResult: &GitResultConfig{
			Command:  "git diff --stat",
			RepoRoot: repoRoot,
		}},
	}

	update := (gitResultRefresher{}).Refresh(context.Background(), req)
	if update.Tag != UpdateContent {
		t.Fatalf("expected content update, got tag %v", update.Tag)
	}
}
