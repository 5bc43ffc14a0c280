package pcie

import "testing"

func newTestTable(kinds ...Kind) (*table, []string) {
	t := newTable()
	ids := make([]string, 0, len(kinds))
	for _, k := range kinds {
		cfg := KindConfig{}
		switch k {
		case KindGitResult:
			cfg.GitResult = &GitResultConfig{Command: "git log --oneline"}
		case KindRemoteResult:
			cfg.RemoteResult = &RemoteResultConfig{Command: "gh pr list"}
		case KindFile:
			cfg.File = &FileConfig{Path: "/repo/main.go"}
		case KindTree:
			cfg.Tree = &TreeConfig{Root: "/repo"}
		case KindGlob:
			cfg.Glob = &GlobConfig{Pattern: "*.go", Base: "/repo"}
		case KindGrep:
			cfg.Grep = &GrepConfig{Pattern: "TODO", Path: "/repo"}
		}
		id := t.allocID(k.String())
		t.insert(&Panel{ID: id, Kind: k, Config: cfg})
		ids = append(ids, id)
	}
	return t, ids
}

func TestApplyGitMutation_UnrecognizedCommandDeprecatesAllGitResult(t *testing.T) {
	rb := DefaultRulebook()
	tbl, _ := newTestTable(KindGitResult, KindRemoteResult, KindGitStatus)

	rb.ApplyGitMutation(tbl, "git bisect start")

	for _, p := range tbl.byKind(KindGitResult) {
		if !p.Deprecated {
			t.Errorf("expected GitResult panel %s deprecated on unrecognized git mutation", p.ID)
		}
	}
	for _, p := range tbl.byKind(KindRemoteResult) {
		if p.Deprecated {
			t.Errorf("git mutation must never deprecate RemoteResult panel %s", p.ID)
		}
	}
}

func TestApplyGitMutation_KnownCommandDeprecatesGitResultOnly(t *testing.T) {
	rb := DefaultRulebook()
	tbl, _ := newTestTable(KindGitResult, KindGitStatus)

	rb.ApplyGitMutation(tbl, "git checkout main")

	for _, p := range tbl.byKind(KindGitResult) {
		if !p.Deprecated {
			t.Errorf("expected GitResult panel deprecated after git checkout")
		}
	}
	for _, p := range tbl.byKind(KindGitStatus) {
		if p.Deprecated {
			t.Errorf("git checkout rule must not deprecate GitStatus panel %s", p.ID)
		}
	}
}

func TestApplyGhMutation_AlwaysDeprecatesGitStatus(t *testing.T) {
	rb := DefaultRulebook()
	tbl, _ := newTestTable(KindGitStatus, KindRemoteResult)

	rb.ApplyGhMutation(tbl, "gh pr merge 42")

	for _, p := range tbl.byKind(KindGitStatus) {
		if !p.Deprecated {
			t.Errorf("gh mutation must deprecate GitStatus panel %s", p.ID)
		}
	}
}

func TestApplyGhMutation_UnrecognizedCommandFallsBackToBothKinds(t *testing.T) {
	rb := DefaultRulebook()
	tbl, _ := newTestTable(KindRemoteResult, KindGitResult, KindGitStatus)

	rb.ApplyGhMutation(tbl, "gh auth refresh")

	for _, p := range tbl.all() {
		if p.Kind == KindRemoteResult || p.Kind == KindGitResult || p.Kind == KindGitStatus {
			if !p.Deprecated {
				t.Errorf("unrecognized gh command should deprecate panel %s (%s)", p.ID, p.Kind)
			}
		}
	}
}

func TestApplyFileMutation_WriteOnlyDeprecatesMatchingFilePanel(t *testing.T) {
	tbl, _ := newTestTable(KindFile, KindTree, KindGlob, KindGrep)

	ApplyFileMutation(tbl, MutationFileWritten, "/repo/main.go")

	for _, p := range tbl.byKind(KindFile) {
		if !p.Deprecated {
			t.Errorf("expected File panel deprecated on matching write")
		}
	}
	for _, p := range tbl.byKind(KindTree) {
		if p.Deprecated {
			t.Errorf("a write (not create/delete) must not deprecate Tree panels")
		}
	}
}

func TestApplyFileMutation_CreateDeprecatesTreeAndGlob(t *testing.T) {
	tbl, _ := newTestTable(KindTree, KindGlob)

	ApplyFileMutation(tbl, MutationFileCreated, "/repo/new_file.go")

	for _, p := range tbl.byKind(KindTree) {
		if !p.Deprecated {
			t.Errorf("a file creation must deprecate Tree panels")
		}
	}
	for _, p := range tbl.byKind(KindGlob) {
		if !p.Deprecated {
			t.Errorf("a file creation under a glob's base must deprecate that Glob panel")
		}
	}
}
