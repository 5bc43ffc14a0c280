package pcie

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rybkr/contextpilot/internal/gitcore"
)

// maxGrepMatches and maxGlobEntries bound the size of Glob/Grep panel
// content the same way maxFileBytes bounds a File panel: a pattern that
// matches half the repository must not flood the cache with an unusable
// wall of text.
const (
	maxGrepMatches = 500
	maxGlobEntries = 2000
)

// treeRefresher implements Refresher for KindTree: a recursive listing of
// Root, respecting OpenFolders (collapsed directories are listed but not
// descended into) and, when requested, .gitignore.
type treeRefresher struct{}

func (treeRefresher) Refresh(_ context.Context, req CacheRequest) CacheUpdate {
	cfg := req.Config.Tree
	if cfg == nil {
		return CacheUpdate{Tag: UpdateContent, PanelID: req.PanelID, NewContent: "(missing tree config)"}
	}

	ignore := gitignoreFor(cfg.Root, cfg.RespectGitignore)

	var lines []string
	var walk func(dir, relDir string, depth int)
	walk = func(dir, relDir string, depth int) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%s(error: %v)", strings.Repeat("  ", depth), err))
			return
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, e := range entries {
			rel := filepath.Join(relDir, e.Name())
			slashRel := filepath.ToSlash(rel)
			if ignore.Match(slashRel, e.IsDir()) {
				continue
			}
			label := e.Name()
			if e.IsDir() {
				label += "/"
			}
			if desc, ok := cfg.Descriptions[slashRel]; ok && desc != "" {
				label += "  — " + desc
			}
			lines = append(lines, strings.Repeat("  ", depth)+label)
			if e.IsDir() && cfg.OpenFolders[slashRel] {
				walk(filepath.Join(dir, e.Name()), rel, depth+1)
			}
		}
	}
	walk(cfg.Root, "", 0)

	content := strings.Join(lines, "\n")
	return finalizeUpdate(req, content)
}

// globRefresher implements Refresher for KindGlob: every path under Base
// matching Pattern (shell glob syntax via filepath.Match per path segment).
type globRefresher struct{}

func (globRefresher) Refresh(_ context.Context, req CacheRequest) CacheUpdate {
	cfg := req.Config.Glob
	if cfg == nil {
		return CacheUpdate{Tag: UpdateContent, PanelID: req.PanelID, NewContent: "(missing glob config)"}
	}

	ignore := gitignoreFor(cfg.Base, cfg.RespectGitignore)

	var matches []string
	_ = filepath.WalkDir(cfg.Base, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if len(matches) >= maxGlobEntries {
			return filepath.SkipAll
		}
		rel, relErr := filepath.Rel(cfg.Base, path)
		if relErr != nil {
			return nil
		}
		slashRel := filepath.ToSlash(rel)
		if ignore.Match(slashRel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ok, matchErr := filepath.Match(cfg.Pattern, slashRel)
		if matchErr == nil && ok {
			matches = append(matches, slashRel)
		}
		return nil
	})

	content := strings.Join(matches, "\n")
	if len(matches) >= maxGlobEntries {
		content += fmt.Sprintf("\n... (truncated at %d matches)", maxGlobEntries)
	}
	return finalizeUpdate(req, content)
}

// grepRefresher implements Refresher for KindGrep: a regexp search under
// Path, optionally restricted to files matching FilePattern.
type grepRefresher struct{}

func (grepRefresher) Refresh(_ context.Context, req CacheRequest) CacheUpdate {
	cfg := req.Config.Grep
	if cfg == nil {
		return CacheUpdate{Tag: UpdateContent, PanelID: req.PanelID, NewContent: "(missing grep config)"}
	}

	re, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		healthCounters.refreshErrors.Add(1)
		return finalizeUpdate(req, fmt.Sprintf("(invalid pattern %q: %v)", cfg.Pattern, err))
	}

	ignore := gitignoreFor(cfg.Path, true)
	var hits []string
	_ = filepath.WalkDir(cfg.Path, func(path string, d os.DirEntry, err error) error {
		if err != nil || len(hits) >= maxGrepMatches {
			if len(hits) >= maxGrepMatches {
				return filepath.SkipAll
			}
			return nil
		}
		rel, relErr := filepath.Rel(cfg.Path, path)
		if relErr != nil {
			return nil
		}
		slashRel := filepath.ToSlash(rel)
		if ignore.Match(slashRel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if cfg.FilePattern != "" {
			if ok, _ := filepath.Match(cfg.FilePattern, filepath.Base(path)); !ok {
				return nil
			}
		}
		grepFile(path, slashRel, re, &hits)
		return nil
	})

	content := strings.Join(hits, "\n")
	if len(hits) >= maxGrepMatches {
		content += fmt.Sprintf("\n... (truncated at %d matches)", maxGrepMatches)
	}
	return finalizeUpdate(req, content)
}

func grepFile(path, relPath string, re *regexp.Regexp, hits *[]string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() && len(*hits) < maxGrepMatches {
		lineNo++
		line := scanner.Text()
		if re.MatchString(line) {
			*hits = append(*hits, fmt.Sprintf("%s:%d: %s", relPath, lineNo, strings.TrimSpace(line)))
		}
	}
}

func gitignoreFor(root string, respect bool) *gitcore.Gitignore {
	if !respect {
		return nil
	}
	repo, err := gitcore.NewRepository(root)
	if err != nil {
		return nil
	}
	return gitcore.NewGitignore(repo)
}

// finalizeUpdate applies the no-op short-circuit shared by every
// content-based refresher: if the freshly computed hash matches the
// panel's current hash, report UpdateUnchanged instead of UpdateContent so
// the engine need not re-render or re-send a byte-identical panel.
func finalizeUpdate(req CacheRequest, content string) CacheUpdate {
	hash := HashContent(content)
	if req.HasContent && hash == req.CurrentHash {
		return CacheUpdate{Tag: UpdateUnchanged, PanelID: req.PanelID}
	}
	return CacheUpdate{
		Tag:        UpdateContent,
		PanelID:    req.PanelID,
		NewContent: content,
		NewHash:    hash,
		TokenCount: estimateTokens(content),
	}
}
