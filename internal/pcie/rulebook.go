package pcie

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// Family distinguishes the two mutating-command tool families the
// Invalidation Rulebook understands.
type Family int

const (
	FamilyGit Family = iota
	FamilyGh
)

// Rule maps a mutating command to the panels it deprecates. CommandPattern
// is matched against the verbatim command text reported in a MutationEvent;
// capture groups may be referenced by NarrowOnGroup to target a subset of
// panels whose own command/config contains the captured text (e.g. only
// GitResult panels watching the branch a checkout just moved to).
type Rule struct {
	Family         Family
	CommandPattern *regexp.Regexp
	Affects        Kind

	// NarrowOnGroup, when > 0, restricts the match to panels whose own
	// GitResultConfig.Command or RemoteResultConfig.Command contains the
	// text captured by that regex group of CommandPattern. 0 means "affect
	// every panel of Affects' kind".
	NarrowOnGroup int
}

// ruleSpec is the on-disk TOML shape for a Rule (everything but the
// compiled regex, which is derived at load time).
type ruleSpec struct {
	Family        string `toml:"family"`
	Pattern       string `toml:"pattern"`
	Affects       string `toml:"affects"`
	NarrowOnGroup int    `toml:"narrow_on_group"`
}

type rulebookFile struct {
	Rule []ruleSpec `toml:"rule"`
}

// Rulebook is the compiled, queryable table of invalidation rules. It is
// immutable after construction so it can be shared by value across
// workspaces without locking.
type Rulebook struct {
	gitRules []Rule
	ghRules  []Rule
}

func kindFromAffectsName(name string) (Kind, error) {
	switch name {
	case "git_result":
		return KindGitResult, nil
	case "remote_result":
		return KindRemoteResult, nil
	case "git_status":
		return KindGitStatus, nil
	default:
		return 0, fmt.Errorf("rulebook: unknown affects kind %q", name)
	}
}

func familyFromName(name string) (Family, error) {
	switch name {
	case "git":
		return FamilyGit, nil
	case "gh":
		return FamilyGh, nil
	default:
		return 0, fmt.Errorf("rulebook: unknown family %q", name)
	}
}

func compileSpecs(specs []ruleSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for _, s := range specs {
		family, err := familyFromName(s.Family)
		if err != nil {
			return nil, err
		}
		affects, err := kindFromAffectsName(s.Affects)
		if err != nil {
			return nil, err
		}
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rulebook: bad pattern %q: %w", s.Pattern, err)
		}
		rules = append(rules, Rule{
			Family:         family,
			CommandPattern: re,
			Affects:        affects,
			NarrowOnGroup:  s.NarrowOnGroup,
		})
	}
	return rules, nil
}

// LoadRulebook reads a rulebook.toml file (see defaultRuleSpecs for the
// expected shape) and compiles it into a Rulebook.
func LoadRulebook(path string) (*Rulebook, error) {
	var file rulebookFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("pcie: loading rulebook %s: %w", path, err)
	}
	rules, err := compileSpecs(file.Rule)
	if err != nil {
		return nil, err
	}
	rb := &Rulebook{}
	for _, r := range rules {
		switch r.Family {
		case FamilyGit:
			rb.gitRules = append(rb.gitRules, r)
		case FamilyGh:
			rb.ghRules = append(rb.ghRules, r)
		}
	}
	return rb, nil
}

// defaultRuleSpecs is the compiled-in table used when no rulebook.toml is
// supplied, so the engine works with zero configuration — mirroring
// Akashdeep-Patra-zed-git-view's config/defaults.go pattern of shipping a
// working default alongside the loadable file format.
var defaultRuleSpecs = []ruleSpec{
	{Family: "git", Pattern: `^git\s+(checkout|switch)\b`, Affects: "git_result"},
	{Family: "git", Pattern: `^git\s+reset\b`, Affects: "git_result"},
	{Family: "git", Pattern: `^git\s+merge\b`, Affects: "git_result"},
	{Family: "git", Pattern: `^git\s+rebase\b`, Affects: "git_result"},
	{Family: "git", Pattern: `^git\s+(commit|revert|cherry-pick|stash)\b`, Affects: "git_result"},
	{Family: "gh", Pattern: `^gh\s+pr\s+(create|merge|close|edit)\b`, Affects: "remote_result"},
	{Family: "gh", Pattern: `^gh\s+issue\s+(create|close|edit)\b`, Affects: "remote_result"},
}

// DefaultRulebook returns the compiled-in rulebook.
func DefaultRulebook() *Rulebook {
	rules, err := compileSpecs(defaultRuleSpecs)
	if err != nil {
		// defaultRuleSpecs is a compile-time constant table; a failure here
		// is a programming error in this file, not a runtime condition.
		panic("pcie: default rulebook failed to compile: " + err.Error())
	}
	rb := &Rulebook{}
	for _, r := range rules {
		switch r.Family {
		case FamilyGit:
			rb.gitRules = append(rb.gitRules, r)
		case FamilyGh:
			rb.ghRules = append(rb.ghRules, r)
		}
	}
	return rb
}

// match reports every rule in rules whose CommandPattern matches command,
// along with the capture groups of the first match (for NarrowOnGroup).
func match(rules []Rule, command string) (matched []Rule, groups [][]string) {
	for _, r := range rules {
		m := r.CommandPattern.FindStringSubmatch(command)
		if m != nil {
			matched = append(matched, r)
			groups = append(groups, m)
		}
	}
	return matched, groups
}

// applies reports whether rule (matched with capture groups m) should
// deprecate panel p.
func applies(rule Rule, m []string, p *Panel) bool {
	if p.Kind != rule.Affects {
		return false
	}
	if rule.NarrowOnGroup <= 0 || rule.NarrowOnGroup >= len(m) {
		return true
	}
	needle := m[rule.NarrowOnGroup]
	var haystack string
	switch {
	case p.Config.GitResult != nil:
		haystack = p.Config.GitResult.Command
	case p.Config.RemoteResult != nil:
		haystack = p.Config.RemoteResult.Command
	}
	return strings.Contains(haystack, needle)
}

// RuleCounts returns the number of compiled git and gh rules, for
// diagnostics (e.g. confirming a loaded rulebook.toml parsed as expected).
func (rb *Rulebook) RuleCounts() (gitRules, ghRules int) {
	return len(rb.gitRules), len(rb.ghRules)
}

// ApplyGitMutation deprecates the panels affected by a mutating git
// command: specific rules first; an unrecognized mutating git command falls
// back to deprecating every GitResult panel (safe over-invalidation). A
// mutating git command never deprecates RemoteResult panels (cross-family
// rule).
func (rb *Rulebook) ApplyGitMutation(t *table, command string) {
	matched, groups := match(rb.gitRules, command)
	if len(matched) == 0 {
		for _, p := range t.byKind(KindGitResult) {
			p.Deprecated = true
		}
		return
	}
	for i, r := range matched {
		for _, p := range t.all() {
			if applies(r, groups[i], p) {
				p.Deprecated = true
			}
		}
	}
}

// ApplyGhMutation deprecates the panels affected by a mutating gh command.
// An unrecognized mutating gh command deprecates every RemoteResult panel
// AND every GitResult panel (REDESIGN FLAGS: mirrors the git blanket
// fallback, closing the prior asymmetry where gh had no fallback at all).
// A mutating gh command always deprecates the GitStatus panel, since some
// gh commands (pr checkout, pr merge --delete-branch) affect local refs.
func (rb *Rulebook) ApplyGhMutation(t *table, command string) {
	matched, groups := match(rb.ghRules, command)
	if len(matched) == 0 {
		for _, p := range t.all() {
			if p.Kind == KindRemoteResult || p.Kind == KindGitResult {
				p.Deprecated = true
			}
		}
	} else {
		for i, r := range matched {
			for _, p := range t.all() {
				if applies(r, groups[i], p) {
					p.Deprecated = true
				}
			}
		}
	}

	for _, p := range t.byKind(KindGitStatus) {
		p.Deprecated = true
	}
}

// ApplyFileMutation applies the file-mutation predicates: a write, edit,
// create, or delete sets Deprecated on every File panel at path,
// every Tree panel when the mutation is a create/delete, every Grep panel
// whose scope contains path, and, on a create/delete, every Glob panel whose
// base contains path (the Glob pattern itself is not consulted).
func ApplyFileMutation(t *table, tag MutationTag, path string) {
	structural := tag == MutationFileCreated || tag == MutationFileDeleted

	for _, p := range t.all() {
		switch p.Kind {
		case KindFile:
			if p.Config.File != nil && p.Config.File.Path == path {
				p.Deprecated = true
			}
		case KindTree:
			if structural {
				p.Deprecated = true
			}
		case KindGrep:
			if p.Config.Grep != nil && strings.HasPrefix(path, p.Config.Grep.Path) {
				p.Deprecated = true
			}
		case KindGlob:
			if structural && p.Config.Glob != nil && strings.HasPrefix(path, p.Config.Glob.Base) {
				p.Deprecated = true
			}
		}
	}
}
