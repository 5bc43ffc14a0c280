// Package pcie implements the Panel Cache and Invalidation Engine: the
// subsystem deciding when a cached projection of an external resource is
// stale, how it is refreshed, who pays for the refresh, and how results are
// merged back into shared state without tearing, starvation, or feedback
// loops.
package pcie

// Kind tags the variant of external resource a Panel projects.
type Kind int

const (
	KindFile Kind = iota
	KindTree
	KindGlob
	KindGrep
	KindTerminalPane
	KindGitStatus
	KindGitResult
	KindRemoteResult
	KindFixed
)

// String returns the kind's lowercase name, used in logs and rulebook
// predicates.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindTree:
		return "tree"
	case KindGlob:
		return "glob"
	case KindGrep:
		return "grep"
	case KindTerminalPane:
		return "terminal_pane"
	case KindGitStatus:
		return "git_status"
	case KindGitResult:
		return "git_result"
	case KindRemoteResult:
		return "remote_result"
	case KindFixed:
		return "fixed"
	default:
		return "unknown"
	}
}

// FileConfig configures a File panel: a single path on disk, read live
// (never through git's blob store, since the editor may be ahead of the
// index).
type FileConfig struct {
	Path string
}

// TreeConfig configures a Tree panel: the repository root, the set of
// folders currently expanded in the UI, and optional per-path descriptions
// supplied by the host (e.g. AI-generated one-liners).
type TreeConfig struct {
	Root             string
	OpenFolders      map[string]bool
	Descriptions     map[string]string
	RespectGitignore bool
}

// GlobConfig configures a Glob panel.
type GlobConfig struct {
	Pattern          string
	Base             string
	RespectGitignore bool
}

// GrepConfig configures a Grep panel.
type GrepConfig struct {
	Pattern     string
	Path        string
	FilePattern string
}

// TerminalPaneConfig configures a TerminalPane panel.
type TerminalPaneConfig struct {
	PaneHandle string
	TailLines  int
}

// GitStatusConfig configures the (singleton, per-workspace) GitStatus panel.
type GitStatusConfig struct {
	RepoRoot string
}

// GitResultConfig configures a GitResult panel: a verbatim read-only git
// subcommand re-executed on refresh, unless an identical command's output is
// still in the engine's command cache (cleared on every git-ref watcher
// event).
type GitResultConfig struct {
	Command     string
	CommandHash Hash
	RepoRoot    string
}

// RemoteResultConfig configures a RemoteResult panel, refreshed exclusively
// by the External-Poll Watcher.
type RemoteResultConfig struct {
	Command       string
	IntervalHint  int // seconds; 0 means "use the default"
	UsesETag      bool
	LastETag      string
}

// FixedDocConfig configures a Fixed/Doc panel: a Markdown notes file
// rendered into a heading outline for the LLM consumer.
type FixedDocConfig struct {
	Path string
}

// KindConfig is a tagged union with one populated member per Kind, following
// the same "concrete struct over interface{} payload" preference as
// gitcore.RepositoryDelta.
type KindConfig struct {
	File         *FileConfig
	Tree         *TreeConfig
	Glob         *GlobConfig
	Grep         *GrepConfig
	TerminalPane *TerminalPaneConfig
	GitStatus    *GitStatusConfig
	GitResult    *GitResultConfig
	RemoteResult *RemoteResultConfig
	FixedDoc     *FixedDocConfig
}

// Panel is the unit of cacheable projection. After creation a Panel lives in
// the table and is mutated in place only by engine code (Engine methods, the
// Rulebook, ApplyFileMutation) while the Engine's mutex is held
// (single-writer discipline).
type Panel struct {
	ID            string
	Kind          Kind
	Config        KindConfig
	CachedContent string
	HasContent    bool
	ContentHash   Hash
	Deprecated    bool
	InFlight      bool
	LastPolledMs  int64
	LastRefreshMs int64
	TokenCount    int
	Fixed         bool
	Selected      bool
}

// gating reports whether this panel participates in the wait-for-panels
// barrier: File and TerminalPane panels that are currently deprecated.
func (p *Panel) gating() bool {
	return (p.Kind == KindFile || p.Kind == KindTerminalPane) && p.Deprecated
}

// CacheRequest is submitted to the worker pool for a single panel refresh.
// CurrentHash lets a worker short-circuit a no-op refresh without the
// caller needing to re-derive it.
type CacheRequest struct {
	PanelID     string
	Kind        Kind
	Config      KindConfig
	CurrentHash Hash
	HasContent  bool
}

// UpdateTag distinguishes the three shapes a CacheUpdate can take.
type UpdateTag int

const (
	UpdateContent UpdateTag = iota
	UpdateUnchanged
	UpdateStatusOnly
)

// CacheUpdate is the result of a refresh. Exactly one is produced per
// submitted CacheRequest, including an explicit Unchanged variant; a
// refresh routine that returns nothing is a bug, not a performance
// optimization.
type CacheUpdate struct {
	Tag        UpdateTag
	PanelID    string
	NewContent string
	NewHash    Hash
	TokenCount int
	// StatusUnchanged is set only when Tag == UpdateStatusOnly, reporting
	// whether the sampled status differed from the last one.
	StatusUnchanged bool
}
