package pcie

// MutationTag distinguishes the kinds of tool-generated mutation events the
// engine consumes via MutationNotify.
type MutationTag int

const (
	MutationFileWritten MutationTag = iota
	MutationFileEdited
	MutationFileCreated
	MutationFileDeleted
	MutationGitExecuted
	MutationRemoteExecuted
	MutationTerminalSent
)

// MutationEvent is a tool execution that touched files or issued a git/gh
// command, reported to the engine by the (out-of-scope) tool-dispatch
// collaborator.
type MutationEvent struct {
	Tag MutationTag

	// Path is set for the File* tags.
	Path string

	// CommandText is set for GitExecuted / RemoteExecuted: the verbatim
	// command line, consulted against the Invalidation Rulebook.
	CommandText string

	// PaneHandle and Keys are set for TerminalSent.
	PaneHandle string
	Keys       string
}

// WatcherTag distinguishes filesystem-watcher events from git-ref-watcher
// signals.
type WatcherTag int

const (
	WatcherFileChanged WatcherTag = iota
	WatcherDirChanged
	WatcherGitRefsChanged
)

// WatcherEvent is a filesystem change notification, translated from
// inotify-style events by the Filesystem Watcher or the Git-Ref Watcher.
type WatcherEvent struct {
	Tag  WatcherTag
	Path string // empty for WatcherGitRefsChanged
}
