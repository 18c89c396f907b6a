// Package vcs abstracts version-control operations on a workspace.
// The loop engine only needs four operations; it must not assume any
// particular version-control tool.
package vcs

// Adapter defines the version-control operations the loop engine consumes.
type Adapter interface {
	// IsDirty reports whether the workspace has uncommitted changes.
	IsDirty() (bool, error)
	// Snapshot captures a reference to the current clean state.
	Snapshot() (string, error)
	// RevertToClean discards all uncommitted changes, returning the
	// workspace to the last committed state.
	RevertToClean() error
	// Commit stages everything and creates a commit with the given message,
	// returning the new commit reference.
	Commit(message string) (string, error)
}
