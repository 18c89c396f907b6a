package loop

import "errors"

// Precondition and control errors surfaced by the orchestrator.
var (
	// ErrNoEligibleWork means the scope has no pending or in-progress
	// stories to work on (research-only stories do not count).
	ErrNoEligibleWork = errors.New("no eligible work in scope")

	// ErrDirtyWorkspace means the workspace has uncommitted changes. A dirty
	// tree causes cascading false failures across unrelated stories, so
	// starting is refused outright.
	ErrDirtyWorkspace = errors.New("workspace has uncommitted changes")

	// ErrRunnerUnavailable means a control operation needs a live runner but
	// none exists, typically because the process restarted since the loop
	// was paused.
	ErrRunnerUnavailable = errors.New("no live runner for loop")

	// ErrLoopTerminal means the loop already reached a final status.
	ErrLoopTerminal = errors.New("loop is in a terminal status")
)
