package vcs

import (
	"fmt"
	"os/exec"
	"strings"
)

// Git implements Adapter using the git CLI against a workspace directory.
type Git struct {
	workDir string
}

// NewGit creates a git adapter for the repository at the given path.
func NewGit(workDir string) *Git {
	return &Git{workDir: workDir}
}

// run executes a git command and returns its trimmed output.
func (g *Git) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = g.workDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// runSilent executes a git command and ignores output.
func (g *Git) runSilent(args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = g.workDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return nil
}

// IsDirty reports whether the workspace has uncommitted changes,
// including untracked files.
func (g *Git) IsDirty() (bool, error) {
	status, err := g.run("status", "--porcelain")
	if err != nil {
		return false, err
	}
	return len(status) > 0, nil
}

// Snapshot returns the current HEAD commit as the clean-state reference.
func (g *Git) Snapshot() (string, error) {
	return g.run("rev-parse", "HEAD")
}

// RevertToClean discards all uncommitted changes and untracked files.
func (g *Git) RevertToClean() error {
	if err := g.runSilent("reset", "--hard", "HEAD"); err != nil {
		return err
	}
	return g.runSilent("clean", "-fd")
}

// Commit stages all changes and commits them, returning the commit hash.
// If there is nothing to commit, the current HEAD is returned.
func (g *Git) Commit(message string) (string, error) {
	if err := g.runSilent("add", "-A"); err != nil {
		return "", err
	}

	dirty, err := g.IsDirty()
	if err != nil {
		return "", err
	}
	if !dirty {
		return g.Snapshot()
	}

	if err := g.runSilent("commit", "-m", message); err != nil {
		return "", err
	}
	return g.run("rev-parse", "HEAD")
}

// Verify Git implements Adapter at compile time.
var _ Adapter = (*Git)(nil)
