// Package gates runs configured quality checks (build/lint/test) against
// a workspace and reports pass/fail per check.
package gates

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"storyloop/internal/config"
)

// Result is the outcome of one quality check.
type Result struct {
	CheckID  string
	Name     string
	Passed   bool
	Required bool
	Output   string
	Duration time.Duration
}

// Runner executes quality checks against a workspace.
type Runner interface {
	// Run executes the checks with the given IDs. Unknown IDs are ignored;
	// an empty id list runs every configured check.
	Run(ctx context.Context, checkIDs []string) ([]Result, error)
}

// CommandRunner runs checks as shell commands in the workspace directory.
type CommandRunner struct {
	checks  []config.CheckConfig
	workDir string
}

// NewCommandRunner creates a runner over the configured checks.
func NewCommandRunner(checks []config.CheckConfig, workDir string) *CommandRunner {
	return &CommandRunner{checks: checks, workDir: workDir}
}

const defaultCheckTimeout = 10 * time.Minute

// Run executes the selected checks sequentially and returns one result per
// check. A non-zero exit marks the check failed; the error return is reserved
// for the runner itself being unable to operate.
func (r *CommandRunner) Run(ctx context.Context, checkIDs []string) ([]Result, error) {
	selected := r.selectChecks(checkIDs)

	results := make([]Result, 0, len(selected))
	for _, check := range selected {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		results = append(results, r.runCheck(ctx, check))
	}
	return results, nil
}

func (r *CommandRunner) selectChecks(checkIDs []string) []config.CheckConfig {
	if len(checkIDs) == 0 {
		return r.checks
	}

	wanted := make(map[string]bool, len(checkIDs))
	for _, id := range checkIDs {
		wanted[id] = true
	}

	var selected []config.CheckConfig
	for _, check := range r.checks {
		if wanted[check.ID] {
			selected = append(selected, check)
		}
	}
	return selected
}

func (r *CommandRunner) runCheck(ctx context.Context, check config.CheckConfig) Result {
	result := Result{
		CheckID:  check.ID,
		Name:     check.Name,
		Required: check.Required,
	}

	timeout := check.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(checkCtx, "sh", "-c", check.Command)
	cmd.Dir = r.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result.Duration = time.Since(start)
	result.Output = combineOutput(stdout.String(), stderr.String())

	if checkCtx.Err() == context.DeadlineExceeded {
		result.Passed = false
		result.Output = "check timed out after " + timeout.String() + "\n" + result.Output
		return result
	}

	result.Passed = err == nil
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			result.Output = "failed to run check: " + err.Error() + "\n" + result.Output
		}
	}
	return result
}

func combineOutput(stdout, stderr string) string {
	var combined strings.Builder
	if stdout != "" {
		combined.WriteString(stdout)
	}
	if stderr != "" {
		if combined.Len() > 0 {
			combined.WriteString("\n")
		}
		combined.WriteString(stderr)
	}
	return combined.String()
}

// RequiredFailures returns the results of required checks that did not pass.
func RequiredFailures(results []Result) []Result {
	var failed []Result
	for _, res := range results {
		if res.Required && !res.Passed {
			failed = append(failed, res)
		}
	}
	return failed
}

// AllRequiredPassed reports whether every required check passed.
func AllRequiredPassed(results []Result) bool {
	return len(RequiredFailures(results)) == 0
}

// Verify CommandRunner implements Runner at compile time.
var _ Runner = (*CommandRunner)(nil)
