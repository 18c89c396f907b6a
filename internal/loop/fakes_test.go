package loop

import (
	"context"
	"fmt"
	"sync"

	"storyloop/internal/agentapi"
	"storyloop/internal/gates"
	"storyloop/internal/tracker"
)

// fakeAgent scripts SendPrompt outcomes: each call pops the next error from
// errs (nil means a successful reply).
type fakeAgent struct {
	mu       sync.Mutex
	errs     []error
	calls    int
	sessions int
	prompts  []string
}

func (f *fakeAgent) CreateSession(ctx context.Context, workDir string, params agentapi.ModelParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions++
	return fmt.Sprintf("sess-%d", f.sessions), nil
}

func (f *fakeAgent) SendPrompt(ctx context.Context, sessionID, prompt string) (agentapi.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	call := f.calls
	f.calls++
	if call < len(f.errs) && f.errs[call] != nil {
		return agentapi.Reply{}, f.errs[call]
	}
	return agentapi.Reply{Text: "done"}, nil
}

func (f *fakeAgent) CloseSession(sessionID string) {}

// fakeGates scripts check outcomes per Run call: true passes, false fails a
// required check. Calls beyond the script pass.
type fakeGates struct {
	mu     sync.Mutex
	script []bool
	calls  int
}

func (f *fakeGates) Run(ctx context.Context, checkIDs []string) ([]gates.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pass := true
	if f.calls < len(f.script) {
		pass = f.script[f.calls]
	}
	f.calls++
	return []gates.Result{{
		CheckID:  "test",
		Name:     "Tests",
		Passed:   pass,
		Required: true,
		Output:   "FAIL: TestThing",
	}}, nil
}

// fakeVCS counts operations and reports a configurable dirty state.
type fakeVCS struct {
	mu        sync.Mutex
	dirty     bool
	snapshots int
	reverts   int
	commits   int
}

func (f *fakeVCS) IsDirty() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty, nil
}

func (f *fakeVCS) Snapshot() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots++
	return fmt.Sprintf("snap-%d", f.snapshots), nil
}

func (f *fakeVCS) RevertToClean() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reverts++
	return nil
}

func (f *fakeVCS) Commit(message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	return fmt.Sprintf("commit-%d", f.commits), nil
}

func (f *fakeVCS) revertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reverts
}

// fakeTracker records writeback calls.
type fakeTracker struct {
	mu     sync.Mutex
	pushes []trackerPush
}

type trackerPush struct {
	ref     string
	outcome tracker.Outcome
}

func (f *fakeTracker) PushStatus(ref string, outcome tracker.Outcome, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, trackerPush{ref: ref, outcome: outcome})
	return nil
}
