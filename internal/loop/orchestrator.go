package loop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"storyloop/internal/agentapi"
	"storyloop/internal/config"
	"storyloop/internal/gates"
	"storyloop/internal/logging"
	"storyloop/internal/store"
	"storyloop/internal/tracker"
	"storyloop/internal/vcs"
)

// Options configures an Orchestrator. DB and Agent are required; everything
// else has a working default.
type Options struct {
	DB      *store.DB
	Agent   agentapi.SessionClient
	Tracker tracker.Writeback
	Emitter *Emitter
	Timing  Timing
	Checks  []config.CheckConfig

	// StaleAfter is how old a heartbeat may be before a loop counts as a
	// zombie. SweepInterval is the background sweep cadence.
	StaleAfter    time.Duration
	SweepInterval time.Duration

	// NewVCS and NewGates build the per-workspace collaborators. Defaults
	// use git and shell-command checks.
	NewVCS   func(workDir string) vcs.Adapter
	NewGates func(workDir string) gates.Runner
}

// Orchestrator coordinates loop runners process-wide: it starts, pauses,
// resumes, and cancels loops, owns the zombie-recovery sweep, and exposes
// the query surface. Construct one at process start and share it by
// reference; all methods are safe for concurrent use.
type Orchestrator struct {
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	runners map[string]*Runner
	cancels map[string]context.CancelFunc
}

// NewOrchestrator creates an orchestrator. Call StartSweeper to enable the
// background zombie sweep and Recover once at startup.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Tracker == nil {
		opts.Tracker = tracker.Noop{}
	}
	if opts.Emitter == nil {
		opts.Emitter = NewEmitter(256)
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 90 * time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	if opts.NewVCS == nil {
		opts.NewVCS = func(workDir string) vcs.Adapter { return vcs.NewGit(workDir) }
	}
	if opts.NewGates == nil {
		checks := opts.Checks
		opts.NewGates = func(workDir string) gates.Runner {
			return gates.NewCommandRunner(checks, workDir)
		}
	}
	return &Orchestrator{
		opts:    opts,
		log:     logging.Component("orchestrator"),
		runners: make(map[string]*Runner),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Events returns the progress event channel shared by all loops.
func (o *Orchestrator) Events() <-chan Event {
	return o.opts.Emitter.Events()
}

// StartLoop validates preconditions, persists a running loop record, and
// starts a runner asynchronously. Returns immediately with the loop id.
// Fails with ErrNoEligibleWork when the scope has nothing to do and with
// ErrDirtyWorkspace when the tree has uncommitted changes.
func (o *Orchestrator) StartLoop(ctx context.Context, scope store.Scope, workDir string, settings store.LoopSettings) (string, error) {
	if err := scope.Validate(); err != nil {
		return "", err
	}
	if workDir == "" {
		workDir = scope.Workspace
	}
	if workDir == "" {
		return "", fmt.Errorf("epic-scoped loop requires an explicit workspace directory")
	}
	settings.WorkDir = workDir
	applySettingsDefaults(&settings)

	stories, err := o.opts.DB.ListStories(scope, nil)
	if err != nil {
		return "", fmt.Errorf("read stories: %w", err)
	}
	if !hasEligibleWork(stories) {
		return "", fmt.Errorf("%w: %s", ErrNoEligibleWork, scope)
	}

	dirty, err := o.opts.NewVCS(workDir).IsDirty()
	if err != nil {
		return "", fmt.Errorf("check workspace: %w", err)
	}
	if dirty {
		return "", fmt.Errorf("%w: %s", ErrDirtyWorkspace, workDir)
	}

	rec := &store.LoopRecord{
		EpicID:    scope.EpicID,
		Workspace: scope.Workspace,
		Status:    store.LoopRunning,
		Settings:  settings,
	}
	if err := o.opts.DB.CreateLoop(rec); err != nil {
		return "", err
	}

	o.launch(rec)
	o.log.Info().Str("loop_id", rec.ID).Str("scope", scope.String()).Msg("loop started")
	return rec.ID, nil
}

// launch builds a runner for the record and runs it in its own goroutine.
func (o *Orchestrator) launch(rec *store.LoopRecord) {
	workDir := rec.Settings.WorkDir
	runner := NewRunner(rec, workDir, o.opts.Timing, RunnerDeps{
		DB:      o.opts.DB,
		Agent:   o.opts.Agent,
		Gates:   o.opts.NewGates(workDir),
		VCS:     o.opts.NewVCS(workDir),
		Tracker: o.opts.Tracker,
		Emitter: o.opts.Emitter,
	})

	runCtx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.runners[rec.ID] = runner
	o.cancels[rec.ID] = cancel
	o.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			o.mu.Lock()
			delete(o.runners, rec.ID)
			delete(o.cancels, rec.ID)
			o.mu.Unlock()
		}()
		runner.Run(runCtx)
	}()
}

// PauseLoop pauses a loop at its next iteration boundary. Idempotent; on a
// terminal loop it is a no-op. Without a live runner it degrades to a
// status update.
func (o *Orchestrator) PauseLoop(loopID string) error {
	rec, err := o.opts.DB.GetLoop(loopID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() || rec.Status == store.LoopPaused {
		return nil
	}

	o.mu.Lock()
	runner := o.runners[loopID]
	o.mu.Unlock()

	if runner != nil {
		runner.Pause()
		return nil
	}

	now := time.Now().UTC()
	rec.Status = store.LoopPaused
	rec.PausedAt = &now
	if err := o.opts.DB.UpdateLoop(rec); err != nil {
		return err
	}
	o.opts.Emitter.Emit(Event{Type: EventPaused, LoopID: loopID})
	return nil
}

// ResumeLoop releases a paused loop. Idempotent on running and terminal
// loops. A paused loop whose runner died with the process cannot be
// resumed and returns ErrRunnerUnavailable; it has to be restarted fresh.
func (o *Orchestrator) ResumeLoop(loopID string) error {
	rec, err := o.opts.DB.GetLoop(loopID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() || rec.Status == store.LoopRunning {
		return nil
	}

	o.mu.Lock()
	runner := o.runners[loopID]
	o.mu.Unlock()

	if runner == nil {
		return fmt.Errorf("%w: %s", ErrRunnerUnavailable, loopID)
	}
	runner.Resume()
	return nil
}

// CancelLoop requests cooperative cancellation. Idempotent; cancelling a
// terminal loop is a no-op. Without a live runner the record is finalized
// directly and its in-flight stories are released.
func (o *Orchestrator) CancelLoop(loopID string) error {
	rec, err := o.opts.DB.GetLoop(loopID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return nil
	}

	o.mu.Lock()
	runner := o.runners[loopID]
	cancel := o.cancels[loopID]
	o.mu.Unlock()

	if runner != nil {
		runner.Stop()
		if cancel != nil {
			cancel()
		}
		return nil
	}

	return o.finalizeAbsent(rec, store.LoopCancelled, "cancelled by user")
}

// GetLoopState returns the full persisted loop record, sweeping first when
// the record claims to be active so observers never see a stale zombie.
func (o *Orchestrator) GetLoopState(loopID string) (*store.LoopRecord, error) {
	rec, err := o.opts.DB.GetLoop(loopID)
	if err != nil {
		return nil, err
	}
	if !rec.Status.Terminal() {
		o.Sweep()
		return o.opts.DB.GetLoop(loopID)
	}
	return rec, nil
}

// ListLoops lists loop records, optionally filtered by status. Queries that
// can include non-terminal loops trigger an opportunistic sweep first.
func (o *Orchestrator) ListLoops(status *store.LoopStatus) ([]store.LoopRecord, error) {
	if status == nil || !status.Terminal() {
		o.Sweep()
	}
	return o.opts.DB.ListLoops(status)
}

// Sweep reconciles zombie loops: any persisted running/paused loop with no
// in-memory runner, or whose heartbeat is older than the staleness
// threshold, is marked failed and its in-flight stories are released back
// to pending. Scoped strictly per loop so concurrent loops are untouched.
func (o *Orchestrator) Sweep() {
	active, err := o.opts.DB.ActiveLoops()
	if err != nil {
		o.log.Warn().Err(err).Msg("zombie sweep: cannot list active loops")
		return
	}

	cutoff := time.Now().UTC().Add(-o.opts.StaleAfter)
	for i := range active {
		rec := &active[i]

		o.mu.Lock()
		runner := o.runners[rec.ID]
		cancel := o.cancels[rec.ID]
		o.mu.Unlock()

		stale := rec.HeartbeatAt.Before(cutoff)
		if runner != nil && !stale {
			continue
		}

		cause := "no live runner for active loop"
		if runner != nil {
			cause = fmt.Sprintf("runner heartbeat stale since %s", rec.HeartbeatAt.Format(time.RFC3339))
			runner.Stop()
			if cancel != nil {
				cancel()
			}
		}
		o.log.Warn().Str("loop_id", rec.ID).Str("cause", cause).Msg("reconciling zombie loop")

		if err := o.finalizeAbsent(rec, store.LoopFailed, cause); err != nil {
			o.log.Error().Err(err).Str("loop_id", rec.ID).Msg("zombie reconciliation failed")
		}
	}
}

// StartSweeper runs the periodic zombie sweep until ctx is cancelled.
func (o *Orchestrator) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(o.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.Sweep()
			}
		}
	}()
}

// Recover reconciles persisted loops after a process restart: every
// running/paused loop gets its in-flight stories reset, then is either
// resumed with a fresh runner (pending work remains) or finalized. Restart
// is not an error from the user's point of view.
func (o *Orchestrator) Recover() error {
	active, err := o.opts.DB.ActiveLoops()
	if err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}

	for i := range active {
		rec := &active[i]
		if err := recoverOrphans(o.opts.DB, rec.Scope(), ""); err != nil {
			o.log.Error().Err(err).Str("loop_id", rec.ID).Msg("startup recovery: story reset failed")
			continue
		}

		stories, err := o.opts.DB.ListStories(rec.Scope(), nil)
		if err != nil {
			o.log.Error().Err(err).Str("loop_id", rec.ID).Msg("startup recovery: cannot read stories")
			continue
		}

		if hasEligibleWork(stories) && rec.Settings.WorkDir != "" {
			if rec.Status == store.LoopPaused {
				rec.Status = store.LoopRunning
				rec.PausedAt = nil
				if err := o.opts.DB.UpdateLoop(rec); err != nil {
					o.log.Error().Err(err).Str("loop_id", rec.ID).Msg("startup recovery: cannot unpause")
					continue
				}
			}
			o.log.Info().Str("loop_id", rec.ID).Msg("startup recovery: resuming loop with fresh runner")
			o.launch(rec)
			continue
		}

		status := store.LoopFailed
		message := "finalized at startup: no resumable work"
		if allWorkDone(stories) {
			status = store.LoopCompleted
			message = "finalized at startup: all stories completed"
		}
		if err := o.finalizeAbsent(rec, status, message); err != nil {
			o.log.Error().Err(err).Str("loop_id", rec.ID).Msg("startup recovery: finalize failed")
		}
	}
	return nil
}

// Shutdown stops all live runners cooperatively and waits briefly for them
// to reach a terminal status.
func (o *Orchestrator) Shutdown(timeout time.Duration) {
	o.mu.Lock()
	for id, runner := range o.runners {
		runner.Stop()
		if cancel := o.cancels[id]; cancel != nil {
			cancel()
		}
	}
	o.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		o.mu.Lock()
		remaining := len(o.runners)
		o.mu.Unlock()
		if remaining == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// finalizeAbsent moves a runnerless record to a terminal status, releases
// its in-flight stories, and emits the terminal event.
func (o *Orchestrator) finalizeAbsent(rec *store.LoopRecord, status store.LoopStatus, message string) error {
	if err := recoverOrphans(o.opts.DB, rec.Scope(), ""); err != nil {
		o.log.Warn().Err(err).Str("loop_id", rec.ID).Msg("story reset failed during finalize")
	}

	now := time.Now().UTC()
	rec.Status = status
	rec.Message = message
	rec.CompletedAt = &now
	rec.CurrentStoryID = ""
	rec.CurrentSessionID = ""
	if err := o.opts.DB.UpdateLoop(rec); err != nil {
		return err
	}

	eventType := EventFailed
	switch status {
	case store.LoopCancelled:
		eventType = EventCancelled
	case store.LoopCompleted:
		eventType = EventCompleted
	}
	o.opts.Emitter.Emit(Event{Type: eventType, LoopID: rec.ID, Message: message})
	return nil
}

// hasEligibleWork reports whether any story is pending or in progress,
// ignoring research-only stories.
func hasEligibleWork(stories []store.Story) bool {
	for i := range stories {
		s := &stories[i]
		if s.ResearchOnly {
			continue
		}
		if s.Status == store.StoryPending || s.Status == store.StoryInProgress {
			return true
		}
	}
	return false
}

// allWorkDone reports whether every story is terminal or research-only,
// with at least one completed.
func allWorkDone(stories []store.Story) bool {
	anyCompleted := false
	for i := range stories {
		s := &stories[i]
		if s.ResearchOnly {
			continue
		}
		if !s.Status.Terminal() {
			return false
		}
		if s.Status == store.StoryCompleted {
			anyCompleted = true
		}
	}
	return anyCompleted
}

// applySettingsDefaults fills zero-valued budget fields on a settings
// snapshot so a record is always self-describing.
func applySettingsDefaults(settings *store.LoopSettings) {
	if settings.MaxIterations <= 0 {
		settings.MaxIterations = 50
	}
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = 3
	}
	if settings.MaxFixups <= 0 {
		settings.MaxFixups = 2
	}
}
