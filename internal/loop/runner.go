// Package loop contains the work-item completion engine: story selection,
// the per-iteration state machine, the fix-up/rollback policy, and the
// orchestrator that owns runner lifecycles and zombie recovery.
package loop

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"storyloop/internal/agentapi"
	"storyloop/internal/gates"
	"storyloop/internal/logging"
	"storyloop/internal/store"
	"storyloop/internal/tracker"
	"storyloop/internal/vcs"
)

// Timing controls runner cadence. Zero fields use the defaults below.
type Timing struct {
	StoryTimeout      time.Duration
	IterationDelay    time.Duration
	HeartbeatInterval time.Duration
	SelectionRetries  int
	MaxLearnings      int
}

func (t Timing) withDefaults() Timing {
	if t.StoryTimeout <= 0 {
		t.StoryTimeout = 20 * time.Minute
	}
	if t.IterationDelay <= 0 {
		t.IterationDelay = 2 * time.Second
	}
	if t.HeartbeatInterval <= 0 {
		t.HeartbeatInterval = 15 * time.Second
	}
	if t.SelectionRetries <= 0 {
		t.SelectionRetries = 3
	}
	if t.MaxLearnings <= 0 {
		t.MaxLearnings = 10
	}
	return t
}

// RunnerDeps bundles the collaborators a runner needs.
type RunnerDeps struct {
	DB      *store.DB
	Agent   agentapi.SessionClient
	Gates   gates.Runner
	VCS     vcs.Adapter
	Tracker tracker.Writeback
	Emitter *Emitter
}

// Runner drives one loop's iteration cycle: select a story, delegate it to
// the agent, run quality gates, apply the accept/fix-up/rollback policy, and
// persist the outcome. Iterations are strictly sequential.
type Runner struct {
	deps     RunnerDeps
	pause    *PauseController
	log      zerolog.Logger
	loopID   string
	scope    store.Scope
	workDir  string
	settings store.LoopSettings
	timing   Timing

	// Fix-up state for the story whose failed change is still in the tree.
	// Held in memory only: a process restart always begins with a fresh
	// attempt from a clean workspace.
	fixupStoryID string
	fixupCount   int
	fixupContext string

	sessionID string
}

// NewRunner creates a runner for an existing loop record.
func NewRunner(rec *store.LoopRecord, workDir string, timing Timing, deps RunnerDeps) *Runner {
	return &Runner{
		deps:     deps,
		pause:    NewPauseController(),
		log:      logging.Component("runner").With().Str("loop_id", rec.ID).Logger(),
		loopID:   rec.ID,
		scope:    rec.Scope(),
		workDir:  workDir,
		settings: rec.Settings,
		timing:   timing.withDefaults(),
	}
}

// Pause closes the cooperative gate at the next iteration boundary.
func (r *Runner) Pause() { r.pause.Pause() }

// Resume reopens the gate.
func (r *Runner) Resume() { r.pause.Resume() }

// Stop requests cancellation; checked at iteration boundaries.
func (r *Runner) Stop() { r.pause.Stop() }

// Run executes the loop until a terminal condition. It is intended to run
// in its own goroutine; the record is guaranteed to be in a terminal status
// by the time Run returns, whatever happens inside.
func (r *Runner) Run(ctx context.Context) {
	defer r.ensureTerminal()

	hbCtx, stopHeartbeat := context.WithCancel(context.Background())
	defer stopHeartbeat()
	go r.heartbeatLoop(hbCtx)

	r.emit(Event{Type: EventStarted, Message: "loop started for " + r.scope.String()})
	r.log.Info().Str("scope", r.scope.String()).Msg("loop started")

	status, message := r.iterate(ctx)
	r.finish(status, message)
}

// iterate runs the selection/delegation cycle and returns the terminal
// status with a human-readable cause.
func (r *Runner) iterate(ctx context.Context) (store.LoopStatus, string) {
	selectionRetries := 0

	for {
		if r.cancelled(ctx) {
			return store.LoopCancelled, "cancelled by user"
		}
		if stop, msg := r.waitAtGate(ctx); stop {
			return store.LoopCancelled, msg
		}

		rec, err := r.deps.DB.GetLoop(r.loopID)
		if err != nil {
			return store.LoopFailed, fmt.Sprintf("loop record unreadable: %v", err)
		}
		if rec.Status.Terminal() {
			// Reconciled externally (zombie sweep); nothing left to do.
			return rec.Status, rec.Message
		}
		if rec.Status == store.LoopPaused && !r.pause.IsPaused() {
			// Paused through the store by another process; honor it at
			// this boundary.
			r.pause.Pause()
			continue
		}

		iteration := rec.Iteration + 1
		if iteration > r.settings.MaxIterations {
			return store.LoopFailed, fmt.Sprintf("iteration budget of %d exhausted", r.settings.MaxIterations)
		}

		if err := recoverOrphans(r.deps.DB, r.scope, ""); err != nil {
			r.log.Warn().Err(err).Msg("orphan recovery failed, retrying next iteration")
		}

		stories, err := r.deps.DB.ListStories(r.scope, nil)
		if err != nil {
			r.log.Warn().Err(err).Msg("story read failed")
			selectionRetries++
			if selectionRetries > r.timing.SelectionRetries {
				return store.LoopFailed, fmt.Sprintf("story store unreadable: %v", err)
			}
			r.sleep(ctx)
			continue
		}

		story := pickNext(stories, r.fixupStoryID)
		if story == nil {
			switch classifyStall(stories) {
			case stallAllDone:
				return store.LoopCompleted, "all stories completed"
			case stallEmpty:
				selectionRetries++
				if selectionRetries > r.timing.SelectionRetries {
					return store.LoopFailed, "story set is empty"
				}
				r.log.Warn().Int("retry", selectionRetries).Msg("story set read back empty, retrying")
				r.sleep(ctx)
				continue
			case stallInProgress, stallEligiblePending:
				selectionRetries++
				if selectionRetries > r.timing.SelectionRetries {
					return store.LoopFailed, "selection kept failing on an inconsistent story set"
				}
				r.log.Warn().Int("retry", selectionRetries).Msg("inconsistent story set, retrying selection")
				r.sleep(ctx)
				continue
			default: // stallExhausted
				return store.LoopFailed, stallMessage(stories)
			}
		}
		selectionRetries = 0

		r.emit(Event{Type: EventIterationStart, Iteration: iteration,
			StoryID: story.ID, StoryTitle: story.Title})

		outcome := r.runIteration(ctx, iteration, story, stories)

		r.emit(Event{Type: EventIterationEnd, Iteration: iteration,
			StoryID: story.ID, StoryTitle: story.Title})

		if outcome.cancelled {
			return store.LoopCancelled, "cancelled by user"
		}
		if outcome.storyFailed && r.settings.PauseOnFailure {
			r.pause.Pause()
		}
		r.sleep(ctx)
	}
}

// iterationOutcome summarizes one iteration for the outer policy.
type iterationOutcome struct {
	storyFailed bool
	cancelled   bool
}

// runIteration executes one delegate→gate→decide→persist pass for the
// selected story. Any error or panic inside is contained: it becomes a log
// entry and an item-level outcome, never a runner crash.
func (r *Runner) runIteration(ctx context.Context, iteration int, story *store.Story, all []store.Story) (out iterationOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Str("story_id", story.ID).Msg("iteration panicked")
			r.containIterationError(iteration, story, fmt.Errorf("iteration panic: %v", rec))
			out = iterationOutcome{storyFailed: true}
		}
	}()

	fixup := r.fixupStoryID == story.ID && r.fixupContext != ""

	// Delegate: mark in progress. Attempts are consumed by fresh starts
	// only, never by fix-up continuations.
	prevAttempts := story.Attempts
	if !fixup {
		story.Attempts++
	}
	story.Status = store.StoryInProgress
	if err := r.deps.DB.UpdateStory(story); err != nil {
		r.containIterationError(iteration, story, fmt.Errorf("mark story in progress: %w", err))
		return iterationOutcome{storyFailed: true}
	}

	if r.settings.AutoSnapshot && !fixup {
		if ref, err := r.deps.VCS.Snapshot(); err != nil {
			r.log.Warn().Err(err).Msg("workspace snapshot failed")
		} else {
			r.log.Debug().Str("snapshot", ref).Msg("clean-state snapshot recorded")
		}
	}

	if !fixup || r.sessionID == "" {
		sessionID, err := r.deps.Agent.CreateSession(ctx, r.workDir, agentapi.ModelParams{
			Model:        r.settings.Model,
			MaxTokens:    r.settings.MaxTokens,
			SystemPrompt: r.systemPrompt(),
		})
		if err != nil {
			r.decideAgentError(iteration, story, fmt.Errorf("create session: %w", err))
			return iterationOutcome{storyFailed: true}
		}
		r.sessionID = sessionID
	}
	story.SessionID = r.sessionID
	r.updateRecord(func(rec *store.LoopRecord) {
		rec.Iteration = iteration
		rec.CurrentStoryID = story.ID
		rec.CurrentSessionID = r.sessionID
	})

	r.emit(Event{Type: EventStoryStarted, Iteration: iteration,
		StoryID: story.ID, StoryTitle: story.Title,
		Message: attemptLabel(story, fixup, r.fixupCount)})
	r.log.Info().Str("story_id", story.ID).Str("title", story.Title).
		Bool("fixup", fixup).Int("attempt", story.Attempts).Msg("delegating story")

	var fixupContext string
	if fixup {
		fixupContext = r.fixupContext
	}
	prompt := buildPrompt(story, fixupContext, all)

	// The agent call gets a hard timeout but is insulated from loop
	// cancellation: an in-flight session is never interrupted, its result
	// is simply discarded if cancellation is observed afterwards.
	promptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timing.StoryTimeout)
	reply, agentErr := r.deps.Agent.SendPrompt(promptCtx, r.sessionID, prompt)
	cancel()

	if r.cancelled(ctx) {
		// Discard the result; the story goes back to pending with its
		// previous attempt count since nothing was evaluated.
		story.Status = store.StoryPending
		story.Attempts = prevAttempts
		if err := r.deps.DB.UpdateStory(story); err != nil {
			r.log.Warn().Err(err).Msg("failed to reset story after cancellation")
		}
		r.clearCurrent(iteration, story, "cancelled", "result discarded after cancellation", nil)
		return iterationOutcome{cancelled: true}
	}

	if agentErr != nil {
		r.decideAgentError(iteration, story, agentErr)
		return iterationOutcome{storyFailed: true}
	}
	if reply.Truncated {
		r.log.Warn().Str("story_id", story.ID).Msg("agent reply truncated at timeout, evaluating partial result")
	}

	// Gate.
	results, err := r.deps.Gates.Run(ctx, r.settings.EnabledChecks)
	if err != nil {
		r.containIterationError(iteration, story, fmt.Errorf("run quality checks: %w", err))
		return iterationOutcome{storyFailed: true}
	}
	quality := toQualityResults(results)
	for _, q := range quality {
		r.emit(Event{Type: EventQualityCheck, Iteration: iteration,
			StoryID: story.ID, StoryTitle: story.Title,
			Message: q.Name, Quality: []store.QualityResult{q}})
	}

	// Decide.
	if gates.AllRequiredPassed(results) {
		r.accept(iteration, story, quality)
		return iterationOutcome{}
	}
	return r.rejectOrFixup(iteration, story, quality, results)
}

// accept marks the story completed, optionally commits, and pushes tracker
// status.
func (r *Runner) accept(iteration int, story *store.Story, quality []store.QualityResult) {
	r.clearFixup()

	detail := "all required checks passed"
	if r.settings.AutoCommit {
		ref, err := r.deps.VCS.Commit(fmt.Sprintf("Implement story: %s", story.Title))
		if err != nil {
			r.log.Warn().Err(err).Msg("auto-commit failed")
			detail += "; auto-commit failed: " + err.Error()
		} else {
			story.CommitRef = ref
			detail += "; committed " + ref
		}
	}

	story.Status = store.StoryCompleted
	if err := r.deps.DB.UpdateStory(story); err != nil {
		r.log.Error().Err(err).Str("story_id", story.ID).Msg("failed to persist completed story")
	}

	r.pushTracker(story, tracker.OutcomeCompleted)
	r.closeSession()

	r.updateRecord(func(rec *store.LoopRecord) { rec.StoriesCompleted++ })
	r.clearCurrent(iteration, story, "completed", detail, quality)

	r.emit(Event{Type: EventStoryCompleted, Iteration: iteration,
		StoryID: story.ID, StoryTitle: story.Title, Quality: quality})
	r.log.Info().Str("story_id", story.ID).Msg("story completed")
}

// rejectOrFixup applies the retry policy after required checks failed.
func (r *Runner) rejectOrFixup(iteration int, story *store.Story, quality []store.QualityResult, results []gates.Result) iterationOutcome {
	failing := gates.RequiredFailures(results)
	r.recordLearning(story, failureLearning(quality, nil), iteration)

	if r.fixupCount < r.settings.MaxFixups {
		// Keep the dirty tree and ask the agent to repair it next iteration.
		r.fixupStoryID = story.ID
		r.fixupCount++
		r.fixupContext = formatFailures(failing)

		story.Status = store.StoryPending
		if err := r.deps.DB.UpdateStory(story); err != nil {
			r.log.Error().Err(err).Msg("failed to reschedule story for fix-up")
		}
		r.clearCurrent(iteration, story, "fixup_scheduled",
			fmt.Sprintf("required checks failed, fix-up %d/%d scheduled", r.fixupCount, r.settings.MaxFixups), quality)
		r.log.Info().Str("story_id", story.ID).Int("fixup", r.fixupCount).Msg("fix-up scheduled")
		return iterationOutcome{}
	}

	// Fix-up budget spent: roll the tree back and either retry fresh or
	// give up on the story.
	r.clearFixup()
	r.closeSession()
	if err := r.deps.VCS.RevertToClean(); err != nil {
		r.log.Error().Err(err).Msg("workspace revert failed")
	}

	if story.Attempts >= story.MaxAttempts {
		story.Status = store.StoryFailed
		if err := r.deps.DB.UpdateStory(story); err != nil {
			r.log.Error().Err(err).Msg("failed to persist failed story")
		}
		r.pushTracker(story, tracker.OutcomeFailed)
		r.updateRecord(func(rec *store.LoopRecord) { rec.StoriesFailed++ })
		r.clearCurrent(iteration, story, "failed", "attempt budget exhausted", quality)
		r.emit(Event{Type: EventStoryFailed, Iteration: iteration,
			StoryID: story.ID, StoryTitle: story.Title,
			Message: "attempt budget exhausted", Quality: quality})
		r.log.Warn().Str("story_id", story.ID).Msg("story failed, attempts exhausted")
		return iterationOutcome{storyFailed: true}
	}

	story.Status = store.StoryPending
	if err := r.deps.DB.UpdateStory(story); err != nil {
		r.log.Error().Err(err).Msg("failed to reschedule story")
	}
	r.clearCurrent(iteration, story, "retry_fresh",
		fmt.Sprintf("fix-ups exhausted, reverted for fresh attempt %d/%d", story.Attempts+1, story.MaxAttempts), quality)
	return iterationOutcome{storyFailed: true}
}

// decideAgentError applies the transport-error policy: always revert and
// retry fresh. An agent error can leave the tree in any state, so no fix-up
// is ever attempted on top of it.
func (r *Runner) decideAgentError(iteration int, story *store.Story, agentErr error) {
	r.log.Warn().Err(agentErr).Str("story_id", story.ID).Msg("agent session error")

	r.clearFixup()
	r.closeSession()
	if err := r.deps.VCS.RevertToClean(); err != nil {
		r.log.Error().Err(err).Msg("workspace revert failed")
	}

	r.recordLearning(story, failureLearning(nil, agentErr), iteration)

	if story.Attempts >= story.MaxAttempts {
		story.Status = store.StoryFailed
		if err := r.deps.DB.UpdateStory(story); err != nil {
			r.log.Error().Err(err).Msg("failed to persist failed story")
		}
		r.pushTracker(story, tracker.OutcomeFailed)
		r.updateRecord(func(rec *store.LoopRecord) { rec.StoriesFailed++ })
		r.clearCurrent(iteration, story, "failed", "agent error: "+agentErr.Error(), nil)
		r.emit(Event{Type: EventStoryFailed, Iteration: iteration,
			StoryID: story.ID, StoryTitle: story.Title, Message: agentErr.Error()})
		return
	}

	story.Status = store.StoryPending
	if err := r.deps.DB.UpdateStory(story); err != nil {
		r.log.Error().Err(err).Msg("failed to reschedule story")
	}
	r.clearCurrent(iteration, story, "agent_error",
		"reverted, rescheduled as fresh attempt: "+agentErr.Error(), nil)
}

// containIterationError converts an infrastructure error inside one
// iteration into a log entry and resets the in-flight story so a single bad
// iteration cannot corrupt loop state.
func (r *Runner) containIterationError(iteration int, story *store.Story, err error) {
	r.log.Error().Err(err).Str("story_id", story.ID).Msg("iteration error contained")

	if s, getErr := r.deps.DB.GetStory(story.ID); getErr == nil && s.Status == store.StoryInProgress {
		if s.Attempts >= s.MaxAttempts {
			s.Status = store.StoryFailed
		} else {
			s.Status = store.StoryPending
		}
		if updErr := r.deps.DB.UpdateStory(s); updErr != nil {
			r.log.Error().Err(updErr).Msg("failed to reset in-flight story")
		}
	}
	r.clearCurrent(iteration, story, "error", err.Error(), nil)
}

// waitAtGate blocks at the pause gate, keeping the persisted status in sync
// and emitting pause/resume events. Returns true when the wait ended in
// cancellation.
func (r *Runner) waitAtGate(ctx context.Context) (stopped bool, message string) {
	if !r.pause.IsPaused() {
		return false, ""
	}

	now := time.Now().UTC()
	r.updateRecord(func(rec *store.LoopRecord) {
		rec.Status = store.LoopPaused
		rec.PausedAt = &now
	})
	r.emit(Event{Type: EventPaused})
	r.log.Info().Msg("loop paused")

	if err := r.pause.WaitIfPaused(ctx); err != nil {
		return true, "cancelled by user"
	}

	r.updateRecord(func(rec *store.LoopRecord) {
		rec.Status = store.LoopRunning
		rec.PausedAt = nil
	})
	r.emit(Event{Type: EventResumed})
	r.log.Info().Msg("loop resumed")
	return false, ""
}

// finish moves the record to its terminal status and emits the matching
// event with a human-readable cause.
func (r *Runner) finish(status store.LoopStatus, message string) {
	r.closeSession()
	r.pause.Stop()

	now := time.Now().UTC()
	r.updateRecord(func(rec *store.LoopRecord) {
		rec.Status = status
		rec.Message = message
		rec.CompletedAt = &now
		rec.CurrentStoryID = ""
		rec.CurrentSessionID = ""
	})

	event := Event{Message: message}
	switch status {
	case store.LoopCompleted:
		event.Type = EventCompleted
	case store.LoopCancelled:
		event.Type = EventCancelled
	default:
		event.Type = EventFailed
	}
	r.emit(event)
	r.log.Info().Str("status", string(status)).Str("cause", message).Msg("loop finished")
}

// ensureTerminal is the top-level safety net: whatever path the runner
// goroutine exits through, the record must not stay running or paused.
func (r *Runner) ensureTerminal() {
	if rec := recover(); rec != nil {
		r.log.Error().Interface("panic", rec).Msg("runner goroutine panicked")
	}

	current, err := r.deps.DB.GetLoop(r.loopID)
	if err != nil || current.Status.Terminal() {
		return
	}

	r.pause.Stop()
	now := time.Now().UTC()
	r.updateRecord(func(rec *store.LoopRecord) {
		rec.Status = store.LoopFailed
		rec.Message = "runner exited unexpectedly"
		rec.CompletedAt = &now
		rec.CurrentStoryID = ""
		rec.CurrentSessionID = ""
	})
	r.emit(Event{Type: EventFailed, Message: "runner exited unexpectedly"})
}

// heartbeatLoop proves liveness on a fixed period independent of iteration
// cadence, so a runner stuck inside one long iteration is not swept as a
// zombie.
func (r *Runner) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.timing.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := r.deps.DB.Heartbeat(r.loopID, now.UTC()); err != nil {
				r.log.Debug().Err(err).Msg("heartbeat skipped")
			}
		}
	}
}

// clearCurrent appends the iteration log entry and clears the transient
// current-story/current-session pointers on the record.
func (r *Runner) clearCurrent(iteration int, story *store.Story, action, detail string, quality []store.QualityResult) {
	entry := store.LogEntry{
		Iteration:      iteration,
		StoryID:        story.ID,
		StoryTitle:     story.Title,
		Action:         action,
		Detail:         detail,
		Timestamp:      time.Now().UTC(),
		QualityResults: quality,
	}
	if err := r.deps.DB.AppendLogEntry(r.loopID, entry); err != nil {
		r.log.Error().Err(err).Msg("failed to append log entry")
	}
	r.updateRecord(func(rec *store.LoopRecord) {
		rec.CurrentStoryID = ""
		rec.CurrentSessionID = ""
	})
}

// recordLearning persists a failure note and emits a learning event.
func (r *Runner) recordLearning(story *store.Story, note string, iteration int) {
	if note == "" {
		return
	}
	if err := r.deps.DB.AppendLearning(story.ID, note, r.timing.MaxLearnings); err != nil {
		r.log.Warn().Err(err).Msg("failed to record learning")
		return
	}
	story.Learnings = append(story.Learnings, note)
	r.emit(Event{Type: EventLearning, Iteration: iteration,
		StoryID: story.ID, StoryTitle: story.Title, Message: note})
}

// updateRecord applies a mutation to the loop record as read-modify-write.
func (r *Runner) updateRecord(mutate func(*store.LoopRecord)) {
	rec, err := r.deps.DB.GetLoop(r.loopID)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to read loop record")
		return
	}
	if rec.Status.Terminal() {
		return
	}
	mutate(rec)
	if err := r.deps.DB.UpdateLoop(rec); err != nil {
		r.log.Error().Err(err).Msg("failed to update loop record")
	}
}

func (r *Runner) pushTracker(story *store.Story, outcome tracker.Outcome) {
	if r.deps.Tracker == nil || story.TrackerRef == "" {
		return
	}
	meta := map[string]string{"story_id": story.ID}
	if story.CommitRef != "" {
		meta["commit"] = story.CommitRef
	}
	if err := r.deps.Tracker.PushStatus(story.TrackerRef, outcome, meta); err != nil {
		r.log.Warn().Err(err).Str("ref", story.TrackerRef).Msg("tracker writeback failed")
	}
}

func (r *Runner) clearFixup() {
	r.fixupStoryID = ""
	r.fixupCount = 0
	r.fixupContext = ""
}

func (r *Runner) closeSession() {
	if r.sessionID != "" {
		r.deps.Agent.CloseSession(r.sessionID)
		r.sessionID = ""
	}
}

func (r *Runner) systemPrompt() string {
	if r.settings.SystemPrompt != "" {
		return r.settings.SystemPrompt
	}
	return defaultSystemPrompt
}

func (r *Runner) cancelled(ctx context.Context) bool {
	return ctx.Err() != nil || r.pause.IsStopped()
}

func (r *Runner) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(r.timing.IterationDelay):
	}
}

func (r *Runner) emit(event Event) {
	if r.deps.Emitter == nil {
		return
	}
	event.LoopID = r.loopID
	r.deps.Emitter.Emit(event)
}

func attemptLabel(story *store.Story, fixup bool, fixupCount int) string {
	if fixup {
		return fmt.Sprintf("fix-up %d (attempt %d/%d)", fixupCount, story.Attempts, story.MaxAttempts)
	}
	return fmt.Sprintf("attempt %d/%d", story.Attempts, story.MaxAttempts)
}

func toQualityResults(results []gates.Result) []store.QualityResult {
	quality := make([]store.QualityResult, 0, len(results))
	for _, res := range results {
		quality = append(quality, store.QualityResult{
			CheckID:    res.CheckID,
			Name:       res.Name,
			Passed:     res.Passed,
			Required:   res.Required,
			Output:     truncate(res.Output, 2000),
			DurationMS: res.Duration.Milliseconds(),
		})
	}
	return quality
}

func formatFailures(failing []gates.Result) string {
	var out string
	for _, f := range failing {
		if out != "" {
			out += "\n\n"
		}
		out += fmt.Sprintf("[%s] %s:\n%s", f.CheckID, f.Name, truncate(f.Output, 4000))
	}
	return out
}
