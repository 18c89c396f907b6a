package loop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storyloop/internal/gates"
	"storyloop/internal/store"
	"storyloop/internal/vcs"
)

func newTestOrchestrator(t *testing.T, db *store.DB, agent *fakeAgent, g *fakeGates, v *fakeVCS) *Orchestrator {
	t.Helper()
	return NewOrchestrator(Options{
		DB:            db,
		Agent:         agent,
		Timing:        testTiming,
		StaleAfter:    time.Minute,
		SweepInterval: time.Minute,
		NewVCS:        func(string) vcs.Adapter { return v },
		NewGates:      func(string) gates.Runner { return g },
	})
}

func TestStartLoopRefusesEmptyScope(t *testing.T) {
	db := loopDB(t)
	orch := newTestOrchestrator(t, db, &fakeAgent{}, &fakeGates{}, &fakeVCS{})

	_, err := orch.StartLoop(context.Background(), store.Scope{Workspace: "/w"}, "/w", store.LoopSettings{})
	require.ErrorIs(t, err, ErrNoEligibleWork)
}

func TestStartLoopRefusesDirtyWorkspace(t *testing.T) {
	db := loopDB(t)
	s := addStory(t, db, store.Story{Title: "anything"})
	orch := newTestOrchestrator(t, db, &fakeAgent{}, &fakeGates{}, &fakeVCS{dirty: true})

	_, err := orch.StartLoop(context.Background(), store.Scope{Workspace: "/w"}, "/w", store.LoopSettings{})
	require.ErrorIs(t, err, ErrDirtyWorkspace)

	// Refused before any story transitioned.
	got, err := db.GetStory(s.ID)
	require.NoError(t, err)
	require.Equal(t, store.StoryPending, got.Status)

	loops, err := db.ListLoops(nil)
	require.NoError(t, err)
	require.Empty(t, loops)
}

func TestStartLoopRunsToCompletion(t *testing.T) {
	db := loopDB(t)
	addStory(t, db, store.Story{Title: "one"})
	orch := newTestOrchestrator(t, db, &fakeAgent{}, &fakeGates{}, &fakeVCS{})

	loopID, err := orch.StartLoop(context.Background(), store.Scope{Workspace: "/w"}, "/w", store.LoopSettings{})
	require.NoError(t, err)
	require.NotEmpty(t, loopID)

	waitFor(t, func() bool {
		rec, err := db.GetLoop(loopID)
		return err == nil && rec.Status.Terminal()
	}, "loop did not terminate")

	rec, err := orch.GetLoopState(loopID)
	require.NoError(t, err)
	require.Equal(t, store.LoopCompleted, rec.Status)
	require.Equal(t, 1, rec.StoriesCompleted)
}

func TestControlOperationsAreIdempotent(t *testing.T) {
	db := loopDB(t)

	rec := &store.LoopRecord{Workspace: "/w", Settings: store.LoopSettings{WorkDir: "/w"}}
	require.NoError(t, db.CreateLoop(rec))

	orch := newTestOrchestrator(t, db, &fakeAgent{}, &fakeGates{}, &fakeVCS{})

	// Pause without a live runner degrades to a status update; twice is fine.
	require.NoError(t, orch.PauseLoop(rec.ID))
	require.NoError(t, orch.PauseLoop(rec.ID))
	got, err := db.GetLoop(rec.ID)
	require.NoError(t, err)
	require.Equal(t, store.LoopPaused, got.Status)

	// Resume needs a runner that no longer exists.
	require.ErrorIs(t, orch.ResumeLoop(rec.ID), ErrRunnerUnavailable)

	// Cancel finalizes the record; cancelling again is a no-op.
	require.NoError(t, orch.CancelLoop(rec.ID))
	require.NoError(t, orch.CancelLoop(rec.ID))
	got, err = db.GetLoop(rec.ID)
	require.NoError(t, err)
	require.Equal(t, store.LoopCancelled, got.Status)

	// Control on terminal loops stays a no-op.
	require.NoError(t, orch.PauseLoop(rec.ID))
	require.NoError(t, orch.ResumeLoop(rec.ID))
	require.Equal(t, store.LoopCancelled, got.Status)
}

func TestSweepReconcilesZombies(t *testing.T) {
	db := loopDB(t)
	s := addStory(t, db, store.Story{Title: "orphaned", Status: store.StoryInProgress, Attempts: 1})

	rec := &store.LoopRecord{
		Workspace:      "/w",
		Settings:       store.LoopSettings{WorkDir: "/w"},
		CurrentStoryID: s.ID,
	}
	require.NoError(t, db.CreateLoop(rec))

	orch := newTestOrchestrator(t, db, &fakeAgent{}, &fakeGates{}, &fakeVCS{})
	orch.Sweep()

	got, err := db.GetLoop(rec.ID)
	require.NoError(t, err)
	require.Equal(t, store.LoopFailed, got.Status)
	require.Empty(t, got.CurrentStoryID)

	story, err := db.GetStory(s.ID)
	require.NoError(t, err)
	require.Equal(t, store.StoryPending, story.Status, "in-flight story released by the sweep")
}

func TestSweepIgnoresOtherScopes(t *testing.T) {
	db := loopDB(t)

	// A healthy story in a different workspace must not be touched.
	other := store.Story{Workspace: "/other", Title: "busy", Status: store.StoryInProgress, MaxAttempts: 3}
	require.NoError(t, db.CreateStory(&other))

	rec := &store.LoopRecord{Workspace: "/w", Settings: store.LoopSettings{WorkDir: "/w"}}
	require.NoError(t, db.CreateLoop(rec))

	orch := newTestOrchestrator(t, db, &fakeAgent{}, &fakeGates{}, &fakeVCS{})
	orch.Sweep()

	got, err := db.GetStory(other.ID)
	require.NoError(t, err)
	require.Equal(t, store.StoryInProgress, got.Status)
}

func TestGetLoopStateSweepsFirst(t *testing.T) {
	db := loopDB(t)
	rec := &store.LoopRecord{Workspace: "/w", Settings: store.LoopSettings{WorkDir: "/w"}}
	require.NoError(t, db.CreateLoop(rec))

	orch := newTestOrchestrator(t, db, &fakeAgent{}, &fakeGates{}, &fakeVCS{})

	// The record claims running but no runner exists: observers must see
	// the reconciled state, not the zombie.
	got, err := orch.GetLoopState(rec.ID)
	require.NoError(t, err)
	require.Equal(t, store.LoopFailed, got.Status)
}

func TestRecoverResumesLoopWithPendingWork(t *testing.T) {
	db := loopDB(t)
	s := addStory(t, db, store.Story{Title: "unfinished", Status: store.StoryInProgress, Attempts: 1})

	rec := &store.LoopRecord{
		Workspace:      "/w",
		Settings:       store.LoopSettings{WorkDir: "/w", MaxIterations: 10, MaxAttempts: 3, MaxFixups: 2},
		CurrentStoryID: s.ID,
	}
	require.NoError(t, db.CreateLoop(rec))

	orch := newTestOrchestrator(t, db, &fakeAgent{}, &fakeGates{}, &fakeVCS{})
	require.NoError(t, orch.Recover())

	waitFor(t, func() bool {
		got, err := db.GetLoop(rec.ID)
		return err == nil && got.Status.Terminal()
	}, "recovered loop did not terminate")

	got, err := db.GetLoop(rec.ID)
	require.NoError(t, err)
	require.Equal(t, store.LoopCompleted, got.Status)

	story, err := db.GetStory(s.ID)
	require.NoError(t, err)
	require.Equal(t, store.StoryCompleted, story.Status)
	require.NotEqual(t, store.StoryInProgress, story.Status, "no story may stay in progress after restart")
}

func TestRecoverFinalizesFinishedLoop(t *testing.T) {
	db := loopDB(t)
	done := store.Story{Workspace: "/w", Title: "shipped", Status: store.StoryCompleted, MaxAttempts: 3}
	require.NoError(t, db.CreateStory(&done))

	rec := &store.LoopRecord{Workspace: "/w", Settings: store.LoopSettings{WorkDir: "/w"}}
	require.NoError(t, db.CreateLoop(rec))

	orch := newTestOrchestrator(t, db, &fakeAgent{}, &fakeGates{}, &fakeVCS{})
	require.NoError(t, orch.Recover())

	got, err := db.GetLoop(rec.ID)
	require.NoError(t, err)
	require.Equal(t, store.LoopCompleted, got.Status)
	require.Contains(t, got.Message, "finalized at startup")
}
