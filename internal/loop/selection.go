package loop

import (
	"fmt"

	"storyloop/internal/store"
)

// eligible reports whether a story can be selected for a fresh attempt or
// fix-up continuation: pending, not research-only, attempts remaining, and
// every dependency completed.
func eligible(s *store.Story, byID map[string]*store.Story) bool {
	if s.Status != store.StoryPending || s.ResearchOnly {
		return false
	}
	if s.Attempts >= s.MaxAttempts {
		return false
	}
	return depsCompleted(s, byID)
}

func depsCompleted(s *store.Story, byID map[string]*store.Story) bool {
	for _, depID := range s.DependsOn {
		dep, ok := byID[depID]
		if !ok || dep.Status != store.StoryCompleted {
			return false
		}
	}
	return true
}

func indexByID(stories []store.Story) map[string]*store.Story {
	byID := make(map[string]*store.Story, len(stories))
	for i := range stories {
		byID[stories[i].ID] = &stories[i]
	}
	return byID
}

// pickNext chooses the next story to work on. Stories arrive pre-sorted by
// priority rank then sort order from the store. When preferID names a
// pending fix-up continuation, it wins regardless of ordering so the dirty
// workspace is repaired before anything else runs; the attempts ceiling does
// not apply to it since fix-ups do not consume attempts.
func pickNext(stories []store.Story, preferID string) *store.Story {
	byID := indexByID(stories)

	if preferID != "" {
		if s, ok := byID[preferID]; ok &&
			s.Status == store.StoryPending && !s.ResearchOnly && depsCompleted(s, byID) {
			return s
		}
	}
	for i := range stories {
		if eligible(&stories[i], byID) {
			return &stories[i]
		}
	}
	return nil
}

// stallKind classifies why selection returned nothing. The runner applies
// its retry/exit policy in this order.
type stallKind int

const (
	// stallEmpty: the story set read back empty, possibly a transient race.
	stallEmpty stallKind = iota
	// stallAllDone: every story is completed, skipped, or research-only.
	stallAllDone
	// stallInProgress: a story is still marked in_progress after recovery.
	stallInProgress
	// stallEligiblePending: eligible pending stories exist but none was
	// selected, a detected inconsistency.
	stallEligiblePending
	// stallExhausted: all remaining stories are dependency-blocked or out
	// of attempts.
	stallExhausted
)

// classifyStall determines why no story was selectable.
func classifyStall(stories []store.Story) stallKind {
	if len(stories) == 0 {
		return stallEmpty
	}

	byID := indexByID(stories)

	allDone := true
	for i := range stories {
		s := &stories[i]
		if s.Status == store.StoryInProgress {
			return stallInProgress
		}
		if !s.Status.Terminal() && !s.ResearchOnly {
			allDone = false
		}
		if eligible(s, byID) {
			return stallEligiblePending
		}
	}
	if allDone {
		return stallAllDone
	}
	return stallExhausted
}

// stallMessage builds the human-readable cause for a terminal failure when
// no more work can be selected. Dependency-blocked stories are called out
// separately from attempt-exhausted ones so a deadlocked backlog is not
// mistaken for one that simply ran out of retries.
func stallMessage(stories []store.Story) string {
	byID := indexByID(stories)

	var blocked, exhausted []string
	for i := range stories {
		s := &stories[i]
		if s.Status != store.StoryPending || s.ResearchOnly {
			continue
		}
		if s.Attempts >= s.MaxAttempts {
			exhausted = append(exhausted, s.Title)
		} else if !depsCompleted(s, byID) {
			blocked = append(blocked, s.Title)
		}
	}

	switch {
	case len(blocked) > 0 && len(exhausted) > 0:
		return fmt.Sprintf("no story can make progress: %d blocked by incomplete dependencies, %d out of attempts", len(blocked), len(exhausted))
	case len(blocked) > 0:
		return fmt.Sprintf("dependency deadlock: %d pending stories are blocked by dependencies that will never complete (first: %q)", len(blocked), blocked[0])
	case len(exhausted) > 0:
		return fmt.Sprintf("%d stories exhausted their attempt budget (first: %q)", len(exhausted), exhausted[0])
	default:
		return "no selectable stories remain"
	}
}

// recoverOrphans resets any in_progress story other than currentID back to
// pending, or failed if its attempt budget is spent. Safe to re-enter.
func recoverOrphans(db *store.DB, scope store.Scope, currentID string) error {
	inProgress := store.StoryInProgress
	stories, err := db.ListStories(scope, &inProgress)
	if err != nil {
		return fmt.Errorf("recover orphans: %w", err)
	}

	for i := range stories {
		s := &stories[i]
		if s.ID == currentID {
			continue
		}
		if s.Attempts >= s.MaxAttempts {
			s.Status = store.StoryFailed
		} else {
			s.Status = store.StoryPending
		}
		if err := db.UpdateStory(s); err != nil {
			return fmt.Errorf("recover orphan %s: %w", s.ID, err)
		}
	}
	return nil
}
