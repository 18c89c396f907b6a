package loop

import (
	"strings"
	"testing"

	"storyloop/internal/store"
)

func pendingStory(id, title string, prio store.Priority, deps ...string) store.Story {
	return store.Story{
		ID:          id,
		Workspace:   "/w",
		Title:       title,
		Priority:    prio,
		DependsOn:   deps,
		Status:      store.StoryPending,
		MaxAttempts: 3,
	}
}

func TestPickNextPriorityOrder(t *testing.T) {
	// The store returns stories sorted by priority rank then sort order;
	// pickNext takes the first eligible one.
	stories := []store.Story{
		pendingStory("a", "critical", store.PriorityCritical),
		pendingStory("b", "high", store.PriorityHigh),
	}

	got := pickNext(stories, "")
	if got == nil || got.ID != "a" {
		t.Fatalf("picked %+v, want story a", got)
	}
}

func TestPickNextSkipsIneligible(t *testing.T) {
	research := pendingStory("r", "research", store.PriorityCritical)
	research.ResearchOnly = true

	exhausted := pendingStory("e", "exhausted", store.PriorityCritical)
	exhausted.Attempts = 3

	blocked := pendingStory("b", "blocked", store.PriorityCritical, "missing-dep")

	ok := pendingStory("ok", "eligible", store.PriorityLow)

	got := pickNext([]store.Story{research, exhausted, blocked, ok}, "")
	if got == nil || got.ID != "ok" {
		t.Fatalf("picked %+v, want the eligible story", got)
	}
}

func TestPickNextDependencyGate(t *testing.T) {
	dep := pendingStory("dep", "dependency", store.PriorityLow)
	child := pendingStory("child", "dependent", store.PriorityCritical, "dep")

	if got := pickNext([]store.Story{child, dep}, ""); got == nil || got.ID != "dep" {
		t.Fatalf("picked %+v, want the dependency first", got)
	}

	dep.Status = store.StoryCompleted
	if got := pickNext([]store.Story{child, dep}, ""); got == nil || got.ID != "child" {
		t.Fatalf("picked %+v, want the child once dependency completed", got)
	}
}

func TestPickNextPrefersFixupEvenWhenAttemptsSpent(t *testing.T) {
	// A fix-up continuation does not consume attempts, so the ceiling must
	// not block reselection of the story whose change is still in the tree.
	fixup := pendingStory("f", "fixup", store.PriorityLow)
	fixup.Attempts = 3

	other := pendingStory("o", "other", store.PriorityCritical)

	got := pickNext([]store.Story{other, fixup}, "f")
	if got == nil || got.ID != "f" {
		t.Fatalf("picked %+v, want the fix-up continuation", got)
	}
}

func TestClassifyStall(t *testing.T) {
	if kind := classifyStall(nil); kind != stallEmpty {
		t.Errorf("empty set: got %d, want stallEmpty", kind)
	}

	done := pendingStory("a", "done", store.PriorityLow)
	done.Status = store.StoryCompleted
	research := pendingStory("r", "research", store.PriorityLow)
	research.ResearchOnly = true
	if kind := classifyStall([]store.Story{done, research}); kind != stallAllDone {
		t.Errorf("all done: got %d, want stallAllDone", kind)
	}

	running := pendingStory("x", "stuck", store.PriorityLow)
	running.Status = store.StoryInProgress
	if kind := classifyStall([]store.Story{done, running}); kind != stallInProgress {
		t.Errorf("in progress: got %d, want stallInProgress", kind)
	}

	eligible := pendingStory("y", "eligible", store.PriorityLow)
	if kind := classifyStall([]store.Story{eligible}); kind != stallEligiblePending {
		t.Errorf("eligible pending: got %d, want stallEligiblePending", kind)
	}

	blocked := pendingStory("z", "blocked", store.PriorityLow, "missing")
	if kind := classifyStall([]store.Story{done, blocked}); kind != stallExhausted {
		t.Errorf("blocked: got %d, want stallExhausted", kind)
	}
}

func TestStallMessageDistinguishesDeadlock(t *testing.T) {
	a := pendingStory("a", "first", store.PriorityLow, "b")
	b := pendingStory("b", "second", store.PriorityLow, "a")

	msg := stallMessage([]store.Story{a, b})
	if !strings.Contains(msg, "dependency deadlock") {
		t.Errorf("message %q should name the deadlock", msg)
	}

	spent := pendingStory("c", "spent", store.PriorityLow)
	spent.Attempts = 3
	msg = stallMessage([]store.Story{spent})
	if !strings.Contains(msg, "attempt budget") {
		t.Errorf("message %q should name attempt exhaustion", msg)
	}
}
