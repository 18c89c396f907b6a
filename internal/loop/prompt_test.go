package loop

import (
	"strings"
	"testing"

	"storyloop/internal/store"
)

func TestBuildPromptFreshAttempt(t *testing.T) {
	story := &store.Story{
		Title:       "Add pagination",
		Description: "Cursor-based pagination on the list endpoint.",
		Criteria:    []string{"page size capped at 100", "stable ordering"},
		Learnings:   []string{"off-by-one on the cursor boundary"},
	}
	all := []store.Story{
		{Status: store.StoryCompleted},
		{Status: store.StoryPending},
		*story,
	}

	prompt := buildPrompt(story, "", all)

	for _, want := range []string{
		"## Story: Add pagination",
		"Cursor-based pagination",
		"1. page size capped at 100",
		"2. stable ordering",
		"off-by-one on the cursor boundary",
		"1 completed, 0 failed",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "Failing checks") {
		t.Error("fresh attempt must not carry fix-up context")
	}
}

func TestBuildPromptFixup(t *testing.T) {
	story := &store.Story{Title: "Fix the build"}
	prompt := buildPrompt(story, "[build] Build:\n./api.go:10: undefined: Foo", nil)

	if !strings.Contains(prompt, "Failing checks") {
		t.Error("fix-up prompt must carry the failing output")
	}
	if !strings.Contains(prompt, "undefined: Foo") {
		t.Error("fix-up prompt must include the check output")
	}
	if !strings.Contains(prompt, "without starting over") {
		t.Error("fix-up prompt must ask for an in-place repair")
	}
}

func TestFailureLearning(t *testing.T) {
	note := failureLearning([]store.QualityResult{
		{Name: "Tests", Passed: false, Required: true, Output: "FAIL: TestX"},
		{Name: "Lint", Passed: false, Required: false},
	}, nil)
	if !strings.Contains(note, "Tests") || strings.Contains(note, "Lint") {
		t.Errorf("note should name only required failures: %q", note)
	}

	if note := failureLearning(nil, errTest); !strings.Contains(note, "agent session failed") {
		t.Errorf("unexpected agent-error note: %q", note)
	}

	if note := failureLearning([]store.QualityResult{{Name: "ok", Passed: true}}, nil); note != "" {
		t.Errorf("passing results should produce no note, got %q", note)
	}
}

var errTest = &testError{}

type testError struct{}

func (*testError) Error() string { return "boom" }
