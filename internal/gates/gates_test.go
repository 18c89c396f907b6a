package gates

import (
	"context"
	"strings"
	"testing"
	"time"

	"storyloop/internal/config"
)

func TestRunAllChecks(t *testing.T) {
	runner := NewCommandRunner([]config.CheckConfig{
		{ID: "ok", Name: "OK", Command: "echo pass", Required: true},
		{ID: "bad", Name: "Bad", Command: "echo oops; exit 1", Required: false},
	}, t.TempDir())

	results, err := runner.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	if !results[0].Passed || !strings.Contains(results[0].Output, "pass") {
		t.Errorf("unexpected first result: %+v", results[0])
	}
	if results[1].Passed {
		t.Errorf("expected failure: %+v", results[1])
	}
	if !strings.Contains(results[1].Output, "oops") {
		t.Errorf("output not captured: %q", results[1].Output)
	}
}

func TestRunSelectsByID(t *testing.T) {
	runner := NewCommandRunner([]config.CheckConfig{
		{ID: "a", Name: "A", Command: "true"},
		{ID: "b", Name: "B", Command: "true"},
	}, t.TempDir())

	results, err := runner.Run(context.Background(), []string{"b", "unknown"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 1 || results[0].CheckID != "b" {
		t.Errorf("got %+v, want only check b", results)
	}
}

func TestRunCheckTimeout(t *testing.T) {
	runner := NewCommandRunner([]config.CheckConfig{
		{ID: "slow", Name: "Slow", Command: "sleep 5", Required: true, Timeout: 100 * time.Millisecond},
	}, t.TempDir())

	results, err := runner.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if results[0].Passed {
		t.Error("expected timed-out check to fail")
	}
	if !strings.Contains(results[0].Output, "timed out") {
		t.Errorf("output = %q, want timeout notice", results[0].Output)
	}
}

func TestRequiredFailures(t *testing.T) {
	results := []Result{
		{CheckID: "a", Passed: false, Required: true},
		{CheckID: "b", Passed: false, Required: false},
		{CheckID: "c", Passed: true, Required: true},
	}

	failed := RequiredFailures(results)
	if len(failed) != 1 || failed[0].CheckID != "a" {
		t.Errorf("got %+v, want only check a", failed)
	}
	if AllRequiredPassed(results) {
		t.Error("expected AllRequiredPassed to be false")
	}
	if !AllRequiredPassed(results[1:]) {
		t.Error("optional failure should not block")
	}
}
