package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
anthropic:
  model: claude-haiku-4-5-20251001
loop:
  max_iterations: 7
  story_timeout: 5m
  pause_on_failure: true
checks:
  - id: build
    name: Build
    command: make build
    required: true
    timeout: 2m
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Anthropic.Model != "claude-haiku-4-5-20251001" {
		t.Errorf("model = %q", cfg.Anthropic.Model)
	}
	if cfg.Loop.MaxIterations != 7 {
		t.Errorf("max iterations = %d, want 7", cfg.Loop.MaxIterations)
	}
	if cfg.Loop.StoryTimeout != 5*time.Minute {
		t.Errorf("story timeout = %v, want 5m", cfg.Loop.StoryTimeout)
	}
	if !cfg.Loop.PauseOnFailure {
		t.Error("pause_on_failure not set")
	}

	// Defaults still apply for untouched fields.
	if cfg.Loop.MaxAttempts != 3 || cfg.Loop.MaxFixups != 2 {
		t.Errorf("budget defaults missing: %+v", cfg.Loop)
	}
	if cfg.Loop.HeartbeatInterval != 15*time.Second {
		t.Errorf("heartbeat interval = %v", cfg.Loop.HeartbeatInterval)
	}

	if len(cfg.Checks) != 1 || cfg.Checks[0].Command != "make build" {
		t.Errorf("checks = %+v", cfg.Checks)
	}
}

func TestDatabasePath(t *testing.T) {
	cfg := &Config{}
	got := cfg.DatabasePath("/proj")
	want := filepath.Join("/proj", ".storyloop", "state.db")
	if got != want {
		t.Errorf("database path = %q, want %q", got, want)
	}

	cfg.Database.Path = "/custom/state.db"
	if got := cfg.DatabasePath("/proj"); got != "/custom/state.db" {
		t.Errorf("override ignored: %q", got)
	}
}
