package store

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCreateAndGetLoop(t *testing.T) {
	db := testDB(t)

	l := LoopRecord{
		Workspace: "/tmp/project",
		Settings:  LoopSettings{MaxIterations: 10, MaxAttempts: 3, MaxFixups: 2},
	}
	if err := db.CreateLoop(&l); err != nil {
		t.Fatalf("create loop: %v", err)
	}
	if l.ID == "" || l.StartedAt.IsZero() || l.HeartbeatAt.IsZero() {
		t.Fatalf("missing generated fields: %+v", l)
	}

	got, err := db.GetLoop(l.ID)
	if err != nil {
		t.Fatalf("get loop: %v", err)
	}
	if got.Status != LoopRunning || got.Settings.MaxIterations != 10 {
		t.Errorf("unexpected loop: %+v", got)
	}
}

func TestGetLoopNotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetLoop("nope"); !errors.Is(err, ErrLoopNotFound) {
		t.Errorf("err = %v, want ErrLoopNotFound", err)
	}
}

func TestUpdateLoopRejectsTerminal(t *testing.T) {
	db := testDB(t)

	l := LoopRecord{Workspace: "/w", Settings: LoopSettings{}}
	if err := db.CreateLoop(&l); err != nil {
		t.Fatalf("create loop: %v", err)
	}

	l.Status = LoopCompleted
	if err := db.UpdateLoop(&l); err != nil {
		t.Fatalf("finalize loop: %v", err)
	}

	l.Status = LoopRunning
	err := db.UpdateLoop(&l)
	if err == nil || !strings.Contains(err.Error(), "immutable") {
		t.Errorf("err = %v, want immutability error", err)
	}
}

func TestHeartbeat(t *testing.T) {
	db := testDB(t)

	l := LoopRecord{Workspace: "/w", Settings: LoopSettings{}}
	if err := db.CreateLoop(&l); err != nil {
		t.Fatalf("create loop: %v", err)
	}

	at := time.Now().UTC().Add(time.Minute)
	if err := db.Heartbeat(l.ID, at); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	got, _ := db.GetLoop(l.ID)
	if !got.HeartbeatAt.After(l.HeartbeatAt) {
		t.Errorf("heartbeat not advanced: %v", got.HeartbeatAt)
	}

	// Terminal loops stop accepting heartbeats.
	got.Status = LoopCancelled
	if err := db.UpdateLoop(got); err != nil {
		t.Fatalf("cancel loop: %v", err)
	}
	if err := db.Heartbeat(l.ID, time.Now()); !errors.Is(err, ErrLoopNotFound) {
		t.Errorf("err = %v, want ErrLoopNotFound for terminal loop", err)
	}
}

func TestAppendLogEntry(t *testing.T) {
	db := testDB(t)

	l := LoopRecord{Workspace: "/w", Settings: LoopSettings{}}
	if err := db.CreateLoop(&l); err != nil {
		t.Fatalf("create loop: %v", err)
	}

	for i := 1; i <= 3; i++ {
		err := db.AppendLogEntry(l.ID, LogEntry{
			Iteration: i,
			Action:    "completed",
			QualityResults: []QualityResult{
				{CheckID: "test", Name: "Tests", Passed: true, Required: true},
			},
		})
		if err != nil {
			t.Fatalf("append log entry: %v", err)
		}
	}

	got, err := db.GetLoop(l.ID)
	if err != nil {
		t.Fatalf("get loop: %v", err)
	}
	if len(got.Log) != 3 {
		t.Fatalf("got %d log entries, want 3", len(got.Log))
	}
	if got.Log[2].Iteration != 3 || got.Log[2].Timestamp.IsZero() {
		t.Errorf("unexpected last entry: %+v", got.Log[2])
	}
	if len(got.Log[0].QualityResults) != 1 {
		t.Errorf("quality results not persisted: %+v", got.Log[0])
	}
}

func TestActiveLoops(t *testing.T) {
	db := testDB(t)

	running := LoopRecord{Workspace: "/w", Settings: LoopSettings{}}
	paused := LoopRecord{Workspace: "/w", Status: LoopPaused, Settings: LoopSettings{}}
	done := LoopRecord{Workspace: "/w", Settings: LoopSettings{}}
	for _, l := range []*LoopRecord{&running, &paused, &done} {
		if err := db.CreateLoop(l); err != nil {
			t.Fatalf("create loop: %v", err)
		}
	}
	done.Status = LoopCompleted
	if err := db.UpdateLoop(&done); err != nil {
		t.Fatalf("finalize loop: %v", err)
	}

	active, err := db.ActiveLoops()
	if err != nil {
		t.Fatalf("active loops: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("got %d active loops, want 2", len(active))
	}

	completed := LoopCompleted
	list, err := db.ListLoops(&completed)
	if err != nil {
		t.Fatalf("list loops: %v", err)
	}
	if len(list) != 1 || list[0].ID != done.ID {
		t.Errorf("completed filter returned %+v", list)
	}
}
