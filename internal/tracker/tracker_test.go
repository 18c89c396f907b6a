package tracker

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestJournalAppendsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal", "writeback.jsonl")
	j, err := NewJournal(path)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}

	if err := j.PushStatus("PROJ-1", OutcomeCompleted, map[string]string{"commit": "abc123"}); err != nil {
		t.Fatalf("push status: %v", err)
	}
	if err := j.PushStatus("PROJ-2", OutcomeFailed, nil); err != nil {
		t.Fatalf("push status: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer f.Close()

	var entries []journalEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e journalEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("parse line: %v", err)
		}
		entries = append(entries, e)
	}

	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Ref != "PROJ-1" || entries[0].Outcome != OutcomeCompleted {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[0].Metadata["commit"] != "abc123" {
		t.Errorf("metadata not persisted: %+v", entries[0])
	}
	if entries[1].Timestamp.IsZero() {
		t.Error("timestamp missing")
	}
}

func TestNoop(t *testing.T) {
	if err := (Noop{}).PushStatus("x", OutcomeSkipped, nil); err != nil {
		t.Fatalf("noop: %v", err)
	}
}
