// Package tracker pushes story outcomes to an external work tracker.
// Writeback is best-effort: the loop records failures but never blocks on
// the tracker.
package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Outcome is the terminal result reported for a story.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// Writeback reports story outcomes to an external tracker.
type Writeback interface {
	// PushStatus reports the outcome for the tracker item identified by ref.
	// Metadata carries supplementary fields such as commit refs or failure
	// detail.
	PushStatus(ref string, outcome Outcome, metadata map[string]string) error
}

// Noop discards all writeback calls. Used when no tracker is configured.
type Noop struct{}

// PushStatus does nothing.
func (Noop) PushStatus(string, Outcome, map[string]string) error { return nil }

// Journal appends writeback records to a JSON-lines file so an external
// integration can sync them later.
type Journal struct {
	path string
	mu   sync.Mutex
}

// NewJournal creates a file journal at the given path, creating parent
// directories as needed.
func NewJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	return &Journal{path: path}, nil
}

type journalEntry struct {
	Ref       string            `json:"ref"`
	Outcome   Outcome           `json:"outcome"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// PushStatus appends one record to the journal file.
func (j *Journal) PushStatus(ref string, outcome Outcome, metadata map[string]string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	line, err := json.Marshal(journalEntry{
		Ref:       ref,
		Outcome:   outcome,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	return nil
}

var (
	_ Writeback = Noop{}
	_ Writeback = (*Journal)(nil)
)
