package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LoopStatus represents the status of a loop record.
type LoopStatus string

const (
	LoopRunning   LoopStatus = "running"
	LoopPaused    LoopStatus = "paused"
	LoopCompleted LoopStatus = "completed"
	LoopFailed    LoopStatus = "failed"
	LoopCancelled LoopStatus = "cancelled"
)

// Terminal reports whether the status is a final state. Terminal records
// are immutable.
func (s LoopStatus) Terminal() bool {
	return s == LoopCompleted || s == LoopFailed || s == LoopCancelled
}

// LoopSettings is the config snapshot embedded in a loop record. It is
// captured at start and never changes for the life of the loop.
type LoopSettings struct {
	// WorkDir is the workspace directory the loop operates in. For
	// workspace-scoped loops it matches the scope; epic-scoped loops need
	// it recorded so a restarted process can rebuild the runner.
	WorkDir        string   `json:"work_dir"`
	MaxIterations  int      `json:"max_iterations"`
	MaxAttempts    int      `json:"max_attempts"`
	MaxFixups      int      `json:"max_fixups"`
	Model          string   `json:"model,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
	AutoSnapshot   bool     `json:"auto_snapshot"`
	AutoCommit     bool     `json:"auto_commit"`
	PauseOnFailure bool     `json:"pause_on_failure"`
	EnabledChecks  []string `json:"enabled_checks,omitempty"`
	SystemPrompt   string   `json:"system_prompt,omitempty"`
}

// QualityResult records one quality check outcome inside a log entry.
type QualityResult struct {
	CheckID    string `json:"check_id"`
	Name       string `json:"name"`
	Passed     bool   `json:"passed"`
	Required   bool   `json:"required"`
	Output     string `json:"output,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// LogEntry is one line of a loop's append-only iteration log.
type LogEntry struct {
	Iteration      int             `json:"iteration"`
	StoryID        string          `json:"story_id,omitempty"`
	StoryTitle     string          `json:"story_title,omitempty"`
	Action         string          `json:"action"`
	Detail         string          `json:"detail,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	QualityResults []QualityResult `json:"quality_results,omitempty"`
}

// LoopRecord is one execution of the completion loop over a scope.
type LoopRecord struct {
	ID               string       `json:"id"`
	EpicID           string       `json:"epic_id,omitempty"`
	Workspace        string       `json:"workspace,omitempty"`
	Status           LoopStatus   `json:"status"`
	Settings         LoopSettings `json:"settings"`
	Iteration        int          `json:"iteration"`
	CurrentStoryID   string       `json:"current_story_id,omitempty"`
	CurrentSessionID string       `json:"current_session_id,omitempty"`
	StartedAt        time.Time    `json:"started_at"`
	PausedAt         *time.Time   `json:"paused_at,omitempty"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
	HeartbeatAt      time.Time    `json:"heartbeat_at"`
	StoriesCompleted int          `json:"stories_completed"`
	StoriesFailed    int          `json:"stories_failed"`
	Log              []LogEntry   `json:"log,omitempty"`
	Message          string       `json:"message,omitempty"`
}

// Scope returns the scope this loop operates on.
func (l *LoopRecord) Scope() Scope {
	return Scope{EpicID: l.EpicID, Workspace: l.Workspace}
}

// ErrLoopNotFound is returned when a loop lookup misses.
var ErrLoopNotFound = errors.New("loop not found")

const loopColumns = `id, epic_id, workspace, status, settings, iteration,
	current_story_id, current_session_id, started_at, paused_at, completed_at,
	heartbeat_at, stories_completed, stories_failed, log, message`

// CreateLoop inserts a new loop record. An ID is generated if not set.
func (db *DB) CreateLoop(l *LoopRecord) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if err := l.Scope().Validate(); err != nil {
		return fmt.Errorf("create loop: %w", err)
	}
	if l.Status == "" {
		l.Status = LoopRunning
	}

	now := time.Now().UTC()
	if l.StartedAt.IsZero() {
		l.StartedAt = now
	}
	if l.HeartbeatAt.IsZero() {
		l.HeartbeatAt = now
	}

	settings, err := json.Marshal(l.Settings)
	if err != nil {
		return fmt.Errorf("marshal loop settings: %w", err)
	}
	logJSON, _ := json.Marshal(l.Log)

	_, err = db.Exec(`
		INSERT INTO loops (`+loopColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, nullable(l.EpicID), nullable(l.Workspace), string(l.Status),
		string(settings), l.Iteration, nullable(l.CurrentStoryID),
		nullable(l.CurrentSessionID), formatTime(l.StartedAt),
		formatTimePtr(l.PausedAt), formatTimePtr(l.CompletedAt),
		formatTime(l.HeartbeatAt), l.StoriesCompleted, l.StoriesFailed,
		string(logJSON), nullable(l.Message))
	if err != nil {
		return fmt.Errorf("create loop: %w", err)
	}
	return nil
}

// GetLoop retrieves a loop record by ID, including its iteration log.
func (db *DB) GetLoop(id string) (*LoopRecord, error) {
	row := db.QueryRow(`SELECT `+loopColumns+` FROM loops WHERE id = ?`, id)
	l, err := scanLoop(row)
	if err == sql.ErrNoRows {
		return nil, ErrLoopNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get loop: %w", err)
	}
	return l, nil
}

// UpdateLoop persists all mutable fields of a loop record.
// Records already in a terminal status are immutable.
func (db *DB) UpdateLoop(l *LoopRecord) error {
	existing, err := db.GetLoop(l.ID)
	if err != nil {
		return err
	}
	if existing.Status.Terminal() {
		return fmt.Errorf("loop %s is %s and immutable", l.ID, existing.Status)
	}

	settings, err := json.Marshal(l.Settings)
	if err != nil {
		return fmt.Errorf("marshal loop settings: %w", err)
	}
	logJSON, _ := json.Marshal(l.Log)

	_, err = db.Exec(`
		UPDATE loops SET status = ?, settings = ?, iteration = ?, current_story_id = ?,
			current_session_id = ?, paused_at = ?, completed_at = ?, heartbeat_at = ?,
			stories_completed = ?, stories_failed = ?, log = ?, message = ?
		WHERE id = ?
	`, string(l.Status), string(settings), l.Iteration, nullable(l.CurrentStoryID),
		nullable(l.CurrentSessionID), formatTimePtr(l.PausedAt),
		formatTimePtr(l.CompletedAt), formatTime(l.HeartbeatAt),
		l.StoriesCompleted, l.StoriesFailed, string(logJSON), nullable(l.Message), l.ID)
	if err != nil {
		return fmt.Errorf("update loop: %w", err)
	}
	return nil
}

// Heartbeat updates only the heartbeat timestamp of a running loop.
func (db *DB) Heartbeat(loopID string, at time.Time) error {
	res, err := db.Exec(`
		UPDATE loops SET heartbeat_at = ?
		WHERE id = ? AND status IN ('running', 'paused')
	`, formatTime(at), loopID)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLoopNotFound
	}
	return nil
}

// AppendLogEntry appends an entry to a loop's iteration log as a
// read-modify-write under the store lock.
func (db *DB) AppendLogEntry(loopID string, entry LogEntry) error {
	l, err := db.GetLoop(loopID)
	if err != nil {
		return err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	l.Log = append(l.Log, entry)

	logJSON, _ := json.Marshal(l.Log)
	_, err = db.Exec(`UPDATE loops SET log = ? WHERE id = ?`, string(logJSON), loopID)
	if err != nil {
		return fmt.Errorf("append log entry: %w", err)
	}
	return nil
}

// ListLoops lists loop records, optionally filtered by status, newest first.
func (db *DB) ListLoops(status *LoopStatus) ([]LoopRecord, error) {
	query := `SELECT ` + loopColumns + ` FROM loops`
	var args []any
	if status != nil {
		query += " WHERE status = ?"
		args = append(args, string(*status))
	}
	query += " ORDER BY started_at DESC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list loops: %w", err)
	}
	defer rows.Close()

	var loops []LoopRecord
	for rows.Next() {
		l, err := scanLoop(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loop: %w", err)
		}
		loops = append(loops, *l)
	}
	return loops, rows.Err()
}

// ActiveLoops lists loops in running or paused status.
func (db *DB) ActiveLoops() ([]LoopRecord, error) {
	rows, err := db.Query(`
		SELECT ` + loopColumns + ` FROM loops
		WHERE status IN ('running', 'paused')
		ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("active loops: %w", err)
	}
	defer rows.Close()

	var loops []LoopRecord
	for rows.Next() {
		l, err := scanLoop(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loop: %w", err)
		}
		loops = append(loops, *l)
	}
	return loops, rows.Err()
}

func scanLoop(row scanner) (*LoopRecord, error) {
	var l LoopRecord
	var epicID, workspace, currentStory, currentSession, logJSON, message sql.NullString
	var pausedAt, completedAt sql.NullString
	var settings, startedAt, heartbeatAt string

	err := row.Scan(&l.ID, &epicID, &workspace, &l.Status, &settings, &l.Iteration,
		&currentStory, &currentSession, &startedAt, &pausedAt, &completedAt,
		&heartbeatAt, &l.StoriesCompleted, &l.StoriesFailed, &logJSON, &message)
	if err != nil {
		return nil, err
	}

	l.EpicID = epicID.String
	l.Workspace = workspace.String
	l.CurrentStoryID = currentStory.String
	l.CurrentSessionID = currentSession.String
	l.Message = message.String
	if err := json.Unmarshal([]byte(settings), &l.Settings); err != nil {
		return nil, fmt.Errorf("unmarshal loop settings: %w", err)
	}
	if logJSON.Valid && logJSON.String != "" && logJSON.String != "null" {
		if err := json.Unmarshal([]byte(logJSON.String), &l.Log); err != nil {
			return nil, fmt.Errorf("unmarshal loop log: %w", err)
		}
	}
	l.StartedAt, _ = parseTime(startedAt)
	l.HeartbeatAt, _ = parseTime(heartbeatAt)
	l.PausedAt = parseNullableTime(pausedAt)
	l.CompletedAt = parseNullableTime(completedAt)
	return &l, nil
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
