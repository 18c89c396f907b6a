package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StoryStatus represents the status of a story.
type StoryStatus string

const (
	StoryPending    StoryStatus = "pending"
	StoryInProgress StoryStatus = "in_progress"
	StoryCompleted  StoryStatus = "completed"
	StoryFailed     StoryStatus = "failed"
	StorySkipped    StoryStatus = "skipped"
)

// Terminal reports whether the status is a final state.
func (s StoryStatus) Terminal() bool {
	return s == StoryCompleted || s == StoryFailed || s == StorySkipped
}

// Priority orders stories for selection. Critical sorts first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns the numeric sort rank for a priority (lower selects first).
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// Scope names the set of stories a loop operates on: either an epic
// (a parent group of stories) or a whole workspace. Exactly one field is set.
type Scope struct {
	EpicID    string `json:"epic_id,omitempty"`
	Workspace string `json:"workspace,omitempty"`
}

// Validate checks that exactly one scope field is set.
func (s Scope) Validate() error {
	if (s.EpicID == "") == (s.Workspace == "") {
		return errors.New("scope requires exactly one of epic_id or workspace")
	}
	return nil
}

// String returns a short human-readable form of the scope.
func (s Scope) String() string {
	if s.EpicID != "" {
		return "epic:" + s.EpicID
	}
	return "workspace:" + s.Workspace
}

// Story is a unit of work with acceptance criteria, priority, and dependencies.
type Story struct {
	ID           string      `json:"id"`
	EpicID       string      `json:"epic_id,omitempty"`
	Workspace    string      `json:"workspace,omitempty"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	Criteria     []string    `json:"criteria,omitempty"`
	Priority     Priority    `json:"priority"`
	DependsOn    []string    `json:"depends_on,omitempty"`
	Status       StoryStatus `json:"status"`
	Attempts     int         `json:"attempts"`
	MaxAttempts  int         `json:"max_attempts"`
	ResearchOnly bool        `json:"research_only"`
	Learnings    []string    `json:"learnings,omitempty"`
	TrackerRef   string      `json:"tracker_ref,omitempty"`
	SessionID    string      `json:"session_id,omitempty"`
	CommitRef    string      `json:"commit_ref,omitempty"`
	SortOrder    int         `json:"sort_order"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Scope returns the scope this story belongs to.
func (s *Story) Scope() Scope {
	return Scope{EpicID: s.EpicID, Workspace: s.Workspace}
}

// ErrStoryNotFound is returned when a story lookup misses.
var ErrStoryNotFound = errors.New("story not found")

const storyColumns = `id, epic_id, workspace, title, description, criteria, priority,
	depends_on, status, attempts, max_attempts, research_only, learnings,
	tracker_ref, session_id, commit_ref, sort_order, created_at, updated_at`

// CreateStory inserts a new story. An ID is generated if not set.
func (db *DB) CreateStory(s *Story) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if err := s.Scope().Validate(); err != nil {
		return fmt.Errorf("create story: %w", err)
	}
	if s.Status == "" {
		s.Status = StoryPending
	}
	if s.Priority == "" {
		s.Priority = PriorityMedium
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 3
	}

	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	criteria, _ := json.Marshal(s.Criteria)
	dependsOn, _ := json.Marshal(s.DependsOn)
	learnings, _ := json.Marshal(s.Learnings)

	_, err := db.Exec(`
		INSERT INTO stories (`+storyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, nullable(s.EpicID), nullable(s.Workspace), s.Title, s.Description,
		string(criteria), string(s.Priority), string(dependsOn), string(s.Status),
		s.Attempts, s.MaxAttempts, boolToInt(s.ResearchOnly), string(learnings),
		nullable(s.TrackerRef), nullable(s.SessionID), nullable(s.CommitRef),
		s.SortOrder, formatTime(s.CreatedAt), formatTime(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create story: %w", err)
	}
	return nil
}

// GetStory retrieves a story by ID.
func (db *DB) GetStory(id string) (*Story, error) {
	row := db.QueryRow(`SELECT `+storyColumns+` FROM stories WHERE id = ?`, id)
	s, err := scanStory(row)
	if err == sql.ErrNoRows {
		return nil, ErrStoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get story: %w", err)
	}
	return s, nil
}

// UpdateStory persists all mutable fields of a story.
func (db *DB) UpdateStory(s *Story) error {
	s.UpdatedAt = time.Now().UTC()

	criteria, _ := json.Marshal(s.Criteria)
	dependsOn, _ := json.Marshal(s.DependsOn)
	learnings, _ := json.Marshal(s.Learnings)

	res, err := db.Exec(`
		UPDATE stories SET title = ?, description = ?, criteria = ?, priority = ?,
			depends_on = ?, status = ?, attempts = ?, max_attempts = ?, research_only = ?,
			learnings = ?, tracker_ref = ?, session_id = ?, commit_ref = ?, sort_order = ?,
			updated_at = ?
		WHERE id = ?
	`, s.Title, s.Description, string(criteria), string(s.Priority), string(dependsOn),
		string(s.Status), s.Attempts, s.MaxAttempts, boolToInt(s.ResearchOnly),
		string(learnings), nullable(s.TrackerRef), nullable(s.SessionID),
		nullable(s.CommitRef), s.SortOrder, formatTime(s.UpdatedAt), s.ID)
	if err != nil {
		return fmt.Errorf("update story: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStoryNotFound
	}
	return nil
}

// ListStories lists stories in a scope ordered by priority rank then sort order,
// optionally filtered by status.
func (db *DB) ListStories(scope Scope, status *StoryStatus) ([]Story, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}

	query := `SELECT ` + storyColumns + ` FROM stories WHERE `
	var args []any
	if scope.EpicID != "" {
		query += "epic_id = ?"
		args = append(args, scope.EpicID)
	} else {
		query += "workspace = ?"
		args = append(args, scope.Workspace)
	}
	if status != nil {
		query += " AND status = ?"
		args = append(args, string(*status))
	}
	query += `
		ORDER BY CASE priority
			WHEN 'critical' THEN 0
			WHEN 'high' THEN 1
			WHEN 'medium' THEN 2
			WHEN 'low' THEN 3
			ELSE 2 END,
		sort_order, created_at`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	var stories []Story
	for rows.Next() {
		s, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		stories = append(stories, *s)
	}
	return stories, rows.Err()
}

// AppendLearning adds a free-text learning note to a story, keeping at most
// maxKeep notes (oldest dropped first). maxKeep <= 0 keeps everything.
func (db *DB) AppendLearning(storyID, note string, maxKeep int) error {
	s, err := db.GetStory(storyID)
	if err != nil {
		return err
	}
	s.Learnings = append(s.Learnings, note)
	if maxKeep > 0 && len(s.Learnings) > maxKeep {
		s.Learnings = s.Learnings[len(s.Learnings)-maxKeep:]
	}
	return db.UpdateStory(s)
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanStory(row scanner) (*Story, error) {
	var s Story
	var epicID, workspace, criteria, dependsOn, learnings sql.NullString
	var trackerRef, sessionID, commitRef sql.NullString
	var researchOnly int
	var createdAt, updatedAt string

	err := row.Scan(&s.ID, &epicID, &workspace, &s.Title, &s.Description, &criteria,
		&s.Priority, &dependsOn, &s.Status, &s.Attempts, &s.MaxAttempts, &researchOnly,
		&learnings, &trackerRef, &sessionID, &commitRef, &s.SortOrder, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	s.EpicID = epicID.String
	s.Workspace = workspace.String
	s.TrackerRef = trackerRef.String
	s.SessionID = sessionID.String
	s.CommitRef = commitRef.String
	s.ResearchOnly = researchOnly != 0
	if criteria.Valid {
		json.Unmarshal([]byte(criteria.String), &s.Criteria)
	}
	if dependsOn.Valid {
		json.Unmarshal([]byte(dependsOn.String), &s.DependsOn)
	}
	if learnings.Valid {
		json.Unmarshal([]byte(learnings.String), &s.Learnings)
	}
	s.CreatedAt, _ = parseTime(createdAt)
	s.UpdatedAt, _ = parseTime(updatedAt)
	return &s, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
