package store

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// backlogFile is the YAML shape accepted by ImportBacklog.
type backlogFile struct {
	Stories []backlogStory `yaml:"stories"`
}

type backlogStory struct {
	Key          string   `yaml:"key"`
	Title        string   `yaml:"title"`
	Description  string   `yaml:"description"`
	Criteria     []string `yaml:"criteria"`
	Priority     string   `yaml:"priority"`
	DependsOn    []string `yaml:"depends_on"`
	MaxAttempts  int      `yaml:"max_attempts"`
	ResearchOnly bool     `yaml:"research_only"`
	TrackerRef   string   `yaml:"tracker_ref"`
}

// ImportBacklog reads a YAML backlog and inserts its stories into the given
// scope. Dependencies reference other stories in the same file by key and
// are resolved to generated IDs. Returns the created stories in file order.
func ImportBacklog(db *DB, scope Scope, r io.Reader) ([]Story, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("import backlog: %w", err)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read backlog: %w", err)
	}

	var file backlogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse backlog: %w", err)
	}
	if len(file.Stories) == 0 {
		return nil, fmt.Errorf("backlog contains no stories")
	}

	// First pass: assign IDs so dependency keys can be resolved.
	idByKey := make(map[string]string, len(file.Stories))
	for i, bs := range file.Stories {
		if bs.Title == "" {
			return nil, fmt.Errorf("story %d: title is required", i+1)
		}
		key := bs.Key
		if key == "" {
			key = bs.Title
		}
		if _, exists := idByKey[key]; exists {
			return nil, fmt.Errorf("duplicate story key %q", key)
		}
		idByKey[key] = uuid.New().String()
	}

	stories := make([]Story, 0, len(file.Stories))
	for i, bs := range file.Stories {
		key := bs.Key
		if key == "" {
			key = bs.Title
		}

		var deps []string
		for _, depKey := range bs.DependsOn {
			depID, ok := idByKey[depKey]
			if !ok {
				return nil, fmt.Errorf("story %q depends on unknown key %q", key, depKey)
			}
			deps = append(deps, depID)
		}

		s := Story{
			ID:           idByKey[key],
			EpicID:       scope.EpicID,
			Workspace:    scope.Workspace,
			Title:        bs.Title,
			Description:  bs.Description,
			Criteria:     bs.Criteria,
			Priority:     Priority(bs.Priority),
			DependsOn:    deps,
			MaxAttempts:  bs.MaxAttempts,
			ResearchOnly: bs.ResearchOnly,
			TrackerRef:   bs.TrackerRef,
			SortOrder:    i,
		}
		if s.Priority == "" {
			s.Priority = PriorityMedium
		}

		if err := db.CreateStory(&s); err != nil {
			return nil, fmt.Errorf("import story %q: %w", key, err)
		}
		stories = append(stories, s)
	}

	return stories, nil
}
