package store

import (
	"strings"
	"testing"
)

const sampleBacklog = `
stories:
  - key: schema
    title: Design the schema
    priority: high
    criteria:
      - migrations apply cleanly
  - key: api
    title: Build the API
    priority: critical
    depends_on: [schema]
    max_attempts: 5
  - key: docs
    title: Write docs
    priority: low
    research_only: true
    tracker_ref: PROJ-42
`

func TestImportBacklog(t *testing.T) {
	db := testDB(t)
	scope := Scope{Workspace: "/tmp/project"}

	stories, err := ImportBacklog(db, scope, strings.NewReader(sampleBacklog))
	if err != nil {
		t.Fatalf("import backlog: %v", err)
	}
	if len(stories) != 3 {
		t.Fatalf("got %d stories, want 3", len(stories))
	}

	// File order becomes sort order.
	if stories[0].Title != "Design the schema" || stories[0].SortOrder != 0 {
		t.Errorf("unexpected first story: %+v", stories[0])
	}

	api := stories[1]
	if len(api.DependsOn) != 1 || api.DependsOn[0] != stories[0].ID {
		t.Errorf("dependency not resolved to id: %+v", api.DependsOn)
	}
	if api.MaxAttempts != 5 {
		t.Errorf("max attempts = %d, want 5", api.MaxAttempts)
	}

	docs := stories[2]
	if !docs.ResearchOnly || docs.TrackerRef != "PROJ-42" {
		t.Errorf("unexpected docs story: %+v", docs)
	}

	persisted, err := db.ListStories(scope, nil)
	if err != nil {
		t.Fatalf("list stories: %v", err)
	}
	if len(persisted) != 3 {
		t.Errorf("persisted %d stories, want 3", len(persisted))
	}
}

func TestImportBacklogDuplicateKey(t *testing.T) {
	db := testDB(t)
	backlog := `
stories:
  - key: a
    title: One
  - key: a
    title: Two
`
	_, err := ImportBacklog(db, Scope{Workspace: "/w"}, strings.NewReader(backlog))
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("err = %v, want duplicate key error", err)
	}
}

func TestImportBacklogUnknownDependency(t *testing.T) {
	db := testDB(t)
	backlog := `
stories:
  - key: a
    title: One
    depends_on: [missing]
`
	_, err := ImportBacklog(db, Scope{Workspace: "/w"}, strings.NewReader(backlog))
	if err == nil || !strings.Contains(err.Error(), "unknown key") {
		t.Errorf("err = %v, want unknown dependency error", err)
	}
}

func TestImportBacklogEmpty(t *testing.T) {
	db := testDB(t)
	_, err := ImportBacklog(db, Scope{Workspace: "/w"}, strings.NewReader("stories: []"))
	if err == nil {
		t.Error("expected error for empty backlog")
	}
}
