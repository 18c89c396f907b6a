package loop

import (
	"time"

	"storyloop/internal/store"
)

// EventType identifies the kind of a progress event.
type EventType string

const (
	EventStarted        EventType = "started"
	EventIterationStart EventType = "iteration_start"
	EventIterationEnd   EventType = "iteration_end"
	EventStoryStarted   EventType = "story_started"
	EventStoryCompleted EventType = "story_completed"
	EventStoryFailed    EventType = "story_failed"
	EventQualityCheck   EventType = "quality_check"
	EventPaused         EventType = "paused"
	EventResumed        EventType = "resumed"
	EventCompleted      EventType = "completed"
	EventCancelled      EventType = "cancelled"
	EventLearning       EventType = "learning"
	EventFailed         EventType = "failed"
)

// Terminal reports whether the event type marks the end of a loop.
func (t EventType) Terminal() bool {
	return t == EventCompleted || t == EventFailed || t == EventCancelled
}

// Event is one progress notification from a running loop. It is the only
// way external layers observe loop progress in real time.
type Event struct {
	Type       EventType             `json:"type"`
	LoopID     string                `json:"loop_id"`
	StoryID    string                `json:"story_id,omitempty"`
	StoryTitle string                `json:"story_title,omitempty"`
	Iteration  int                   `json:"iteration,omitempty"`
	Message    string                `json:"message,omitempty"`
	Quality    []store.QualityResult `json:"quality,omitempty"`
	Timestamp  time.Time             `json:"timestamp"`
}
