package loop

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"storyloop/internal/logging"
)

// Emitter fans progress events out to a subscriber channel. Emission never
// blocks the runner: if the subscriber falls behind, events are dropped and
// counted.
type Emitter struct {
	events       chan Event
	droppedCount atomic.Uint64
	log          zerolog.Logger
}

// NewEmitter creates an emitter with the given buffer size.
func NewEmitter(bufferSize int) *Emitter {
	return &Emitter{
		events: make(chan Event, bufferSize),
		log:    logging.Component("loop"),
	}
}

// Emit sends an event to the subscriber channel. If the channel is full it
// retries briefly before dropping the event.
func (e *Emitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	// Give the receiver a short window to drain before dropping.
	select {
	case e.events <- event:
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 { // log every 10th drop to avoid spam
			e.log.Warn().
				Uint64("total_dropped", count).
				Str("event_type", string(event.Type)).
				Msg("event channel full, dropping event")
		}
	}
}

// Events returns the read-only subscriber channel.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

// DroppedCount returns how many events have been dropped so far.
func (e *Emitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Close closes the subscriber channel. Call only after all runners using
// this emitter have exited.
func (e *Emitter) Close() {
	close(e.events)
}
