// Package progress defines the event structures emitted by the stage workers.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names the pipeline phase that emitted an Event.
type Stage string

// Supported pipeline stages.
const (
	StageFetch      Stage = "fetch"
	StageExtract    Stage = "extract"
	StageGraphMerge Stage = "graph_merge"
)

// Outcome is what happened to a queue item.
type Outcome string

// Supported outcomes.
const (
	// OutcomeProcessed means the stage collaborator ran and its result was stored.
	OutcomeProcessed Outcome = "processed"
	// OutcomeSkipped means the stage work was already done.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeAdvanced means the work was done but the next stage was still enqueued.
	OutcomeAdvanced Outcome = "advanced"
	// OutcomeDropped means the item was discarded permanently.
	OutcomeDropped Outcome = "dropped"
	// OutcomeRetryScheduled means a failed item is waiting on its retry timer.
	OutcomeRetryScheduled Outcome = "retry_scheduled"
	// OutcomeRetried means a retry timer fired and the item was re-added.
	OutcomeRetried Outcome = "retried"
)

// Event captures one item outcome.
type Event struct {
	// ID uniquely identifies the event using the 16-byte UUID form.
	ID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage is the pipeline phase.
	Stage Stage
	// Outcome is what happened to the item.
	Outcome Outcome
	// URL is the item's correlation key.
	URL string
	// Site is the URL host, used as a low-cardinality label.
	Site string
	// Bytes carries the fetched content size for fetch events.
	Bytes int64
	// Nodes and Edges carry fragment sizes for extract and graph merge events.
	Nodes int
	Edges int
	// Dur captures processing latency.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.ID == [16]byte{} {
		return errors.New("event id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageFetch, StageExtract, StageGraphMerge:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	switch e.Outcome {
	case OutcomeProcessed, OutcomeSkipped, OutcomeAdvanced, OutcomeDropped,
		OutcomeRetryScheduled, OutcomeRetried:
	default:
		return fmt.Errorf("unknown outcome %q", e.Outcome)
	}
	if e.URL == "" {
		return errors.New("url is required")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// EventUUID converts the binary event ID to uuid.UUID.
func (e Event) EventUUID() uuid.UUID {
	return uuid.UUID(e.ID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// NewEvent stamps a fresh ID and timestamp onto an event.
func NewEvent(stage Stage, outcome Outcome, url string) Event {
	return Event{
		ID:      UUIDToBytes(uuid.New()),
		TS:      time.Now().UTC(),
		Stage:   stage,
		Outcome: outcome,
		URL:     url,
	}
}
