// Package progress defines the event structures emitted by ingestion runs.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages. PAGE_DROPPED marks a page the provider client
// silently swallowed after a fetch failure; it exists so the silent
// truncation path stays observable.
const (
	StageRunStart    Stage = "RUN_START"
	StageRunDone     Stage = "RUN_DONE"
	StageRunError    Stage = "RUN_ERROR"
	StagePageDone    Stage = "PAGE_DONE"
	StagePageDropped Stage = "PAGE_DROPPED"
)

// Event captures a single milestone of ingestion progress.
type Event struct {
	// RunID uniquely identifies an ingestion run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or page milestone occurred.
	Stage Stage
	// Provider labels the upstream API (guardian, nytimes, newsapi).
	Provider string
	// Kind distinguishes bulk-day from incremental-update runs.
	Kind string
	// Page is the 1-based page number for page events.
	Page int
	// TotalPages is the provider-reported page count known at emit time.
	TotalPages int
	// Items is the number of raw items on the page.
	Items int
	// Articles carries the articles-added count for run completions.
	Articles int64
	// Dur captures execution latency for run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Provider == "" {
		return errors.New("provider is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StagePageDone:
		if e.Page <= 0 {
			return errors.New("page done requires a page number")
		}
	case StagePageDropped:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
