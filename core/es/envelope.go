package es

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the stored form of one event. It is immutable once appended:
// the log never rewrites an envelope, and replay sees envelopes exactly as
// they were written.
type Envelope struct {
	// ID is the unique identifier of this event. It exists for auditing and
	// deduplication only; ordering never depends on it.
	ID string `json:"id"`
	// Seq is the global insertion sequence assigned by the log on append.
	// It is zero while the envelope sits in an uncommitted buffer.
	Seq uint64 `json:"seq"`
	// Version is the per-aggregate stream position (1, 2, 3, ...), assigned
	// by the aggregate when the event is raised.
	Version Version `json:"version"`
	// AggregateID identifies the aggregate instance this event belongs to.
	AggregateID string `json:"aggregate_id"`
	// Type is the event type tag used to look up a decoder in the registry.
	Type string `json:"type"`
	// OccurredAt is the wall-clock time the event was raised. Distinct
	// events may share a timestamp.
	OccurredAt time.Time `json:"occurred_at"`
	// Data is the JSON-encoded event payload.
	Data json.RawMessage `json:"data"`
}

func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope id is empty")
	}
	if e.AggregateID == "" {
		return fmt.Errorf("envelope aggregate id is empty")
	}
	if e.Type == "" {
		return fmt.Errorf("envelope type is empty")
	}
	if e.Version == 0 {
		return fmt.Errorf("envelope version is zero")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("envelope occurred at is zero")
	}
	return nil
}
