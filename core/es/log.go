package es

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoEvents is returned by Append when called with an empty batch.
var ErrNoEvents = errors.New("no events to append")

// AppendResult reports where an append landed in the log.
type AppendResult struct {
	// LastSeq is the global sequence of the last envelope written.
	LastSeq uint64
}

// ValidateBatch runs the append preconditions shared by every EventLog
// backend: a non-empty batch of valid envelopes, all belonging to
// aggregateID, with contiguous versions starting at expected+1. The
// expected-vs-stored check itself stays with the backend, it needs storage.
func ValidateBatch(aggregateID string, expected Version, envs []Envelope) error {
	if aggregateID == "" {
		return errors.New("aggregate id is empty")
	}
	if len(envs) == 0 {
		return ErrNoEvents
	}
	for i, env := range envs {
		if err := env.Validate(); err != nil {
			return err
		}
		if env.AggregateID != aggregateID {
			return fmt.Errorf("envelope %s belongs to aggregate %s, not %s", env.ID, env.AggregateID, aggregateID)
		}
		if want := expected + Version(i) + 1; env.Version != want {
			return fmt.Errorf("envelope %s breaks version contiguity: got %d, want %d", env.ID, env.Version, want)
		}
	}
	return nil
}

// EventLog is an append-only store of envelopes, indexed globally and per
// aggregate id.
//
// Append is the write path and the concurrency control point: expected is
// the version the caller believes the aggregate is at, and the log compares
// it against the number of events already stored for that id. On a mismatch
// it fails with ErrConcurrencyConflict and persists nothing. A batch is
// all-or-nothing and must be contiguous: envs[i].Version == expected+1+i.
//
// Reads never fail for unknown aggregate ids; they see an empty history at
// version 0.
type EventLog interface {
	// Append atomically appends envs for one aggregate, guarded by the
	// expected version.
	Append(ctx context.Context, aggregateID string, expected Version, envs []Envelope) (*AppendResult, error)
	// EventsFor returns the stored history of one aggregate in append
	// order. Unknown ids yield an empty slice, not an error.
	EventsFor(ctx context.Context, aggregateID string) ([]Envelope, error)
	// CurrentVersion returns the number of events stored for the aggregate,
	// 0 for unknown ids. It is derived from storage, never cached.
	CurrentVersion(ctx context.Context, aggregateID string) (Version, error)
	// AllEvents returns every stored envelope ordered by OccurredAt
	// ascending; envelopes sharing a timestamp keep insertion order.
	AllEvents(ctx context.Context) ([]Envelope, error)
}
