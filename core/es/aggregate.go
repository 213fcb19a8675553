package es

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	// ErrConcurrencyConflict is returned by EventLog.Append when the stored
	// version no longer matches the caller's expected version. Nothing is
	// persisted; the caller decides whether to reload and retry.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrUnknownEventType is returned when decoding an envelope whose type
	// tag is not in the registry.
	ErrUnknownEventType = errors.New("unknown event type")
)

// Applier folds events into state. Aggregates implement it for their live
// state; read models implement it to build views from the same history.
type Applier interface {
	Apply(event any) error
}

// Aggregate is the contract between a domain aggregate and the Repository.
//
// An aggregate tracks its identity, the version of the last event folded
// into it, the version it had when loaded (the optimistic concurrency check
// for the next save) and a buffer of raised-but-unsaved envelopes.
//
// The lifecycle is:
//  1. construct (or load via Repository, which replays history)
//  2. run commands; each validates state and raises events via RaiseAndApply
//  3. Repository.Save appends the uncommitted buffer and marks it committed
//
// setVersion is unexported on purpose: embedding BaseAggregate is the only
// way to satisfy the interface, and version bookkeeping stays inside this
// package.
type Aggregate interface {
	Applier

	// GetAggType returns the aggregate type name, used in logs and metric
	// labels.
	GetAggType() string
	// GetID returns the identifier of this aggregate instance.
	GetID() string
	// SetID sets the aggregate id. Called once before first use.
	SetID(string)

	// GetVersion returns the version of the last event folded in.
	GetVersion() Version
	setVersion(Version)

	// GetLoadedVersion returns the version the aggregate had after the last
	// load or successful save. Save uses it as the expected version.
	GetLoadedVersion() Version

	// Register declares the aggregate's event types with the registrar.
	Register(r Registrar)

	// Raise buffers an envelope as uncommitted. Use RaiseAndApply rather
	// than calling Raise directly so the fold and version stay in sync.
	Raise(env Envelope)
	// Uncommitted returns a copy of the raised-but-unsaved envelopes.
	Uncommitted() []Envelope
	// MarkCommitted acknowledges that all uncommitted envelopes were
	// persisted: the buffer is cleared and the loaded version advances to
	// the current version. Calling it on a clean aggregate is a no-op.
	MarkCommitted()
}

// BaseAggregate is an embeddable helper carrying the bookkeeping half of
// Aggregate: identity, versions and the uncommitted buffer. Domain types
// embed it and add GetAggType, Register and Apply.
type BaseAggregate struct {
	id            string
	version       Version
	loadedVersion Version
	uncommitted   []Envelope
}

func (b *BaseAggregate) GetID() string             { return b.id }
func (b *BaseAggregate) SetID(id string)           { b.id = id }
func (b *BaseAggregate) GetVersion() Version       { return b.version }
func (b *BaseAggregate) setVersion(v Version)      { b.version = v }
func (b *BaseAggregate) GetLoadedVersion() Version { return b.loadedVersion }
func (b *BaseAggregate) Raise(env Envelope)        { b.uncommitted = append(b.uncommitted, env) }

func (b *BaseAggregate) Uncommitted() []Envelope {
	out := make([]Envelope, len(b.uncommitted))
	copy(out, b.uncommitted)
	return out
}

func (b *BaseAggregate) MarkCommitted() {
	b.loadedVersion = b.version
	b.uncommitted = nil
}

// RaiseAndApply turns each event into an envelope, folds it into the
// aggregate and buffers it as uncommitted. The envelope gets a fresh id, the
// next stream version and the current wall-clock time; the payload is the
// JSON encoding of the event.
//
// Events implementing Validate() error are validated first. If validation,
// encoding or the fold fails, neither state nor buffer changes for that
// event.
func RaiseAndApply(agg Aggregate, events ...any) error {
	for _, ev := range events {
		if v, ok := ev.(interface{ Validate() error }); ok {
			if err := v.Validate(); err != nil {
				return fmt.Errorf("invalid event %T: %w", ev, err)
			}
		}
	}

	for _, ev := range events {
		tag, err := eventTypeOf(ev)
		if err != nil {
			return err
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode %s: %w", tag, err)
		}

		env := Envelope{
			ID:          gonanoid.Must(),
			Version:     agg.GetVersion() + 1,
			AggregateID: agg.GetID(),
			Type:        tag,
			OccurredAt:  time.Now(),
			Data:        data,
		}
		if err := env.Validate(); err != nil {
			return err
		}

		if err := agg.Apply(ev); err != nil {
			return err
		}
		agg.Raise(env)
		agg.setVersion(env.Version)
	}
	return nil
}

// Replay folds a stored history into a fresh aggregate and marks the result
// committed, so the replayed state is indistinguishable from the state that
// raised the events. The history must start at version 1 and be contiguous;
// the aggregate must be clean and at version 0.
func Replay(agg Aggregate, registry *EventRegistry, history []Envelope) error {
	if len(agg.Uncommitted()) != 0 {
		return errors.New("replay onto aggregate with uncommitted events")
	}
	if agg.GetVersion() != 0 {
		return fmt.Errorf("replay onto aggregate at version %d", agg.GetVersion())
	}

	for _, env := range history {
		if env.AggregateID != agg.GetID() {
			return fmt.Errorf("replay %s: envelope belongs to %s", agg.GetID(), env.AggregateID)
		}
		if next := agg.GetVersion() + 1; env.Version != next {
			return fmt.Errorf("replay %s: expected version %d, got %d", agg.GetID(), next, env.Version)
		}
		evt, err := registry.Decode(env)
		if err != nil {
			return fmt.Errorf("replay %s: %w", agg.GetID(), err)
		}
		if err := agg.Apply(evt); err != nil {
			return fmt.Errorf("replay %s: apply %s: %w", agg.GetID(), env.Type, err)
		}
		agg.setVersion(env.Version)
	}

	agg.MarkCommitted()
	return nil
}
