// Package es implements an event-sourcing core: an append-only event log,
// aggregates whose state is a fold over their event history, and a repository
// that moves aggregates between the two.
//
// # Overview
//
// State is never stored directly. Every change is captured as an immutable
// event appended to an [EventLog]; current state is derived by replaying the
// events for one aggregate in order. Replaying the same history always yields
// the same state.
//
// # Aggregates
//
// An aggregate embeds [BaseAggregate] and implements the remaining methods of
// [Aggregate]: a type name, an event registration hook and an Apply fold.
// Command methods validate against current state and then emit events via
// [RaiseAndApply], which stamps each event into an [Envelope], folds it into
// the aggregate and buffers it as uncommitted:
//
//	type Plan struct {
//	    es.BaseAggregate
//	    Athlete string
//	}
//
//	func (p *Plan) Rename(athlete string) error {
//	    return es.RaiseAndApply(p, &Renamed{Athlete: athlete})
//	}
//
// Apply is the only place state changes. Events carry their stream version,
// assigned contiguously from 1 when they are raised.
//
// # Event log
//
// [EventLog] stores envelopes. Append is atomic and optimistic: it compares
// the caller's expected version against the number of events already stored
// for that aggregate and fails with [ErrConcurrencyConflict] on a mismatch,
// persisting nothing. [NewInMemoryLog] is the in-process implementation and
// also satisfies [Stream] for subscriptions; the adapters/sqlite package
// provides a durable one.
//
// # Repository
//
// [Repository] loads an aggregate by replaying its history (an unknown id
// yields a fresh aggregate at version 0, not an error) and saves uncommitted
// envelopes with the version observed at load time as the concurrency check.
// [NewTypedRepository] wraps it with a typed facade:
//
//	repo := es.NewTypedRepository(log, eventLog, plan.New)
//	p, err := repo.GetByID(ctx, "plan-001")
//	if err := p.Rename("athlete-456"); err != nil { ... }
//	err = repo.Save(ctx, p)
//
// On a conflicting save the uncommitted buffer is left intact; callers decide
// whether to reload and retry (see the planner package).
package es
