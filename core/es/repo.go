package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

type (
	repoOptions      struct{ metrics Metrics }
	RepositoryOption interface{ applyToRepository(*repoOptions) }
)

// Repository moves aggregates in and out of an EventLog.
type Repository interface {
	// Load replays the stored history of agg.GetID() into agg. An unknown
	// id is not an error: the aggregate simply stays at version 0. The
	// aggregate must be fresh (version 0, clean buffer).
	Load(ctx context.Context, agg Aggregate) error
	// Save appends the aggregate's uncommitted envelopes, using the version
	// observed at load time as the optimistic concurrency check. With an
	// empty buffer Save is a no-op. On ErrConcurrencyConflict nothing is
	// persisted and the buffer stays intact; on success the aggregate is
	// marked committed.
	Save(ctx context.Context, agg Aggregate) error
}

type repository struct {
	log      *slog.Logger
	events   EventLog
	registry *EventRegistry
	metrics  Metrics
}

func NewRepository(
	log *slog.Logger,
	events EventLog,
	registry *EventRegistry,
	opts ...RepositoryOption,
) Repository {
	options := repoOptions{metrics: NopMetrics()}
	for _, opt := range opts {
		opt.applyToRepository(&options)
	}

	return &repository{
		log:      log.With(slog.String("repo", fmt.Sprintf("%T", events))),
		events:   events,
		registry: registry,
		metrics:  options.metrics,
	}
}

func (r *repository) Load(ctx context.Context, agg Aggregate) error {
	aggID := agg.GetID()
	if aggID == "" {
		return errors.New("aggregate id is empty")
	}
	if len(agg.Uncommitted()) != 0 {
		return errors.New("aggregate has uncommitted events")
	}
	if agg.GetVersion() != 0 {
		return fmt.Errorf("aggregate %s already loaded at version %d", aggID, agg.GetVersion())
	}

	defer r.metrics.RepoLoadDuration(agg.GetAggType()).ObserveDuration()

	history, err := r.events.EventsFor(ctx, aggID)
	if err != nil {
		return fmt.Errorf("load events for %s: %w", aggID, err)
	}
	if err := Replay(agg, r.registry, history); err != nil {
		return err
	}

	r.log.Debug(
		"loaded",
		slog.Group(
			"agg",
			slog.String("type", agg.GetAggType()),
			slog.String("id", aggID),
			agg.GetVersion().SlogAttr(),
		),
		slog.Int("num_events", len(history)),
	)

	return nil
}

func (r *repository) Save(ctx context.Context, agg Aggregate) error {
	uncommitted := agg.Uncommitted()
	if len(uncommitted) == 0 {
		return nil
	}
	aggID := agg.GetID()
	if aggID == "" {
		return errors.New("aggregate id is empty")
	}
	aggType := agg.GetAggType()

	defer r.metrics.RepoSaveDuration(aggType).ObserveDuration()

	expected := agg.GetLoadedVersion()
	res, err := r.events.Append(ctx, aggID, expected, uncommitted)
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			r.metrics.ConcurrencyConflict(aggType)
		}
		// buffer stays intact so the caller can reload and reapply
		return fmt.Errorf("save %s %s: %w", aggType, aggID, err)
	}

	agg.MarkCommitted()
	r.metrics.EventsAppended(aggType, len(uncommitted))

	r.log.Debug(
		"saved",
		slog.Group(
			"agg",
			slog.String("type", aggType),
			slog.String("id", aggID),
			agg.GetVersion().SlogAttr(),
		),
		slog.Int("num_events", len(uncommitted)),
		slog.Uint64("last_seq", res.LastSeq),
	)

	return nil
}

var _ Repository = (*repository)(nil)

// === TypedRepository ===

// TypedRepository is the aggregate-typed facade over Repository.
type TypedRepository[T Aggregate] interface {
	// New constructs a fresh, unloaded aggregate with the given id.
	New(id string) T
	// GetByID constructs an aggregate and loads its history. Unknown ids
	// return a version-0 aggregate.
	GetByID(ctx context.Context, id string) (T, error)
	Save(ctx context.Context, agg T) error
}

type typedRepo[T Aggregate] struct {
	repo  Repository
	newFn func(id string) T
}

// NewTypedRepository builds a typed repository for aggregates constructed by
// newFn. The event registry is derived from the aggregate's own Register
// hook, so the decodable event set always matches the aggregate.
func NewTypedRepository[T Aggregate](
	log *slog.Logger,
	events EventLog,
	newFn func(id string) T,
	opts ...RepositoryOption,
) TypedRepository[T] {
	registry := NewRegistry()
	newFn("").Register(registry)

	return &typedRepo[T]{
		repo:  NewRepository(log, events, registry, opts...),
		newFn: newFn,
	}
}

func (t *typedRepo[T]) New(id string) T { return t.newFn(id) }

func (t *typedRepo[T]) GetByID(ctx context.Context, id string) (T, error) {
	var zero T
	if id == "" {
		return zero, errors.New("aggregate id is empty")
	}
	a := t.newFn(id)
	if err := t.repo.Load(ctx, a); err != nil {
		return zero, err
	}
	return a, nil
}

func (t *typedRepo[T]) Save(ctx context.Context, agg T) error {
	return t.repo.Save(ctx, agg)
}

var _ TypedRepository[Aggregate] = (*typedRepo[Aggregate])(nil)
