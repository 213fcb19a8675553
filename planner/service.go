// Package planner is the application service over the plan aggregate. It
// owns the write path (per-plan serialization plus conflict retries) and
// the read path (version-keyed view cache with deduplicated loads), so
// callers only deal in commands and views.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/stridelabs/planlog/core/cache"
	"github.com/stridelabs/planlog/core/es"
	"github.com/stridelabs/planlog/core/perkey"
	"github.com/stridelabs/planlog/plan"
)

const defaultAttempts = 3

type options struct {
	attempts  int
	metrics   es.Metrics
	viewCache cache.Cache
}

// Option configures a Service.
type Option func(*options)

// WithAttempts sets how often Execute tries a command before giving up on
// concurrency conflicts (default: 3).
func WithAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.attempts = n
		}
	}
}

// WithMetrics wires an es.Metrics implementation into the service and its
// repository.
func WithMetrics(m es.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithViewCache replaces the default LRU view cache. Pass cache.NewNop()
// to disable view caching.
func WithViewCache(c cache.Cache) Option {
	return func(o *options) { o.viewCache = c }
}

// Service coordinates commands and reads for plan aggregates on top of an
// EventLog.
type Service struct {
	log     *slog.Logger
	events  es.EventLog
	repo    es.TypedRepository[*plan.Plan]
	sched   *perkey.Scheduler[string]
	group   singleflight.Group
	views   cache.TypedCache[*plan.View]
	metrics es.Metrics

	attempts int
}

// NewService creates a Service over events. The log may not be nil.
func NewService(log *slog.Logger, events es.EventLog, opts ...Option) *Service {
	o := options{
		attempts: defaultAttempts,
		metrics:  es.NopMetrics(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.viewCache == nil {
		o.viewCache = cache.NewLRU(cache.LRUOpts{Size: 512})
	}

	return &Service{
		log:      log.With(slog.String("service", "planner")),
		events:   events,
		repo:     es.NewTypedRepository(log, events, plan.New, es.WithMetrics(o.metrics)),
		sched:    perkey.New[string](),
		views:    cache.NewTyped[*plan.View](o.viewCache),
		metrics:  o.metrics,
		attempts: o.attempts,
	}
}

// Execute loads the plan, runs cmd against it and saves. Commands for the
// same plan id are serialized in-process; when an out-of-process writer
// still wins the race, Execute reloads and runs cmd again, up to the
// configured number of attempts. cmd therefore runs once per attempt
// against a freshly loaded aggregate and must not carry state across
// calls. The saved aggregate is returned.
func (s *Service) Execute(ctx context.Context, planID string, cmd func(*plan.Plan) error) (*plan.Plan, error) {
	if planID == "" {
		return nil, errors.New("plan id is empty")
	}

	s.metrics.CommandsInflight(plan.AggregateType, 1)
	defer s.metrics.CommandsInflight(plan.AggregateType, -1)

	var result *plan.Plan
	err := s.sched.Do(ctx, planID, func() error {
		for attempt := 1; ; attempt++ {
			p, err := s.repo.GetByID(ctx, planID)
			if err != nil {
				return err
			}
			if err := cmd(p); err != nil {
				return err
			}

			err = s.repo.Save(ctx, p)
			if err == nil {
				result = p
				return nil
			}
			if !errors.Is(err, es.ErrConcurrencyConflict) || attempt == s.attempts {
				return err
			}
			s.log.Debug(
				"save conflicted, retrying",
				slog.String("plan_id", planID),
				slog.Int("attempt", attempt),
			)
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// View returns the read-only projection of a plan. Views are cached per
// id and version, and concurrent cache misses for the same key collapse
// into one load. Unknown plans yield the empty projection at version 0.
//
// A writer landing between the version read and the load produces a view
// one save newer than its cache key, which is still fresh for readers.
func (s *Service) View(ctx context.Context, planID string) (*plan.View, error) {
	if planID == "" {
		return nil, errors.New("plan id is empty")
	}

	version, err := s.events.CurrentVersion(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("current version for %s: %w", planID, err)
	}

	key := fmt.Sprintf("%s@%d", planID, version)
	if v, ok := s.views.Get(key); ok {
		s.metrics.ViewCacheHit(plan.AggregateType)
		return v, nil
	}
	s.metrics.ViewCacheMiss(plan.AggregateType)

	v, err, _ := s.group.Do(key, func() (any, error) {
		p, err := s.repo.GetByID(ctx, planID)
		if err != nil {
			return nil, err
		}
		view := p.View()
		s.views.Put(key, view)
		return view, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*plan.View), nil
}

// Journal renders the full event log, every aggregate interleaved in
// timestamp order, one line per event.
func (s *Service) Journal(ctx context.Context) ([]string, error) {
	envs, err := s.events.AllEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return renderEnvelopes(envs), nil
}

// History renders the stored events of one plan in version order.
func (s *Service) History(ctx context.Context, planID string) ([]string, error) {
	if planID == "" {
		return nil, errors.New("plan id is empty")
	}
	envs, err := s.events.EventsFor(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("read history for %s: %w", planID, err)
	}
	return renderEnvelopes(envs), nil
}
