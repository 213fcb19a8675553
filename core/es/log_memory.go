package es

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// InMemoryLog is the in-process EventLog used in tests, demos and as the
// reference implementation of the log contract. It also implements Stream.
//
// Concurrency: appends for the same aggregate id serialize on a per-id
// mutex held across the version check and the insert, so of two concurrent
// conflicting appends exactly one succeeds. The global slice and the
// per-aggregate index are updated under one write lock, so readers never
// observe a partial append.
type InMemoryLog struct {
	log *slog.Logger

	mu      sync.RWMutex
	seq     uint64
	global  []Envelope
	streams map[string][]Envelope
	subs    map[string]*memorySubscription

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewInMemoryLog() *InMemoryLog {
	return &InMemoryLog{
		log:     slog.Default().With(slog.String("event_log", "memory")),
		streams: map[string][]Envelope{},
		subs:    map[string]*memorySubscription{},
		locks:   map[string]*sync.Mutex{},
	}
}

// lockFor returns the append lock for one aggregate id, creating it on
// first use. Locks are never removed; one mutex per live aggregate is
// cheaper than the bookkeeping to reap them.
func (l *InMemoryLog) lockFor(aggregateID string) *sync.Mutex {
	l.lockMu.Lock()
	defer l.lockMu.Unlock()
	m, ok := l.locks[aggregateID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[aggregateID] = m
	}
	return m
}

func (l *InMemoryLog) Append(
	_ context.Context,
	aggregateID string,
	expected Version,
	envs []Envelope,
) (*AppendResult, error) {
	if err := ValidateBatch(aggregateID, expected, envs); err != nil {
		return nil, err
	}

	// serialization point: one append per aggregate id at a time
	idMu := l.lockFor(aggregateID)
	idMu.Lock()
	defer idMu.Unlock()

	l.mu.RLock()
	current := Version(len(l.streams[aggregateID]))
	l.mu.RUnlock()
	if current != expected {
		return nil, fmt.Errorf(
			"%w: aggregate %s is at version %d, expected %d",
			ErrConcurrencyConflict, aggregateID, current, expected,
		)
	}

	stamped := make([]Envelope, len(envs))

	l.mu.Lock()
	for i, env := range envs {
		l.seq++
		env.Seq = l.seq
		stamped[i] = env
	}
	l.streams[aggregateID] = append(l.streams[aggregateID], stamped...)
	l.global = append(l.global, stamped...)
	l.dispatchLocked(stamped)
	l.mu.Unlock()

	lastSeq := stamped[len(stamped)-1].Seq
	l.log.Debug(
		"append",
		slog.String("aggregate_id", aggregateID),
		slog.Int("num_events", len(stamped)),
		slog.Uint64("last_seq", lastSeq),
	)

	return &AppendResult{LastSeq: lastSeq}, nil
}

func (l *InMemoryLog) EventsFor(_ context.Context, aggregateID string) ([]Envelope, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	stream := l.streams[aggregateID]
	out := make([]Envelope, len(stream))
	copy(out, stream)
	return out, nil
}

func (l *InMemoryLog) CurrentVersion(_ context.Context, aggregateID string) (Version, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Version(len(l.streams[aggregateID])), nil
}

func (l *InMemoryLog) AllEvents(_ context.Context) ([]Envelope, error) {
	l.mu.RLock()
	out := make([]Envelope, len(l.global))
	copy(out, l.global)
	l.mu.RUnlock()

	// stable: envelopes with equal timestamps keep insertion order
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

// === Subscriptions ===

func (l *InMemoryLog) Subscribe(ctx context.Context, opts ...SubscribeOption) (Subscription, error) {
	options := NewSubscribeOpts(opts...)

	l.mu.Lock()
	defer l.mu.Unlock()

	subID := gonanoid.Must()
	sub := &memorySubscription{
		filters: options.Filters(),
		ch:      make(chan Envelope, options.BufferSize()),
	}
	sub.cancel = func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, ok := l.subs[subID]; !ok {
			return
		}
		delete(l.subs, subID)
		close(sub.ch)
	}
	l.subs[subID] = sub

	context.AfterFunc(ctx, sub.Cancel)

	l.log.Debug(
		"subscribe",
		slog.String("sub_id", subID),
		slog.Int("num_filters", len(sub.filters)),
		slog.Int("buffer", options.BufferSize()),
	)

	return sub, nil
}

// dispatchLocked fans freshly appended envelopes out to subscribers. Called
// with l.mu held for writing, which is what keeps delivery in append order.
// Sends never block: a subscriber with a full buffer loses the event.
func (l *InMemoryLog) dispatchLocked(events []Envelope) {
	if len(l.subs) == 0 {
		return
	}
	for _, e := range events {
		for _, sub := range l.subs {
			if !matchFilters(e, sub.filters) {
				continue
			}
			select {
			case sub.ch <- e:
			default:
				sub.dropped.Add(1)
				l.log.Warn(
					"subscriber lagging, dropping event",
					slog.String("event_id", e.ID),
					slog.Uint64("seq", e.Seq),
				)
			}
		}
	}
}

type memorySubscription struct {
	filters []SubscribeFilter
	ch      chan Envelope
	cancel  func()
	dropped atomic.Uint64
}

func (s *memorySubscription) Chan() <-chan Envelope { return s.ch }
func (s *memorySubscription) Cancel()               { s.cancel() }

// Dropped reports how many envelopes were discarded because the subscriber
// was not draining its channel.
func (s *memorySubscription) Dropped() uint64 { return s.dropped.Load() }

var (
	_ EventLog = (*InMemoryLog)(nil)
	_ Stream   = (*InMemoryLog)(nil)
)
