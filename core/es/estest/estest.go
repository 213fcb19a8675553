// Package estest holds the contract suite every EventLog implementation has
// to pass. Backend packages run it from their own tests:
//
//	func TestStore_Contract(t *testing.T) {
//	    estest.RunEventLogContract(t, func(t *testing.T) es.EventLog {
//	        return newStoreForTest(t)
//	    })
//	}
package estest

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/stridelabs/planlog/core/es"
)

// NewLogFunc returns a fresh, empty EventLog for one subtest. Cleanup hooks
// belong on t.
type NewLogFunc func(t *testing.T) es.EventLog

// NewEnvelope builds a valid envelope for contract tests. Timestamps are
// truncated to millisecond precision so durable backends with coarser clocks
// round-trip exactly.
func NewEnvelope(aggregateID string, version es.Version, at time.Time) es.Envelope {
	return es.Envelope{
		ID:          gonanoid.Must(),
		Version:     version,
		AggregateID: aggregateID,
		Type:        "test.event",
		OccurredAt:  at.Truncate(time.Millisecond),
		Data:        json.RawMessage(`{"n":1}`),
	}
}

// RunEventLogContract exercises the EventLog semantics shared by all
// backends: optimistic appends, per-aggregate and global reads, ordering and
// atomicity.
func RunEventLogContract(t *testing.T, newLog NewLogFunc) {
	base := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

	t.Run("append assigns global sequence", func(t *testing.T) {
		l := newLog(t)
		ctx := t.Context()

		res, err := l.Append(ctx, "a", 0, []es.Envelope{
			NewEnvelope("a", 1, base),
			NewEnvelope("a", 2, base.Add(time.Second)),
		})
		require.NoError(t, err)
		require.Equal(t, uint64(2), res.LastSeq)

		res, err = l.Append(ctx, "b", 0, []es.Envelope{NewEnvelope("b", 1, base)})
		require.NoError(t, err)
		require.Equal(t, uint64(3), res.LastSeq)
	})

	t.Run("round-trips envelope fields", func(t *testing.T) {
		l := newLog(t)
		ctx := t.Context()

		want := NewEnvelope("a", 1, base)
		_, err := l.Append(ctx, "a", 0, []es.Envelope{want})
		require.NoError(t, err)

		evs, err := l.EventsFor(ctx, "a")
		require.NoError(t, err)
		require.Len(t, evs, 1)

		got := evs[0]
		require.Equal(t, want.ID, got.ID)
		require.Equal(t, want.Version, got.Version)
		require.Equal(t, want.AggregateID, got.AggregateID)
		require.Equal(t, want.Type, got.Type)
		require.JSONEq(t, string(want.Data), string(got.Data))
		require.Equal(t, want.OccurredAt.UnixMilli(), got.OccurredAt.UnixMilli())
		require.NotZero(t, got.Seq)
	})

	t.Run("reads never fail for unknown ids", func(t *testing.T) {
		l := newLog(t)
		ctx := t.Context()

		evs, err := l.EventsFor(ctx, "missing")
		require.NoError(t, err)
		require.Empty(t, evs)

		v, err := l.CurrentVersion(ctx, "missing")
		require.NoError(t, err)
		require.Equal(t, es.Version(0), v)
	})

	t.Run("current version is the stored count", func(t *testing.T) {
		l := newLog(t)
		ctx := t.Context()

		for i := es.Version(0); i < 3; i++ {
			_, err := l.Append(ctx, "a", i, []es.Envelope{
				NewEnvelope("a", i+1, base.Add(time.Duration(i)*time.Second)),
			})
			require.NoError(t, err)

			v, err := l.CurrentVersion(ctx, "a")
			require.NoError(t, err)
			require.Equal(t, i+1, v)
		}
	})

	t.Run("stale append conflicts and persists nothing", func(t *testing.T) {
		l := newLog(t)
		ctx := t.Context()

		_, err := l.Append(ctx, "a", 0, []es.Envelope{NewEnvelope("a", 1, base)})
		require.NoError(t, err)

		_, err = l.Append(ctx, "a", 0, []es.Envelope{
			NewEnvelope("a", 1, base),
			NewEnvelope("a", 2, base),
		})
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)

		_, err = l.Append(ctx, "a", 7, []es.Envelope{NewEnvelope("a", 8, base)})
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)

		evs, err := l.EventsFor(ctx, "a")
		require.NoError(t, err)
		require.Len(t, evs, 1)
	})

	t.Run("empty batch rejected", func(t *testing.T) {
		l := newLog(t)
		_, err := l.Append(t.Context(), "a", 0, nil)
		require.ErrorIs(t, err, es.ErrNoEvents)
	})

	t.Run("batch is all or nothing", func(t *testing.T) {
		l := newLog(t)
		ctx := t.Context()

		// the second envelope breaks contiguity, so nothing may land
		_, err := l.Append(ctx, "a", 0, []es.Envelope{
			NewEnvelope("a", 1, base),
			NewEnvelope("a", 3, base),
		})
		require.Error(t, err)

		evs, err := l.EventsFor(ctx, "a")
		require.NoError(t, err)
		require.Empty(t, evs)

		v, err := l.CurrentVersion(ctx, "a")
		require.NoError(t, err)
		require.Equal(t, es.Version(0), v)
	})

	t.Run("per-aggregate view equals filtered global view", func(t *testing.T) {
		l := newLog(t)
		ctx := t.Context()

		_, err := l.Append(ctx, "a", 0, []es.Envelope{NewEnvelope("a", 1, base)})
		require.NoError(t, err)
		_, err = l.Append(ctx, "b", 0, []es.Envelope{NewEnvelope("b", 1, base.Add(time.Second))})
		require.NoError(t, err)
		_, err = l.Append(ctx, "a", 1, []es.Envelope{NewEnvelope("a", 2, base.Add(2*time.Second))})
		require.NoError(t, err)

		all, err := l.AllEvents(ctx)
		require.NoError(t, err)

		var filtered []string
		for _, e := range all {
			if e.AggregateID == "a" {
				filtered = append(filtered, e.ID)
			}
		}

		evs, err := l.EventsFor(ctx, "a")
		require.NoError(t, err)
		var direct []string
		for _, e := range evs {
			direct = append(direct, e.ID)
		}
		require.Equal(t, direct, filtered)
	})

	t.Run("all events ordered by time, ties keep insertion order", func(t *testing.T) {
		l := newLog(t)
		ctx := t.Context()

		// "late" is appended first but carries the newest timestamp
		_, err := l.Append(ctx, "late", 0, []es.Envelope{NewEnvelope("late", 1, base.Add(time.Minute))})
		require.NoError(t, err)
		_, err = l.Append(ctx, "t1", 0, []es.Envelope{NewEnvelope("t1", 1, base)})
		require.NoError(t, err)
		_, err = l.Append(ctx, "t2", 0, []es.Envelope{NewEnvelope("t2", 1, base)})
		require.NoError(t, err)

		all, err := l.AllEvents(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		require.Equal(t, "t1", all[0].AggregateID)
		require.Equal(t, "t2", all[1].AggregateID)
		require.Equal(t, "late", all[2].AggregateID)
	})

	t.Run("concurrent same-id appends elect one winner", func(t *testing.T) {
		l := newLog(t)
		ctx := t.Context()

		const writers = 8
		errs := make(chan error, writers)
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.Append(ctx, "a", 0, []es.Envelope{NewEnvelope("a", 1, base)})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		var won int
		for err := range errs {
			if err == nil {
				won++
			} else {
				require.ErrorIs(t, err, es.ErrConcurrencyConflict)
			}
		}
		require.Equal(t, 1, won)

		v, err := l.CurrentVersion(ctx, "a")
		require.NoError(t, err)
		require.Equal(t, es.Version(1), v)
	})
}
