package planner_test

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stridelabs/planlog/core/es"
	"github.com/stridelabs/planlog/plan"
	"github.com/stridelabs/planlog/planner"
)

// recordingMetrics counts the signals the service tests care about and
// ignores the rest.
type recordingMetrics struct {
	es.Metrics

	mu          sync.Mutex
	hits        int
	misses      int
	conflicts   int
	inflight    int
	maxInflight int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{Metrics: es.NopMetrics()}
}

func (m *recordingMetrics) ViewCacheHit(string) {
	m.mu.Lock()
	m.hits++
	m.mu.Unlock()
}

func (m *recordingMetrics) ViewCacheMiss(string) {
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
}

func (m *recordingMetrics) ConcurrencyConflict(string) {
	m.mu.Lock()
	m.conflicts++
	m.mu.Unlock()
}

func (m *recordingMetrics) CommandsInflight(_ string, delta int) {
	m.mu.Lock()
	m.inflight += delta
	if m.inflight > m.maxInflight {
		m.maxInflight = m.inflight
	}
	m.mu.Unlock()
}

func (m *recordingMetrics) snapshot() (hits, misses, conflicts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits, m.misses, m.conflicts
}

func newTestService(t *testing.T) (*planner.Service, *es.InMemoryLog, *recordingMetrics) {
	t.Helper()
	eventLog := es.NewInMemoryLog()
	m := newRecordingMetrics()
	svc := planner.NewService(slog.Default(), eventLog, planner.WithMetrics(m))
	return svc, eventLog, m
}

func TestService_ExecuteCreatesAndSaves(t *testing.T) {
	svc, eventLog, _ := newTestService(t)
	ctx := t.Context()

	p, err := svc.Execute(ctx, "plan-001", func(p *plan.Plan) error {
		return p.Create("athlete-123", 16)
	})
	require.NoError(t, err)
	require.Equal(t, es.Version(1), p.GetVersion())
	require.Empty(t, p.Uncommitted())

	v, err := eventLog.CurrentVersion(ctx, "plan-001")
	require.NoError(t, err)
	require.Equal(t, es.Version(1), v)
}

func TestService_ExecuteValidation(t *testing.T) {
	svc, eventLog, _ := newTestService(t)
	ctx := t.Context()

	t.Run("empty plan id", func(t *testing.T) {
		_, err := svc.Execute(ctx, "", func(p *plan.Plan) error { return nil })
		require.ErrorContains(t, err, "plan id is empty")
	})

	t.Run("domain error propagates and persists nothing", func(t *testing.T) {
		_, err := svc.Execute(ctx, "plan-x", func(p *plan.Plan) error {
			return p.AddBlock("base", "aerobic", 6)
		})
		require.ErrorIs(t, err, plan.ErrNotInitialized)

		v, err := eventLog.CurrentVersion(ctx, "plan-x")
		require.NoError(t, err)
		require.Equal(t, es.Version(0), v)
	})

	t.Run("command emitting nothing is a no-op", func(t *testing.T) {
		p, err := svc.Execute(ctx, "plan-x", func(p *plan.Plan) error { return nil })
		require.NoError(t, err)
		require.Equal(t, es.Version(0), p.GetVersion())
	})
}

func TestService_ExecuteSerializesPerPlan(t *testing.T) {
	svc, eventLog, m := newTestService(t)
	ctx := t.Context()

	_, err := svc.Execute(ctx, "plan-001", func(p *plan.Plan) error {
		return p.Create("athlete-123", 16)
	})
	require.NoError(t, err)

	const writers = 8
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		day := fmt.Sprintf("w1.d%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Execute(ctx, "plan-001", func(p *plan.Plan) error {
				return p.ScheduleWorkout(day, "easy run", 10)
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	v, err := eventLog.CurrentVersion(ctx, "plan-001")
	require.NoError(t, err)
	require.Equal(t, es.Version(1+writers), v)

	// serialized writers never see a stale version
	_, _, conflicts := m.snapshot()
	require.Zero(t, conflicts)
}

func TestService_ExecuteRetriesOnConflict(t *testing.T) {
	svc, eventLog, m := newTestService(t)
	ctx := t.Context()
	other := es.NewTypedRepository(slog.Default(), eventLog, plan.New)

	_, err := svc.Execute(ctx, "plan-001", func(p *plan.Plan) error {
		return p.Create("athlete-123", 16)
	})
	require.NoError(t, err)

	// an out-of-process writer lands a save between the service's load
	// and its save, once
	var calls atomic.Int32
	p, err := svc.Execute(ctx, "plan-001", func(p *plan.Plan) error {
		if calls.Add(1) == 1 {
			rival, err := other.GetByID(ctx, "plan-001")
			require.NoError(t, err)
			require.NoError(t, rival.ScheduleWorkout("w1.mon", "hill sprints", 14))
			require.NoError(t, other.Save(ctx, rival))
		}
		return p.ScheduleWorkout("w1.tue", "easy run", 10)
	})
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, es.Version(3), p.GetVersion())

	_, ok := p.WorkoutOn("w1.mon")
	require.True(t, ok, "retry must replay on top of the rival's save")
	_, ok = p.WorkoutOn("w1.tue")
	require.True(t, ok)

	_, _, conflicts := m.snapshot()
	require.Equal(t, 1, conflicts)
}

func TestService_ExecuteGivesUpAfterAttempts(t *testing.T) {
	eventLog := es.NewInMemoryLog()
	svc := planner.NewService(slog.Default(), eventLog, planner.WithAttempts(2))
	ctx := t.Context()
	other := es.NewTypedRepository(slog.Default(), eventLog, plan.New)

	_, err := svc.Execute(ctx, "plan-001", func(p *plan.Plan) error {
		return p.Create("athlete-123", 16)
	})
	require.NoError(t, err)

	// the rival wins every race
	var calls atomic.Int32
	_, err = svc.Execute(ctx, "plan-001", func(p *plan.Plan) error {
		n := calls.Add(1)
		rival, err := other.GetByID(ctx, "plan-001")
		require.NoError(t, err)
		require.NoError(t, rival.ScheduleWorkout(fmt.Sprintf("w%d.mon", n), "hill sprints", 14))
		require.NoError(t, other.Save(ctx, rival))
		return p.ScheduleWorkout("w1.tue", "easy run", 10)
	})
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)
	require.Equal(t, int32(2), calls.Load())

	// only the rival's events landed
	final, err := other.GetByID(ctx, "plan-001")
	require.NoError(t, err)
	require.Equal(t, es.Version(3), final.GetVersion())
	_, ok := final.WorkoutOn("w1.tue")
	require.False(t, ok)
}

func TestService_ViewCachesPerVersion(t *testing.T) {
	svc, _, m := newTestService(t)
	ctx := t.Context()

	_, err := svc.Execute(ctx, "plan-001", func(p *plan.Plan) error {
		return p.Create("athlete-123", 16)
	})
	require.NoError(t, err)

	v1, err := svc.View(ctx, "plan-001")
	require.NoError(t, err)
	require.Equal(t, es.Version(1), v1.Version)
	require.Equal(t, "athlete-123", v1.Athlete)

	v2, err := svc.View(ctx, "plan-001")
	require.NoError(t, err)
	require.Same(t, v1, v2, "same version must be served from cache")

	_, err = svc.Execute(ctx, "plan-001", func(p *plan.Plan) error {
		return p.AddBlock("base", "aerobic", 6)
	})
	require.NoError(t, err)

	v3, err := svc.View(ctx, "plan-001")
	require.NoError(t, err)
	require.Equal(t, es.Version(2), v3.Version)
	require.Len(t, v3.Blocks, 1)

	hits, misses, _ := m.snapshot()
	require.Equal(t, 1, hits)
	require.Equal(t, 2, misses)
}

func TestService_ViewUnknownPlan(t *testing.T) {
	svc, _, _ := newTestService(t)

	v, err := svc.View(t.Context(), "nobody")
	require.NoError(t, err)
	require.Equal(t, es.Version(0), v.Version)
	require.Equal(t, "nobody", v.ID)
	require.Empty(t, v.Athlete)
}

func TestService_JournalAndHistory(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := t.Context()

	_, err := svc.Execute(ctx, "plan-001", func(p *plan.Plan) error {
		return p.Create("athlete-123", 16)
	})
	require.NoError(t, err)
	_, err = svc.Execute(ctx, "plan-001", func(p *plan.Plan) error {
		return p.ScheduleWorkout("w1.tue", "easy run", 10)
	})
	require.NoError(t, err)
	_, err = svc.Execute(ctx, "plan-002", func(p *plan.Plan) error {
		return p.Create("athlete-456", 8)
	})
	require.NoError(t, err)

	journal, err := svc.Journal(ctx)
	require.NoError(t, err)
	require.Len(t, journal, 3)
	require.Contains(t, journal[0], plan.TypeCreated)
	require.Contains(t, journal[0], "plan-001")
	require.Contains(t, journal[1], plan.TypeWorkoutScheduled)
	require.Contains(t, journal[2], "plan-002")

	history, err := svc.History(ctx, "plan-001")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Contains(t, history[0], "v1")
	require.Contains(t, history[1], "v2")
	require.Contains(t, history[1], `"day":"w1.tue"`)

	_, err = svc.History(ctx, "")
	require.ErrorContains(t, err, "plan id is empty")
}
