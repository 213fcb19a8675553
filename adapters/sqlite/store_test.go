package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stridelabs/planlog/core/es"
	"github.com/stridelabs/planlog/core/es/estest"
)

func newTestLog(t *testing.T) *EventLog {
	t.Helper()
	l, err := NewEventLog(Config{Path: filepath.Join(t.TempDir(), "events.db")})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, l.Close()) })
	return l
}

func TestEventLog_Contract(t *testing.T) {
	estest.RunEventLogContract(t, func(t *testing.T) es.EventLog {
		return newTestLog(t)
	})
}

func TestEventLog_RequiresPath(t *testing.T) {
	_, err := NewEventLog(Config{Path: "  "})
	require.ErrorContains(t, err, "storage path is required")
}

func TestEventLog_CloseNilSafe(t *testing.T) {
	var l *EventLog
	require.NoError(t, l.Close())
}

func TestEventLog_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	ctx := t.Context()

	l, err := NewEventLog(Config{Path: path})
	require.NoError(t, err)

	want := estest.NewEnvelope("a", 1, time.Now())
	_, err = l.Append(ctx, "a", 0, []es.Envelope{want})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	reopened, err := NewEventLog(Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, reopened.Close()) })

	v, err := reopened.CurrentVersion(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, es.Version(1), v)

	evs, err := reopened.EventsFor(ctx, "a")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, want.ID, evs[0].ID)
	require.JSONEq(t, string(want.Data), string(evs[0].Data))
}

func TestEventLog_DetectsTamperedPayload(t *testing.T) {
	l := newTestLog(t)
	ctx := t.Context()

	env := estest.NewEnvelope("a", 1, time.Now())
	_, err := l.Append(ctx, "a", 0, []es.Envelope{env})
	require.NoError(t, err)

	_, err = l.db.ExecContext(ctx,
		`UPDATE events SET payload = ? WHERE event_id = ?`, []byte(`{"n":999}`), env.ID,
	)
	require.NoError(t, err)

	_, err = l.EventsFor(ctx, "a")
	require.ErrorIs(t, err, ErrCorruptEvent)
	require.ErrorContains(t, err, env.ID)

	_, err = l.AllEvents(ctx)
	require.ErrorIs(t, err, ErrCorruptEvent)
}

func TestEventLog_DuplicateEventIDConflicts(t *testing.T) {
	l := newTestLog(t)
	ctx := t.Context()

	env := estest.NewEnvelope("a", 1, time.Now())
	_, err := l.Append(ctx, "a", 0, []es.Envelope{env})
	require.NoError(t, err)

	// same envelope id resubmitted under a different aggregate
	dup := env
	dup.AggregateID = "b"
	_, err = l.Append(ctx, "b", 0, []es.Envelope{dup})
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)

	v, err := l.CurrentVersion(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, es.Version(0), v)
}
