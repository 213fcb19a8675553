package es

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// tally is the aggregate used across the package tests: a named counter
// with just enough behavior to exercise raise, fold and replay.
type (
	tallyCreated struct {
		Name string `json:"name"`
	}
	tallyBumped struct {
		By int `json:"by"`
	}
	tallyBroken struct{}
)

func (tallyCreated) EventType() string { return "tally.created" }
func (tallyBumped) EventType() string  { return "tally.bumped" }
func (tallyBroken) EventType() string  { return "tally.broken" }

func (e tallyBumped) Validate() error {
	if e.By == 0 {
		return errors.New("bump by zero")
	}
	return nil
}

type tally struct {
	BaseAggregate

	name  string
	total int
}

func newTally(id string) *tally {
	a := &tally{}
	a.SetID(id)
	return a
}

func (a *tally) GetAggType() string { return "tally" }

func (a *tally) Register(r Registrar) {
	RegisterEvents(r, Event[tallyCreated](), Event[tallyBumped](), Event[tallyBroken]())
}

func (a *tally) Apply(event any) error {
	switch e := event.(type) {
	case *tallyCreated:
		a.name = e.Name
	case *tallyBumped:
		a.total += e.By
	case *tallyBroken:
		return errors.New("broken event")
	default:
		return fmt.Errorf("unexpected event %T", event)
	}
	return nil
}

func (a *tally) Create(name string) error {
	if a.name != "" {
		return errors.New("tally already created")
	}
	return RaiseAndApply(a, &tallyCreated{Name: name})
}

func (a *tally) Bump(by int) error {
	if a.name == "" {
		return errors.New("tally not created")
	}
	return RaiseAndApply(a, &tallyBumped{By: by})
}

var _ Aggregate = (*tally)(nil)

func tallyRegistry() *EventRegistry {
	reg := NewRegistry()
	newTally("").Register(reg)
	return reg
}

func TestRaiseAndApply(t *testing.T) {
	a := newTally("t-1")
	require.NoError(t, a.Create("morning runs"))
	require.NoError(t, a.Bump(2))
	require.NoError(t, a.Bump(3))

	require.Equal(t, "morning runs", a.name)
	require.Equal(t, 5, a.total)
	require.Equal(t, Version(3), a.GetVersion())
	require.Equal(t, Version(0), a.GetLoadedVersion())

	uncommitted := a.Uncommitted()
	require.Len(t, uncommitted, 3)
	for i, env := range uncommitted {
		require.NoError(t, env.Validate())
		require.Equal(t, Version(i+1), env.Version)
		require.Equal(t, "t-1", env.AggregateID)
		require.Zero(t, env.Seq)
	}
	require.Equal(t, "tally.created", uncommitted[0].Type)
	require.Equal(t, "tally.bumped", uncommitted[1].Type)

	var payload tallyBumped
	require.NoError(t, json.Unmarshal(uncommitted[1].Data, &payload))
	require.Equal(t, 2, payload.By)
}

func TestRaiseAndApply_InvalidEventLeavesStateUntouched(t *testing.T) {
	a := newTally("t-1")
	require.NoError(t, a.Create("x"))

	err := a.Bump(0)
	require.ErrorContains(t, err, "bump by zero")
	require.Equal(t, 0, a.total)
	require.Equal(t, Version(1), a.GetVersion())
	require.Len(t, a.Uncommitted(), 1)
}

func TestRaiseAndApply_ApplyErrorDoesNotBuffer(t *testing.T) {
	a := newTally("t-1")
	require.NoError(t, a.Create("x"))

	err := RaiseAndApply(a, &tallyBroken{})
	require.ErrorContains(t, err, "broken event")
	require.Equal(t, Version(1), a.GetVersion())
	require.Len(t, a.Uncommitted(), 1)
}

func TestMarkCommitted(t *testing.T) {
	a := newTally("t-1")
	require.NoError(t, a.Create("x"))
	require.NoError(t, a.Bump(1))

	a.MarkCommitted()
	require.Empty(t, a.Uncommitted())
	require.Equal(t, Version(2), a.GetVersion())
	require.Equal(t, Version(2), a.GetLoadedVersion())

	// acknowledging twice changes nothing
	a.MarkCommitted()
	require.Empty(t, a.Uncommitted())
	require.Equal(t, Version(2), a.GetLoadedVersion())
}

func TestReplay_MatchesLiveState(t *testing.T) {
	live := newTally("t-1")
	require.NoError(t, live.Create("morning runs"))
	require.NoError(t, live.Bump(2))
	require.NoError(t, live.Bump(40))
	history := live.Uncommitted()

	replayed := newTally("t-1")
	require.NoError(t, Replay(replayed, tallyRegistry(), history))

	require.Equal(t, live.name, replayed.name)
	require.Equal(t, live.total, replayed.total)
	require.Equal(t, live.GetVersion(), replayed.GetVersion())
	require.Equal(t, replayed.GetVersion(), replayed.GetLoadedVersion())
	require.Empty(t, replayed.Uncommitted())
}

func TestReplay_EmptyHistory(t *testing.T) {
	a := newTally("t-1")
	require.NoError(t, Replay(a, tallyRegistry(), nil))
	require.Equal(t, Version(0), a.GetVersion())
	require.Equal(t, Version(0), a.GetLoadedVersion())
}

func TestReplay_Guards(t *testing.T) {
	mkHistory := func() []Envelope {
		live := newTally("t-1")
		require.NoError(t, live.Create("x"))
		require.NoError(t, live.Bump(1))
		return live.Uncommitted()
	}

	t.Run("dirty aggregate", func(t *testing.T) {
		a := newTally("t-1")
		require.NoError(t, a.Create("x"))
		err := Replay(a, tallyRegistry(), mkHistory())
		require.ErrorContains(t, err, "uncommitted")
	})

	t.Run("already replayed", func(t *testing.T) {
		a := newTally("t-1")
		require.NoError(t, Replay(a, tallyRegistry(), mkHistory()))
		err := Replay(a, tallyRegistry(), mkHistory())
		require.ErrorContains(t, err, "version")
	})

	t.Run("version gap", func(t *testing.T) {
		history := mkHistory()
		history[1].Version = 3
		err := Replay(newTally("t-1"), tallyRegistry(), history)
		require.ErrorContains(t, err, "expected version 2")
	})

	t.Run("foreign aggregate id", func(t *testing.T) {
		err := Replay(newTally("t-2"), tallyRegistry(), mkHistory())
		require.ErrorContains(t, err, "belongs to")
	})

	t.Run("unknown event type", func(t *testing.T) {
		history := mkHistory()
		history[1].Type = "tally.retired"
		err := Replay(newTally("t-1"), tallyRegistry(), history)
		require.ErrorIs(t, err, ErrUnknownEventType)
	})
}
