package plan

import (
	"errors"
	"fmt"

	"github.com/stridelabs/planlog/core/es"
)

// Event type tags. These are the wire names persisted in envelopes; they
// never change, even if the Go types are renamed.
const (
	TypeCreated          = "plan.created"
	TypeBlockAdded       = "plan.block_added"
	TypeWorkoutScheduled = "plan.workout_scheduled"
	TypeWorkoutCompleted = "plan.workout_completed"
	TypeLoadAdjusted     = "plan.load_adjusted"
	TypeAnalyzed         = "plan.analyzed"
)

type (
	// Created starts a plan for one athlete over a number of weeks.
	Created struct {
		Athlete string `json:"athlete"`
		Weeks   int    `json:"weeks"`
	}

	// BlockAdded appends a periodization block (base, build, taper, ...).
	BlockAdded struct {
		Name  string `json:"name"`
		Focus string `json:"focus"`
		Weeks int    `json:"weeks"`
	}

	// WorkoutScheduled books a workout on a day key. A day holds at most
	// one workout.
	WorkoutScheduled struct {
		Day   string  `json:"day"`
		Title string  `json:"title"`
		Load  float64 `json:"load"`
	}

	// WorkoutCompleted marks the workout on a day as done, with the
	// athlete's perceived effort on a 1..10 scale.
	WorkoutCompleted struct {
		Day    string `json:"day"`
		Effort int    `json:"effort"`
	}

	// LoadAdjusted scales the load of every workout still ahead.
	LoadAdjusted struct {
		Factor float64 `json:"factor"`
		Reason string  `json:"reason"`
	}

	// Analyzed records the derived numbers of the plan at the moment of
	// analysis, so the reading is part of the history itself.
	Analyzed struct {
		Completed int     `json:"completed"`
		Scheduled int     `json:"scheduled"`
		TotalLoad float64 `json:"total_load"`
	}
)

func (Created) EventType() string          { return TypeCreated }
func (BlockAdded) EventType() string       { return TypeBlockAdded }
func (WorkoutScheduled) EventType() string { return TypeWorkoutScheduled }
func (WorkoutCompleted) EventType() string { return TypeWorkoutCompleted }
func (LoadAdjusted) EventType() string     { return TypeLoadAdjusted }
func (Analyzed) EventType() string         { return TypeAnalyzed }

func (e Created) Validate() error {
	if e.Athlete == "" {
		return errors.New("athlete is required")
	}
	if e.Weeks <= 0 {
		return fmt.Errorf("weeks must be positive, got %d", e.Weeks)
	}
	return nil
}

func (e BlockAdded) Validate() error {
	if e.Name == "" {
		return errors.New("block name is required")
	}
	if e.Weeks <= 0 {
		return fmt.Errorf("block weeks must be positive, got %d", e.Weeks)
	}
	return nil
}

func (e WorkoutScheduled) Validate() error {
	if e.Day == "" {
		return errors.New("day is required")
	}
	if e.Title == "" {
		return errors.New("title is required")
	}
	if e.Load <= 0 {
		return fmt.Errorf("load must be positive, got %v", e.Load)
	}
	return nil
}

func (e WorkoutCompleted) Validate() error {
	if e.Day == "" {
		return errors.New("day is required")
	}
	if e.Effort < 1 || e.Effort > 10 {
		return fmt.Errorf("effort must be within 1..10, got %d", e.Effort)
	}
	return nil
}

func (e LoadAdjusted) Validate() error {
	if e.Factor <= 0 {
		return fmt.Errorf("load factor must be positive, got %v", e.Factor)
	}
	return nil
}

func (e Analyzed) Validate() error {
	if e.Completed < 0 || e.Scheduled < 0 {
		return errors.New("negative workout counts")
	}
	if e.Completed > e.Scheduled {
		return fmt.Errorf("completed %d exceeds scheduled %d", e.Completed, e.Scheduled)
	}
	return nil
}

// RegisterEvents declares the full, closed event set of the plan aggregate.
// Envelopes with any other type tag fail to decode.
func RegisterEvents(r es.Registrar) {
	es.RegisterEvents(
		r,
		es.Event[Created](),
		es.Event[BlockAdded](),
		es.Event[WorkoutScheduled](),
		es.Event[WorkoutCompleted](),
		es.Event[LoadAdjusted](),
		es.Event[Analyzed](),
	)
}
