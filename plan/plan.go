// Package plan models a season training plan as an event-sourced aggregate:
// an athlete, a sequence of periodization blocks and one workout slot per
// day key. All state is derived by folding the plan's events; commands
// validate against that state and emit exactly one event each.
package plan

import (
	"errors"
	"fmt"

	"github.com/stridelabs/planlog/core/es"
)

// AggregateType is the aggregate type name used in logs and metric labels.
const AggregateType = "plan"

var (
	// ErrAlreadyInitialized is returned by Create on a plan that exists.
	ErrAlreadyInitialized = errors.New("plan already initialized")
	// ErrNotInitialized is returned by every other command before Create.
	ErrNotInitialized = errors.New("plan not initialized")
	// ErrDuplicateEntry is returned when a block name or day slot is
	// already taken, or a workout is completed twice.
	ErrDuplicateEntry = errors.New("duplicate entry")
	// ErrMissingEntry is returned when a command refers to a day with no
	// scheduled workout.
	ErrMissingEntry = errors.New("missing entry")
)

type (
	// Block is one periodization phase of the plan.
	Block struct {
		Name  string `json:"name"`
		Focus string `json:"focus"`
		Weeks int    `json:"weeks"`
	}

	// Workout is the slot booked on one day.
	Workout struct {
		Title     string  `json:"title"`
		Load      float64 `json:"load"`
		Completed bool    `json:"completed"`
		Effort    int     `json:"effort,omitempty"`
	}

	// Analysis is the reading recorded by the last Analyze command.
	Analysis struct {
		Completed int     `json:"completed"`
		Scheduled int     `json:"scheduled"`
		TotalLoad float64 `json:"total_load"`
	}
)

// Plan is the training-plan aggregate root.
type Plan struct {
	es.BaseAggregate

	athlete      string
	weeks        int
	blocks       []Block
	workouts     map[string]*Workout
	lastAnalysis *Analysis
}

// New returns a fresh plan aggregate with no history applied.
func New(id string) *Plan {
	p := &Plan{workouts: map[string]*Workout{}}
	p.SetID(id)
	return p
}

func (p *Plan) GetAggType() string { return AggregateType }

func (p *Plan) Register(r es.Registrar) { RegisterEvents(r) }

// Apply folds one event into the plan. It is the only place state changes;
// commands and replay both go through it.
func (p *Plan) Apply(event any) error {
	switch e := event.(type) {
	case *Created:
		p.athlete = e.Athlete
		p.weeks = e.Weeks
	case *BlockAdded:
		p.blocks = append(p.blocks, Block{Name: e.Name, Focus: e.Focus, Weeks: e.Weeks})
	case *WorkoutScheduled:
		p.workouts[e.Day] = &Workout{Title: e.Title, Load: e.Load}
	case *WorkoutCompleted:
		w, ok := p.workouts[e.Day]
		if !ok {
			return fmt.Errorf("no workout on %s", e.Day)
		}
		w.Completed = true
		w.Effort = e.Effort
	case *LoadAdjusted:
		for _, w := range p.workouts {
			if !w.Completed {
				w.Load *= e.Factor
			}
		}
	case *Analyzed:
		p.lastAnalysis = &Analysis{
			Completed: e.Completed,
			Scheduled: e.Scheduled,
			TotalLoad: e.TotalLoad,
		}
	default:
		return fmt.Errorf("unexpected event %T", event)
	}
	return nil
}

// === Commands ===

// Create starts the plan. It must be the first command.
func (p *Plan) Create(athlete string, weeks int) error {
	if p.IsCreated() {
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, p.GetID())
	}
	return es.RaiseAndApply(p, &Created{Athlete: athlete, Weeks: weeks})
}

// AddBlock appends a periodization block. Block names are unique and the
// blocks together must fit into the plan's weeks.
func (p *Plan) AddBlock(name, focus string, weeks int) error {
	if !p.IsCreated() {
		return fmt.Errorf("%w: %s", ErrNotInitialized, p.GetID())
	}
	total := weeks
	for _, b := range p.blocks {
		if b.Name == name {
			return fmt.Errorf("%w: block %q", ErrDuplicateEntry, name)
		}
		total += b.Weeks
	}
	if weeks > 0 && total > p.weeks {
		return fmt.Errorf("blocks exceed plan length: %d > %d weeks", total, p.weeks)
	}
	return es.RaiseAndApply(p, &BlockAdded{Name: name, Focus: focus, Weeks: weeks})
}

// ScheduleWorkout books a workout on a free day key.
func (p *Plan) ScheduleWorkout(day, title string, load float64) error {
	if !p.IsCreated() {
		return fmt.Errorf("%w: %s", ErrNotInitialized, p.GetID())
	}
	if _, taken := p.workouts[day]; taken {
		return fmt.Errorf("%w: workout on %s", ErrDuplicateEntry, day)
	}
	return es.RaiseAndApply(p, &WorkoutScheduled{Day: day, Title: title, Load: load})
}

// CompleteWorkout marks the workout on day as done.
func (p *Plan) CompleteWorkout(day string, effort int) error {
	if !p.IsCreated() {
		return fmt.Errorf("%w: %s", ErrNotInitialized, p.GetID())
	}
	w, ok := p.workouts[day]
	if !ok {
		return fmt.Errorf("%w: no workout on %s", ErrMissingEntry, day)
	}
	if w.Completed {
		return fmt.Errorf("%w: workout on %s already completed", ErrDuplicateEntry, day)
	}
	return es.RaiseAndApply(p, &WorkoutCompleted{Day: day, Effort: effort})
}

// AdjustLoad scales every workout still ahead by factor.
func (p *Plan) AdjustLoad(factor float64, reason string) error {
	if !p.IsCreated() {
		return fmt.Errorf("%w: %s", ErrNotInitialized, p.GetID())
	}
	return es.RaiseAndApply(p, &LoadAdjusted{Factor: factor, Reason: reason})
}

// Analyze records the plan's derived numbers as an event, making the
// reading replayable like any other fact.
func (p *Plan) Analyze() error {
	if !p.IsCreated() {
		return fmt.Errorf("%w: %s", ErrNotInitialized, p.GetID())
	}
	return es.RaiseAndApply(p, &Analyzed{
		Completed: p.CompletedCount(),
		Scheduled: p.ScheduledCount(),
		TotalLoad: p.TotalLoad(),
	})
}

// === State accessors ===

func (p *Plan) IsCreated() bool { return p.athlete != "" }
func (p *Plan) Athlete() string { return p.athlete }
func (p *Plan) Weeks() int      { return p.weeks }

// Blocks returns the periodization blocks in the order they were added.
func (p *Plan) Blocks() []Block {
	out := make([]Block, len(p.blocks))
	copy(out, p.blocks)
	return out
}

// WorkoutOn returns the workout booked on day, if any.
func (p *Plan) WorkoutOn(day string) (Workout, bool) {
	w, ok := p.workouts[day]
	if !ok {
		return Workout{}, false
	}
	return *w, true
}

func (p *Plan) ScheduledCount() int { return len(p.workouts) }

func (p *Plan) CompletedCount() int {
	n := 0
	for _, w := range p.workouts {
		if w.Completed {
			n++
		}
	}
	return n
}

// TotalLoad is the summed load over all workouts, completed or not.
func (p *Plan) TotalLoad() float64 {
	total := 0.0
	for _, w := range p.workouts {
		total += w.Load
	}
	return total
}

// LastAnalysis returns the reading of the most recent Analyze, if any.
func (p *Plan) LastAnalysis() (Analysis, bool) {
	if p.lastAnalysis == nil {
		return Analysis{}, false
	}
	return *p.lastAnalysis, true
}

var _ es.Aggregate = (*Plan)(nil)
