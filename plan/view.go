package plan

import (
	"sort"

	"github.com/stridelabs/planlog/core/es"
)

type (
	// WorkoutView is one day's slot in a View, with its day key attached.
	WorkoutView struct {
		Day       string  `json:"day"`
		Title     string  `json:"title"`
		Load      float64 `json:"load"`
		Completed bool    `json:"completed"`
		Effort    int     `json:"effort,omitempty"`
	}

	// View is the read-only projection of a plan, safe to hand out and
	// cheap to encode. Version is the aggregate version the view was
	// derived from.
	View struct {
		ID        string        `json:"id"`
		Version   es.Version    `json:"version"`
		Athlete   string        `json:"athlete"`
		Weeks     int           `json:"weeks"`
		Blocks    []Block       `json:"blocks,omitempty"`
		Workouts  []WorkoutView `json:"workouts,omitempty"`
		Scheduled int           `json:"scheduled"`
		Completed int           `json:"completed"`
		TotalLoad float64       `json:"total_load"`
		Analysis  *Analysis     `json:"analysis,omitempty"`
	}
)

// View projects the plan's current state. Workouts are sorted by day key so
// the output is stable.
func (p *Plan) View() *View {
	v := &View{
		ID:        p.GetID(),
		Version:   p.GetVersion(),
		Athlete:   p.athlete,
		Weeks:     p.weeks,
		Blocks:    p.Blocks(),
		Scheduled: p.ScheduledCount(),
		Completed: p.CompletedCount(),
		TotalLoad: p.TotalLoad(),
	}

	days := make([]string, 0, len(p.workouts))
	for day := range p.workouts {
		days = append(days, day)
	}
	sort.Strings(days)
	for _, day := range days {
		w := p.workouts[day]
		v.Workouts = append(v.Workouts, WorkoutView{
			Day:       day,
			Title:     w.Title,
			Load:      w.Load,
			Completed: w.Completed,
			Effort:    w.Effort,
		})
	}

	if p.lastAnalysis != nil {
		a := *p.lastAnalysis
		v.Analysis = &a
	}

	return v
}
