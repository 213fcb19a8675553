// Package main walks a training plan through a season: create it, lay out
// blocks, schedule and complete workouts, lose a save to a concurrent
// writer, then print the journal.
//
// Run with: go run ./cmd/planlog
//
// Configuration comes from the environment:
//
//	PLANLOG_STORE         memory|sqlite (default: memory)
//	PLANLOG_SQLITE_PATH   database file for the sqlite store (default: planlog.db)
//	PLANLOG_PLAN_ID       plan id to drive (default: random uuid)
//	PLANLOG_LOG_LEVEL     slog level (default: info)
//	PLANLOG_METRICS_ADDR  expose Prometheus metrics, e.g. :2121 (default: off)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	promadapter "github.com/stridelabs/planlog/adapters/prometheus"
	"github.com/stridelabs/planlog/adapters/sqlite"
	"github.com/stridelabs/planlog/core/es"
	"github.com/stridelabs/planlog/plan"
	"github.com/stridelabs/planlog/planner"
)

type config struct {
	Store       string     `env:"PLANLOG_STORE" envDefault:"memory"`
	SQLitePath  string     `env:"PLANLOG_SQLITE_PATH" envDefault:"planlog.db"`
	PlanID      string     `env:"PLANLOG_PLAN_ID"`
	Athlete     string     `env:"PLANLOG_ATHLETE" envDefault:"athlete-123"`
	Weeks       int        `env:"PLANLOG_WEEKS" envDefault:"16"`
	LogLevel    slog.Level `env:"PLANLOG_LOG_LEVEL" envDefault:"info"`
	MetricsAddr string     `env:"PLANLOG_METRICS_ADDR"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, "parse config:", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	if err := run(ctx, log, cfg); err != nil {
		log.Error("planlog demo failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, cfg config) error {
	reg := prometheus.NewRegistry()
	metrics := promadapter.NewESMetrics(reg)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			log.Info("metrics listening", slog.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", slog.Any("error", err))
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	eventLog, cleanup, err := openEventLog(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	// live event tail, only the in-memory log supports subscriptions
	if stream, ok := eventLog.(es.Stream); ok {
		sub, err := stream.Subscribe(ctx, es.WithSubscribeBuffer(128))
		if err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		defer sub.Cancel()
		go func() {
			for env := range sub.Chan() {
				log.Debug(
					"live event",
					slog.Uint64("seq", env.Seq),
					slog.String("aggregate_id", env.AggregateID),
					slog.String("type", env.Type),
				)
			}
		}()
	}

	svc := planner.NewService(log, eventLog, planner.WithMetrics(metrics))

	planID := cfg.PlanID
	if planID == "" {
		planID = uuid.NewString()
	}
	log.Info("starting season", slog.String("plan_id", planID), slog.String("store", cfg.Store))

	commands := []struct {
		name string
		cmd  func(*plan.Plan) error
	}{
		{"create plan", func(p *plan.Plan) error { return p.Create(cfg.Athlete, cfg.Weeks) }},
		{"add base block", func(p *plan.Plan) error { return p.AddBlock("base", "aerobic", 6) }},
		{"add build block", func(p *plan.Plan) error { return p.AddBlock("build", "threshold", 6) }},
		{"schedule tuesday run", func(p *plan.Plan) error { return p.ScheduleWorkout("w1.tue", "easy run", 10) }},
		{"schedule thursday intervals", func(p *plan.Plan) error { return p.ScheduleWorkout("w1.thu", "intervals", 20) }},
		{"complete tuesday run", func(p *plan.Plan) error { return p.CompleteWorkout("w1.tue", 6) }},
		{"pull back the load", func(p *plan.Plan) error { return p.AdjustLoad(0.9, "fatigue creeping in") }},
		{"analyze the week", func(p *plan.Plan) error { return p.Analyze() }},
	}
	for _, c := range commands {
		p, err := svc.Execute(ctx, planID, c.cmd)
		if err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
		log.Info(c.name, slog.String("plan_id", planID), p.GetVersion().SlogAttr())
	}

	if err := raceTwoWriters(ctx, log, eventLog, svc, planID); err != nil {
		return err
	}

	view, err := svc.View(ctx, planID)
	if err != nil {
		return fmt.Errorf("view: %w", err)
	}
	log.Info(
		"season so far",
		slog.String("plan_id", view.ID),
		slog.String("athlete", view.Athlete),
		view.Version.SlogAttr(),
		slog.Int("scheduled", view.Scheduled),
		slog.Int("completed", view.Completed),
		slog.Float64("total_load", view.TotalLoad),
	)

	journal, err := svc.Journal(ctx)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	fmt.Println("journal:")
	for _, line := range journal {
		fmt.Println("  " + line)
	}

	return nil
}

// raceTwoWriters loads two copies of the plan at the same version and lets
// them race for the next slot. The stale copy loses with a concurrency
// conflict and its buffered event is retried through the service.
func raceTwoWriters(ctx context.Context, log *slog.Logger, eventLog es.EventLog, svc *planner.Service, planID string) error {
	repo := es.NewTypedRepository(log, eventLog, plan.New)

	first, err := repo.GetByID(ctx, planID)
	if err != nil {
		return fmt.Errorf("load first copy: %w", err)
	}
	second, err := repo.GetByID(ctx, planID)
	if err != nil {
		return fmt.Errorf("load second copy: %w", err)
	}

	if err := first.ScheduleWorkout("w2.sat", "long run", 18); err != nil {
		return err
	}
	if err := repo.Save(ctx, first); err != nil {
		return fmt.Errorf("save first copy: %w", err)
	}

	if err := second.ScheduleWorkout("w2.sun", "recovery spin", 6); err != nil {
		return err
	}
	err = repo.Save(ctx, second)
	if !errors.Is(err, es.ErrConcurrencyConflict) {
		return fmt.Errorf("expected the stale save to conflict, got: %v", err)
	}
	log.Warn("stale save lost the race", slog.Any("error", err))

	if _, err := svc.Execute(ctx, planID, func(p *plan.Plan) error {
		return p.ScheduleWorkout("w2.sun", "recovery spin", 6)
	}); err != nil {
		return fmt.Errorf("reschedule after conflict: %w", err)
	}
	log.Info("conflicted change replayed through the service")

	return nil
}

func openEventLog(cfg config, log *slog.Logger) (es.EventLog, func(), error) {
	switch cfg.Store {
	case "memory":
		return es.NewInMemoryLog(), func() {}, nil
	case "sqlite":
		store, err := sqlite.NewEventLog(sqlite.Config{Path: cfg.SQLitePath, Log: log})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q (want memory or sqlite)", cfg.Store)
	}
}
