// Package main stress-drives the planner: a pool of writers races
// scheduling commands against a shared set of plans and the run reports
// sustained throughput and memory use.
//
// Every command replays its plan from the log before appending, so the
// cost per write grows with plan length. Expect the writes/s column to
// decline over a long run, that slope is the price of snapshot-free
// replay.
//
// Run with: go run ./cmd/loadtest
//
//	BACKEND      memory|sqlite (default: memory)
//	SQLITE_PATH  scratch database file (default: loadtest.db)
//	PLANS        number of plans to spread writes over (default: 4)
//	WRITERS      concurrent writer goroutines (default: 16)
//	N            total writes (default: 5000)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"

	promadapter "github.com/stridelabs/planlog/adapters/prometheus"
	"github.com/stridelabs/planlog/adapters/sqlite"
	"github.com/stridelabs/planlog/core/es"
	"github.com/stridelabs/planlog/plan"
	"github.com/stridelabs/planlog/planner"
)

type config struct {
	Backend    string     `env:"BACKEND" envDefault:"memory"`
	SQLitePath string     `env:"SQLITE_PATH" envDefault:"loadtest.db"`
	Plans      int        `env:"PLANS" envDefault:"4"`
	Writers    int        `env:"WRITERS" envDefault:"16"`
	N          int        `env:"N" envDefault:"5000"`
	LogLevel   slog.Level `env:"LOG_LEVEL" envDefault:"warn"`
}

func main() {
	var cfg config
	checkErr(env.Parse(&cfg))

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	fmt.Printf("backend: %s\n", cfg.Backend)
	fmt.Printf("  plans: %d\n", cfg.Plans)
	fmt.Printf("writers: %d\n", cfg.Writers)
	fmt.Printf(" writes: %d\n", cfg.N)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	var eventLog es.EventLog
	switch cfg.Backend {
	case "sqlite":
		// each run starts from an empty log so numbers stay comparable
		_ = os.Remove(cfg.SQLitePath)
		store, err := sqlite.NewEventLog(sqlite.Config{Path: cfg.SQLitePath, Log: log})
		checkErr(err)
		defer store.Close()
		eventLog = store
	default:
		eventLog = es.NewInMemoryLog()
	}

	reg := prometheus.NewRegistry()
	svc := planner.NewService(
		log,
		eventLog,
		planner.WithMetrics(promadapter.NewESMetrics(reg)),
		planner.WithAttempts(5),
	)

	planIDs := make([]string, cfg.Plans)
	for i := range planIDs {
		planIDs[i] = fmt.Sprintf("plan-%d", i+1)
		_, err := svc.Execute(ctx, planIDs[i], func(p *plan.Plan) error {
			return p.Create("athlete-load", 52)
		})
		checkErr(err)
	}

	// === START ===

	startAt := time.Now()

	var (
		issued    atomic.Int64
		completed atomic.Int64
		wg        sync.WaitGroup
	)
	for w := 0; w < cfg.Writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := issued.Add(1)
				if i > int64(cfg.N) {
					return
				}
				planID := planIDs[int(i)%len(planIDs)]
				day := fmt.Sprintf("d%d", i)
				_, err := svc.Execute(ctx, planID, func(p *plan.Plan) error {
					return p.ScheduleWorkout(day, "tempo", 10)
				})
				checkErr(err)
				completed.Add(1)
			}
		}()
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	// progress, sampled once a second
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	lastDone, lastAt := int64(0), startAt
	for running := true; running; {
		select {
		case <-doneCh:
			running = false
		case now := <-tick.C:
			d := completed.Load()
			mu := getMemUsage()
			fmt.Printf(
				"| %6d writes | %6d writes/s | (%d / %d) MiB mem (sys) |\n",
				d, int(float64(d-lastDone)/now.Sub(lastAt).Seconds()), mu.Alloc/1024/1024, mu.Sys/1024/1024,
			)
			lastDone, lastAt = d, now
		}
	}

	// === stats ===

	took := time.Since(startAt)
	runtime.GC()

	println("")
	println("==========================================")
	fmt.Printf("total runtime: %.3f seconds\n", took.Seconds())
	fmt.Printf("avg. writes/s: %d\n", int(float64(cfg.N)/took.Seconds()))
	fmt.Printf("    conflicts: %d\n", int(gatherTotal(reg, "planlog_es_concurrency_conflicts_total")))

	for _, id := range planIDs {
		v, err := svc.View(ctx, id)
		checkErr(err)
		fmt.Printf("%s: version %d, %d workouts\n", id, v.Version, v.Scheduled)
	}
}

// gatherTotal sums a counter family across all its label combinations.
func gatherTotal(reg *prometheus.Registry, name string) float64 {
	mfs, err := reg.Gather()
	if err != nil {
		return 0
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

// === stats helpers ===

type MemUsage struct {
	Alloc uint64 // bytes allocated and not yet freed (heap)
	Sys   uint64 // total bytes obtained from OS
	NumGC uint32 // gc cycles
}

func getMemUsage() MemUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemUsage{
		Alloc: m.Alloc,
		Sys:   m.Sys,
		NumGC: m.NumGC,
	}
}

// === Helpers ===

func checkErr(err error) {
	if err != nil {
		panic(err)
	}
}
