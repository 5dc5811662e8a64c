package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/23skdu/varcode/internal/checkpoint"
	"github.com/23skdu/varcode/internal/logger"
	"github.com/23skdu/varcode/internal/model"
	"github.com/23skdu/varcode/internal/schedule"
	"github.com/23skdu/varcode/internal/scheduler"
)

var (
	drafterDepth = flag.Int("drafter-depth", 16, "Synthetic drafter depth")
	refinerDepth = flag.Int("refiner-depth", 8, "Synthetic refiner depth")
	runs         = flag.Int("runs", 3, "Runs per draft-step setting")
	seed         = flag.Int64("seed", 42, "Base seed")
	cfgScale     = flag.Float64("cfg", 1.5, "Classifier-free guidance scale")
	logLevel     = flag.String("log-level", "warn", "Log level")
)

// Sweeps every drafter/refiner split over the full schedule and reports
// throughput per setting, so the latency/quality trade-off of the split
// point is visible on one screen.
func main() {
	flag.Parse()
	logger.Setup(*logLevel, "console")

	sched := schedule.Default()
	drafter, err := checkpoint.Synthetic(fmt.Sprintf("drafter-d%d", *drafterDepth), *drafterDepth, sched, 1)
	if err != nil {
		fmt.Fprintf(os.Stderr, "drafter: %v\n", err)
		os.Exit(1)
	}
	refiner, err := checkpoint.Synthetic(fmt.Sprintf("refiner-d%d", *refinerDepth), *refinerDepth, sched, 2)
	if err != nil {
		fmt.Fprintf(os.Stderr, "refiner: %v\n", err)
		os.Exit(1)
	}

	samp := model.SampleParams{Temperature: 1.0, TopK: 900, TopP: 0.96, CFG: *cfgScale}
	total := sched.TotalTokens()

	fmt.Printf("schedule: %v (%d tokens)\n", sched, total)
	fmt.Printf("drafter depth %d, refiner depth %d, %d runs per setting\n\n", *drafterDepth, *refinerDepth, *runs)
	fmt.Printf("%-12s %-14s %-12s\n", "draft_steps", "avg_duration", "tokens/sec")

	ctx := context.Background()
	for n := 0; n <= sched.Len(); n++ {
		s, err := scheduler.New(drafter, refiner, scheduler.Config{
			DraftSteps: n,
			Seed:       *seed,
			Sampling:   samp,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "draft steps %d: %v\n", n, err)
			os.Exit(1)
		}

		var elapsed time.Duration
		for r := 0; r < *runs; r++ {
			start := time.Now()
			if _, err := s.Run(ctx, model.Condition{Class: r % 10}); err != nil {
				fmt.Fprintf(os.Stderr, "draft steps %d run %d: %v\n", n, r, err)
				os.Exit(1)
			}
			elapsed += time.Since(start)
		}

		avg := elapsed / time.Duration(*runs)
		tps := float64(total) / avg.Seconds()
		fmt.Printf("%-12d %-14v %-12.1f\n", n, avg.Round(time.Millisecond), tps)
	}
}
