package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"image/png"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/23skdu/varcode/internal/archive"
	"github.com/23skdu/varcode/internal/checkpoint"
	"github.com/23skdu/varcode/internal/decoder"
	"github.com/23skdu/varcode/internal/logger"
	"github.com/23skdu/varcode/internal/model"
	"github.com/23skdu/varcode/internal/monitoring"
	"github.com/23skdu/varcode/internal/schedule"
	"github.com/23skdu/varcode/internal/scheduler"
)

var (
	drafterSpec  = flag.String("drafter", "", "Drafter checkpoint path, or synthetic:<depth>")
	refinerSpec  = flag.String("refiner", "", "Refiner checkpoint path, or synthetic:<depth>")
	draftSteps   = flag.Int("draft-steps", 6, "Number of leading scales generated by the drafter")
	class        = flag.Int("class", 0, "Class label to condition on")
	numRuns      = flag.Int("n", 1, "Number of images to generate")
	seed         = flag.Int64("seed", 42, "Base seed; run i uses seed+i")
	cfgScale     = flag.Float64("cfg", 1.5, "Classifier-free guidance scale")
	temp         = flag.Float64("temp", 1.0, "Sampling temperature (0 = greedy)")
	topK         = flag.Int("top-k", 900, "Top-k cutoff (0 = disabled)")
	topP         = flag.Float64("top-p", 0.96, "Nucleus sampling mass (0 = disabled)")
	trainingFree = flag.Bool("training-free", false, "Refiner checkpoint was not fine-tuned for the split (informational)")
	releaseDr    = flag.Bool("release-drafter", false, "Free drafter run state after the handoff")
	workers      = flag.Int("workers", 1, "Concurrent generation workers")
	outDir       = flag.String("out", "", "Directory for PNG output (empty = no images written)")
	archiveFile  = flag.String("archive", "", "Arrow IPC archive path (empty = no archive)")
	flightAddr   = flag.String("flight", "", "Arrow Flight endpoint for run upload (empty = disabled)")
	metricsAddr  = flag.String("metrics", ":9090", "Health and metrics listen address")
	logLevel     = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat    = flag.String("log-format", "console", "Log format: console or json")
)

func main() {
	flag.Parse()
	logger.Setup(*logLevel, *logFormat)

	if *drafterSpec == "" || *refinerSpec == "" {
		fmt.Println("Error: -drafter and -refiner are required")
		flag.Usage()
		os.Exit(1)
	}

	drafter, err := resolveAdapter(*drafterSpec, "drafter")
	if err != nil {
		logger.Log.Error("drafter load failed", "err", err)
		os.Exit(1)
	}
	refinerName := "refiner"
	if *trainingFree {
		refinerName = "refiner-tf"
	}
	refiner, err := resolveAdapter(*refinerSpec, refinerName)
	if err != nil {
		logger.Log.Error("refiner load failed", "err", err)
		os.Exit(1)
	}

	mon := monitoring.NewMonitor()
	mon.SetModels(drafter.Name(), refiner.Name(), *draftSteps)
	go func() {
		if err := mon.Start(*metricsAddr); err != nil {
			logger.Log.Warn("monitoring server stopped", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Log.Info("interrupt received, shutting down")
		cancel()
	}()

	samp := model.SampleParams{
		Temperature: *temp,
		TopK:        *topK,
		TopP:        *topP,
		CFG:         *cfgScale,
	}

	// The model that produces the final scale owns the codebook used
	// for rendering.
	renderModel := refiner
	if *draftSteps == drafter.Schedule().Len() {
		renderModel = drafter
	}
	dec, err := decoder.FromWeights(renderModel.Weights())
	if err != nil {
		logger.Log.Error("decoder setup failed", "err", err)
		os.Exit(1)
	}

	if *outDir != "" {
		if err := os.MkdirAll(*outDir, 0o755); err != nil {
			logger.Log.Error("output directory", "err", err)
			os.Exit(1)
		}
	}

	records, failed := generate(ctx, mon, drafter, refiner, dec, samp)

	if *archiveFile != "" && len(records) > 0 {
		if err := writeArchive(*archiveFile, records); err != nil {
			logger.Log.Error("archive write failed", "err", err)
			os.Exit(1)
		}
	}
	if *flightAddr != "" && len(records) > 0 {
		if err := uploadRuns(ctx, *flightAddr, records); err != nil {
			logger.Log.Error("flight upload failed", "err", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	mon.Stop(shutdownCtx)

	if failed > 0 {
		logger.Log.Error("generation finished with failures", "completed", len(records), "failed", failed)
		os.Exit(1)
	}
	logger.Log.Info("generation finished", "completed", len(records))
}

// resolveAdapter loads a checkpoint path, or builds a deterministic
// synthetic model when spec is synthetic:<depth>.
func resolveAdapter(spec, name string) (*model.VAR, error) {
	if rest, ok := strings.CutPrefix(spec, "synthetic:"); ok {
		depth, err := strconv.Atoi(rest)
		if err != nil {
			return nil, fmt.Errorf("bad synthetic depth %q: %w", rest, err)
		}
		return checkpoint.Synthetic(fmt.Sprintf("%s-d%d", name, depth), depth, schedule.Default(), int64(depth))
	}
	return checkpoint.LoadAdapter(spec, name)
}

type runResult struct {
	rec archive.Record
	err error
}

// generate fans the requested runs over a worker pool. Each run owns
// its state end to end; only the shared weights are reused.
func generate(ctx context.Context, mon *monitoring.Monitor, drafter, refiner *model.VAR, dec decoder.Decoder, samp model.SampleParams) ([]archive.Record, int) {
	jobs := make(chan int)
	results := make(chan runResult)

	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results <- runOne(ctx, mon, drafter, refiner, dec, samp, i)
			}
		}()
	}
	go func() {
		defer close(jobs)
		for i := 0; i < *numRuns; i++ {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	var records []archive.Record
	failed := 0
	for res := range results {
		if res.err != nil {
			failed++
			continue
		}
		records = append(records, res.rec)
	}
	return records, failed
}

func runOne(ctx context.Context, mon *monitoring.Monitor, drafter, refiner *model.VAR, dec decoder.Decoder, samp model.SampleParams, i int) runResult {
	runSeed := *seed + int64(i)
	sched, err := scheduler.New(drafter, refiner, scheduler.Config{
		DraftSteps:     *draftSteps,
		Seed:           runSeed,
		Sampling:       samp,
		ReleaseDrafter: *releaseDr,
	})
	if err != nil {
		return runResult{err: err}
	}

	mon.RunStarted()
	start := time.Now()
	p, err := sched.Run(ctx, model.Condition{Class: *class})
	if err != nil {
		mon.RunFinished(false)
		logger.Log.Error("run failed", "run", i, "err", err)
		return runResult{err: err}
	}

	img, err := dec.Decode(p)
	if err != nil {
		mon.RunFinished(false)
		return runResult{err: err}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		mon.RunFinished(false)
		return runResult{err: err}
	}
	mon.RunFinished(true)

	if *outDir != "" {
		path := filepath.Join(*outDir, fmt.Sprintf("class%03d_seed%d.png", *class, runSeed))
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return runResult{err: err}
		}
	}

	return runResult{rec: archive.Record{
		RunID:      fmt.Sprintf("run-%d", i),
		Class:      *class,
		Seed:       runSeed,
		DraftSteps: *draftSteps,
		Drafter:    drafter.Name(),
		Refiner:    refiner.Name(),
		DurationMs: time.Since(start).Milliseconds(),
		Tokens:     p.FlatTokens(),
		ImagePNG:   buf.Bytes(),
	}}
}

func writeArchive(path string, records []archive.Record) error {
	w, err := archive.NewWriter(path)
	if err != nil {
		return err
	}
	for _, r := range records {
		w.Append(r)
	}
	return w.Close()
}

func uploadRuns(ctx context.Context, addr string, records []archive.Record) error {
	up, err := archive.NewFlightUploader(addr)
	if err != nil {
		return err
	}
	defer up.Close()
	return up.Upload(ctx, records)
}
