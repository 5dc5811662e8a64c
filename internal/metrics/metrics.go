package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var totalTokens atomic.Int64

var (
	ScaleTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_scale_tokens_total",
		Help: "The total number of tokens generated, by owning model",
	}, []string{"owner"})

	ScalesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_scales_total",
		Help: "The total number of scales generated, by owning model",
	}, []string{"owner"})

	ScaleDuration = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name: "generation_scale_duration_seconds",
		Help: "Duration of per-scale generation steps",
	}, []string{"owner"})

	RebuildDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "cache_rebuild_duration_seconds",
		Help: "Duration of refiner cache rebuilds at the switch point",
	})

	RebuildPrefixTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_rebuild_prefix_tokens",
		Help:    "Number of prefix tokens re-encoded per cache rebuild",
		Buckets: []float64{1, 5, 14, 30, 55, 91, 155, 255, 424, 680},
	})

	RunsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "generation_runs_completed_total",
		Help: "Total number of generation runs finished with a full pyramid",
	})

	RunsAborted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_runs_aborted_total",
		Help: "Total number of generation runs aborted, by failure kind",
	}, []string{"reason"})

	RunDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "generation_run_duration_seconds",
		Help: "End-to-end duration of one generation run",
	})

	DraftSteps = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "generation_draft_steps",
		Help: "Configured number of leading scales owned by the drafter",
	})

	ImagesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decoder_images_total",
		Help: "Total number of token pyramids decoded to pixels",
	})

	ArchiveRowsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archive_rows_written_total",
		Help: "Total number of record batch rows written to the eval archive",
	})
)

// RecordScale tracks one completed scale for the given owner.
func RecordScale(owner string, tokens int, duration time.Duration) {
	totalTokens.Add(int64(tokens))
	ScaleTokensTotal.WithLabelValues(owner).Add(float64(tokens))
	ScalesTotal.WithLabelValues(owner).Inc()
	ScaleDuration.WithLabelValues(owner).Observe(duration.Seconds())
}

// RecordRebuild tracks one cache rebuild over a prefix of the given length.
func RecordRebuild(prefixTokens int, duration time.Duration) {
	RebuildDuration.Observe(duration.Seconds())
	RebuildPrefixTokens.Observe(float64(prefixTokens))
}

// RecordRun tracks the outcome of one generation run.
func RecordRun(duration time.Duration, reason string) {
	RunDuration.Observe(duration.Seconds())
	if reason == "" {
		RunsCompleted.Inc()
	} else {
		RunsAborted.WithLabelValues(reason).Inc()
	}
}

// TotalTokens returns the process-wide token count across all runs.
func TotalTokens() int64 {
	return totalTokens.Load()
}
