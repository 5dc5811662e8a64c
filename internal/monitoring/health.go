// Package monitoring exposes liveness and status endpoints alongside
// the Prometheus scrape handler.
package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/varcode/internal/logger"
)

// Status is the payload served at /status.
type Status struct {
	Status    string     `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
	Uptime    string     `json:"uptime"`
	System    SystemInfo `json:"system"`
	Runs      RunInfo    `json:"runs"`
}

// SystemInfo reports process-level facts.
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	MemoryUsedMB int    `json:"memory_used_mb"`
}

// RunInfo reports generation progress.
type RunInfo struct {
	Drafter    string `json:"drafter"`
	Refiner    string `json:"refiner"`
	DraftSteps int    `json:"draft_steps"`
	Completed  int64  `json:"completed"`
	Failed     int64  `json:"failed"`
	InFlight   int64  `json:"in_flight"`
}

// Monitor serves /healthz, /status and /metrics and tracks run counts.
type Monitor struct {
	startTime time.Time
	server    *http.Server

	mu         sync.RWMutex
	drafter    string
	refiner    string
	draftSteps int

	completed atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int64
}

func NewMonitor() *Monitor {
	return &Monitor{startTime: time.Now()}
}

// SetModels records the active model pair for status reporting.
func (m *Monitor) SetModels(drafter, refiner string, draftSteps int) {
	m.mu.Lock()
	m.drafter = drafter
	m.refiner = refiner
	m.draftSteps = draftSteps
	m.mu.Unlock()
}

// RunStarted marks a run in flight.
func (m *Monitor) RunStarted() { m.inFlight.Add(1) }

// RunFinished marks a run done; failed runs count separately.
func (m *Monitor) RunFinished(ok bool) {
	m.inFlight.Add(-1)
	if ok {
		m.completed.Add(1)
	} else {
		m.failed.Add(1)
	}
}

// Start serves the monitoring endpoints until Stop or listen failure.
func (m *Monitor) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", m.handleHealth)
	mux.HandleFunc("/status", m.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	m.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Log.Info("monitoring listening", "addr", addr)
	return m.server.ListenAndServe()
}

// Stop shuts the endpoint down gracefully.
func (m *Monitor) Stop(ctx context.Context) error {
	if m.server != nil {
		return m.server.Shutdown(ctx)
	}
	return nil
}

func (m *Monitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (m *Monitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m.mu.RLock()
	runs := RunInfo{
		Drafter:    m.drafter,
		Refiner:    m.refiner,
		DraftSteps: m.draftSteps,
		Completed:  m.completed.Load(),
		Failed:     m.failed.Load(),
		InFlight:   m.inFlight.Load(),
	}
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Status{
		Status:    "ok",
		Timestamp: time.Now(),
		Uptime:    time.Since(m.startTime).Round(time.Second).String(),
		System: SystemInfo{
			GoVersion:    runtime.Version(),
			OS:           runtime.GOOS,
			Arch:         runtime.GOARCH,
			NumCPU:       runtime.NumCPU(),
			MemoryUsedMB: int(mem.Alloc / 1024 / 1024),
		},
		Runs: runs,
	})
}
