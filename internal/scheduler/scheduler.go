// Package scheduler drives collaborative multi-scale decoding: a large
// drafter model produces the leading coarse scales, a small refiner
// takes over for the remaining fine scales after rebuilding its own
// cache from the drafter's token output. The collaboration is strictly
// two-phase; control never returns to the drafter within a run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/23skdu/varcode/internal/logger"
	"github.com/23skdu/varcode/internal/metrics"
	"github.com/23skdu/varcode/internal/model"
	"github.com/23skdu/varcode/internal/pyramid"
	"github.com/23skdu/varcode/internal/schedule"
)

// Config controls one family of generation runs.
type Config struct {
	// DraftSteps is the number of leading scales owned by the drafter.
	// 0 degenerates to refiner-only, Len(schedule) to drafter-only.
	DraftSteps int

	// Seed makes sampling deterministic per run.
	Seed int64

	// Sampling is passed through to adapter calls unchanged.
	Sampling model.SampleParams

	// ReleaseDrafter frees the drafter's run state right after the
	// handoff; the memory saving is the point of running a small
	// refiner for the expensive fine scales.
	ReleaseDrafter bool
}

// Validate refuses the config against a schedule before any adapter is
// touched.
func (c Config) Validate(sched schedule.Schedule) error {
	if sched.Len() == 0 {
		return &ConfigError{Reason: "empty scale schedule"}
	}
	if c.DraftSteps < 0 {
		return &ConfigError{Reason: fmt.Sprintf("draft steps %d is negative", c.DraftSteps)}
	}
	if c.DraftSteps > sched.Len() {
		return &ConfigError{Reason: fmt.Sprintf("draft steps %d exceeds schedule length %d", c.DraftSteps, sched.Len())}
	}
	return nil
}

// Scheduler owns the scale loop and the drafter-to-refiner switch.
type Scheduler struct {
	drafter model.Adapter
	refiner model.Adapter
	cfg     Config
}

// New binds a drafter/refiner pair under one config. Both adapters must
// be trained against the identical scale schedule.
func New(drafter, refiner model.Adapter, cfg Config) (*Scheduler, error) {
	if drafter == nil || refiner == nil {
		return nil, &ConfigError{Reason: "both drafter and refiner adapters are required"}
	}
	if !drafter.Schedule().Equal(refiner.Schedule()) {
		return nil, &ConfigError{Reason: fmt.Sprintf("schedule mismatch: drafter %v, refiner %v",
			drafter.Schedule(), refiner.Schedule())}
	}
	if err := cfg.Validate(drafter.Schedule()); err != nil {
		return nil, err
	}
	return &Scheduler{drafter: drafter, refiner: refiner, cfg: cfg}, nil
}

// Run executes one end-to-end generation and returns the completed
// token pyramid. Any failure at any scale discards the whole run; later
// scales are causally dependent on all earlier ones, so a partial
// pyramid is never salvageable.
func (s *Scheduler) Run(ctx context.Context, cond model.Condition) (*pyramid.Pyramid, error) {
	start := time.Now()
	sched := s.drafter.Schedule()
	n := s.cfg.DraftSteps
	metrics.DraftSteps.Set(float64(n))

	if err := s.cfg.Validate(sched); err != nil {
		metrics.RecordRun(time.Since(start), "config")
		return nil, err
	}

	p := pyramid.New(sched)
	logger.Log.Info("run started",
		"class", cond.Class, "draft_steps", n, "scales", sched.Len(), "seed", s.cfg.Seed)

	// Phase 1: drafter owns scales [0, n).
	if n > 0 {
		st, err := s.drafter.Initialize(ctx, cond, s.cfg.Seed)
		if err != nil {
			return nil, s.abort(start, &ModelExecutionError{Owner: s.drafter.Name(), Scale: 0, Err: err})
		}
		if err := s.runPhase(ctx, s.drafter, st, p, 0, n); err != nil {
			return nil, s.abort(start, err)
		}

		if n == sched.Len() {
			// Drafter-only degenerate mode: classic single-model
			// inference, refiner never invoked.
			metrics.RecordRun(time.Since(start), "")
			logger.Log.Info("run completed", "scales", p.Len(), "duration", time.Since(start))
			return p, nil
		}

		// Switch point. The refiner never consumes the drafter's cache;
		// it re-derives its own from the token prefix.
		rst, err := s.refiner.Initialize(ctx, cond, s.cfg.Seed)
		if err != nil {
			return nil, s.abort(start, &ModelExecutionError{Owner: s.refiner.Name(), Scale: n, Err: err})
		}
		tRebuild := time.Now()
		if err := s.refiner.RebuildCache(ctx, rst, p.Prefix(n)); err != nil {
			return nil, s.abort(start, &RebuildError{PrefixScales: n, Err: err})
		}
		metrics.RecordRebuild(sched.PrefixTokens(n), time.Since(tRebuild))
		logger.Log.Debug("cache rebuilt",
			"model", s.refiner.Name(), "prefix_scales", n,
			"prefix_tokens", sched.PrefixTokens(n), "duration", time.Since(tRebuild))

		if s.cfg.ReleaseDrafter {
			st.Release()
		}

		if err := s.runPhase(ctx, s.refiner, rst, p, n, sched.Len()); err != nil {
			return nil, s.abort(start, err)
		}
	} else {
		// Refiner-only degenerate mode: no prefix, no rebuild.
		rst, err := s.refiner.Initialize(ctx, cond, s.cfg.Seed)
		if err != nil {
			return nil, s.abort(start, &ModelExecutionError{Owner: s.refiner.Name(), Scale: 0, Err: err})
		}
		if err := s.runPhase(ctx, s.refiner, rst, p, 0, sched.Len()); err != nil {
			return nil, s.abort(start, err)
		}
	}

	metrics.RecordRun(time.Since(start), "")
	logger.Log.Info("run completed", "scales", p.Len(), "duration", time.Since(start))
	return p, nil
}

// runPhase generates scales [from, to) with one owner. Cancellation is
// observed between scales only; a scale's computation is atomic from
// the scheduler's viewpoint.
func (s *Scheduler) runPhase(ctx context.Context, owner model.Adapter, st *model.RunState, p *pyramid.Pyramid, from, to int) error {
	sched := owner.Schedule()
	for i := from; i < to; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tScale := time.Now()
		m, err := owner.GenerateScale(ctx, st, i, p, s.cfg.Sampling)
		if err != nil {
			return &ModelExecutionError{Owner: owner.Name(), Scale: i, Err: err}
		}
		if err := p.Append(m); err != nil {
			return &ModelExecutionError{Owner: owner.Name(), Scale: i, Err: err}
		}
		metrics.RecordScale(owner.Name(), sched.Tokens(i), time.Since(tScale))
		logger.Log.Debug("scale generated",
			"model", owner.Name(), "scale", i, "side", sched.Side(i), "duration", time.Since(tScale))
	}
	return nil
}

func (s *Scheduler) abort(start time.Time, err error) error {
	metrics.RecordRun(time.Since(start), abortReason(err))
	logger.Log.Error("run aborted", "err", err)
	return err
}

func abortReason(err error) string {
	var seqErr *model.SequenceError
	var rebuildErr *RebuildError
	switch {
	case errors.As(err, &seqErr):
		return "sequence"
	case errors.As(err, &rebuildErr):
		return "cache_rebuild"
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "model_execution"
	}
}
