// Package model implements the autoregressive VAR transformer behind a
// uniform adapter interface. Two instances (drafter, refiner) share the
// interface and differ only in depth and bound weights. Weights are
// immutable and safely shared across runs; all mutable autoregressive
// state lives in a per-run RunState.
package model

import (
	"context"
	"fmt"

	"github.com/23skdu/varcode/internal/pyramid"
	"github.com/23skdu/varcode/internal/schedule"
)

// Condition is the class label conditioning one generation run.
type Condition struct {
	Class int
}

// SampleParams is the sampling policy passed through unchanged by the
// scheduler. Per-scale slices, when set, override the scalar values for
// the matching scale index.
type SampleParams struct {
	Temperature float64
	TopK        int
	TopP        float64
	CFG         float64

	TempByScale []float64
	TopKByScale []int
}

// TempAt resolves the temperature for one scale.
func (p SampleParams) TempAt(i int) float64 {
	if i < len(p.TempByScale) {
		return p.TempByScale[i]
	}
	return p.Temperature
}

// TopKAt resolves top-k for one scale.
func (p SampleParams) TopKAt(i int) int {
	if i < len(p.TopKByScale) {
		return p.TopKByScale[i]
	}
	return p.TopK
}

// SequenceError reports a scale index that is not the immediate
// successor of the cache's last processed scale. It indicates a
// scheduler bug, never a recoverable runtime condition.
type SequenceError struct {
	Model string
	Want  int
	Got   int
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("%s: scale index %d out of sequence (cache expects %d)", e.Model, e.Got, e.Want)
}

// Adapter is the uniform contract over one VAR transformer.
//
// GenerateScale samples the token map for scaleIdx given the pyramid of
// all earlier scales, appending this scale's key/value state to the run's
// cache. It must be called with scale indices in strict succession.
//
// RebuildCache discards the run's cache and re-encodes the prefix through
// this model's own weights without sampling. It is the one mechanism that
// makes a drafter-to-refiner handoff safe: caches are never shared across
// differently-parameterized models, only token output is.
type Adapter interface {
	Name() string
	Depth() int
	Schedule() schedule.Schedule

	Initialize(ctx context.Context, cond Condition, seed int64) (*RunState, error)
	GenerateScale(ctx context.Context, st *RunState, scaleIdx int, prefix *pyramid.Pyramid, samp SampleParams) (*pyramid.Map, error)
	RebuildCache(ctx context.Context, st *RunState, prefix *pyramid.Pyramid) error
}
