package model

import (
	"context"
	"fmt"
	"math"

	"github.com/23skdu/varcode/internal/config"
	"github.com/23skdu/varcode/internal/logger"
	"github.com/23skdu/varcode/internal/pyramid"
	"github.com/23skdu/varcode/internal/schedule"
)

const normEps = 1e-6

// Branch indices for classifier-free guidance.
const (
	branchCond = iota
	branchUncond
)

// VAR is one multi-scale autoregressive transformer bound to an
// immutable weight set. It is safe for concurrent runs; every mutable
// piece of a run lives in its RunState.
type VAR struct {
	name string
	cfg  config.Model
	sch  schedule.Schedule
	w    *Weights
}

// New binds a named adapter to a weight set.
func New(name string, w *Weights) (*VAR, error) {
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("weights for %s: %w", name, err)
	}
	return &VAR{name: name, cfg: w.Cfg, sch: w.Sched, w: w}, nil
}

func (m *VAR) Name() string                { return m.name }
func (m *VAR) Depth() int                  { return m.cfg.Depth }
func (m *VAR) Schedule() schedule.Schedule { return m.sch }

// Weights exposes the parameter set, for decoders that render with the
// model's own quantizer codebook. Callers must not mutate it.
func (m *VAR) Weights() *Weights { return m.w }

// Initialize starts a fresh run: empty caches, RNG seeded for
// deterministic sampling.
func (m *VAR) Initialize(ctx context.Context, cond Condition, seed int64) (*RunState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cond.Class < 0 || cond.Class >= m.cfg.NumClasses {
		return nil, fmt.Errorf("%s: class %d out of range [0, %d)", m.name, cond.Class, m.cfg.NumClasses)
	}
	logger.Log.Debug("adapter initialized", "model", m.name, "depth", m.cfg.Depth, "class", cond.Class)
	return newRunState(m.cfg.Depth, cond, seed), nil
}

// GenerateScale samples the token map for scaleIdx conditioned on all
// earlier scales, growing the run's cache by this scale's positions.
func (m *VAR) GenerateScale(ctx context.Context, st *RunState, scaleIdx int, prefix *pyramid.Pyramid, samp SampleParams) (*pyramid.Map, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if st == nil || st.released {
		return nil, fmt.Errorf("%s: run state released", m.name)
	}
	if scaleIdx != st.next {
		return nil, &SequenceError{Model: m.name, Want: st.next, Got: scaleIdx}
	}
	if scaleIdx >= m.sch.Len() {
		return nil, fmt.Errorf("%s: scale index %d beyond schedule length %d", m.name, scaleIdx, m.sch.Len())
	}
	if !prefix.Schedule().Equal(m.sch) {
		return nil, fmt.Errorf("%s: pyramid schedule %v does not match model schedule %v", m.name, prefix.Schedule(), m.sch)
	}
	if prefix.Len() < scaleIdx {
		return nil, fmt.Errorf("%s: pyramid holds %d scales, need %d for scale %d", m.name, prefix.Len(), scaleIdx, scaleIdx)
	}

	var condHidden, uncondHidden [][]float32
	for b := range st.branches {
		xs := m.inputEmbeddings(st.cond, b, scaleIdx, prefix)
		m.forwardScale(st.branches[b], xs)
		if b == branchCond {
			condHidden = xs
		} else {
			uncondHidden = xs
		}
	}

	// Guidance ramps linearly with scale depth, matching the coarse-to-
	// fine generation order.
	var t float64
	if m.sch.Len() > 1 {
		t = samp.CFG * float64(scaleIdx) / float64(m.sch.Len()-1)
	}

	side := m.sch.Side(scaleIdx)
	out := pyramid.NewMap(side)
	logits := make([]float32, m.cfg.VocabSize)
	for i := range out.Tokens {
		m.logitsInto(condHidden[i], logits)
		if t != 0 {
			uncond := make([]float32, m.cfg.VocabSize)
			m.logitsInto(uncondHidden[i], uncond)
			for j := range logits {
				logits[j] = float32((1+t)*float64(logits[j]) - t*float64(uncond[j]))
			}
		}
		if hasNaN(logits) {
			return nil, fmt.Errorf("%s: non-finite logits at scale %d position %d", m.name, scaleIdx, i)
		}
		out.Tokens[i] = int32(sampleLogits(st.rng, logits, samp.TempAt(scaleIdx), samp.TopKAt(scaleIdx), samp.TopP))
	}

	st.next++
	return out, nil
}

// RebuildCache discards the run's cache and re-encodes the prefix
// through this model's own parameters, without sampling. Idempotent:
// rebuilding twice from the same prefix leaves identical cache state.
func (m *VAR) RebuildCache(ctx context.Context, st *RunState, prefix *pyramid.Pyramid) error {
	if st == nil || st.released {
		return fmt.Errorf("%s: run state released", m.name)
	}
	if !prefix.Schedule().Equal(m.sch) {
		return fmt.Errorf("%s: prefix schedule %v does not match model schedule %v", m.name, prefix.Schedule(), m.sch)
	}
	if prefix.Len() > m.sch.Len() {
		return fmt.Errorf("%s: prefix of %d scales exceeds schedule length %d", m.name, prefix.Len(), m.sch.Len())
	}

	st.resetCache()
	for i := 0; i < prefix.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if want := m.sch.Side(i); prefix.Map(i).Side != want {
			return fmt.Errorf("%s: prefix scale %d side %d, schedule expects %d", m.name, i, prefix.Map(i).Side, want)
		}
		for b := range st.branches {
			xs := m.inputEmbeddings(st.cond, b, i, prefix)
			m.forwardScale(st.branches[b], xs)
		}
		st.next = i + 1
	}
	return nil
}

// inputEmbeddings builds the input token embeddings for one scale. The
// first scale starts from the class embedding; every later scale embeds
// the previous scale's token map upsampled to the new resolution, plus
// absolute position and level embeddings. Only the first scale differs
// between guidance branches.
func (m *VAR) inputEmbeddings(cond Condition, branch, scaleIdx int, prefix *pyramid.Pyramid) [][]float32 {
	dim := m.cfg.Dim

	if scaleIdx == 0 {
		classIdx := cond.Class
		if branch == branchUncond {
			classIdx = m.cfg.NumClasses
		}
		x := make([]float32, dim)
		copy(x, m.w.ClassEmb[classIdx*dim:(classIdx+1)*dim])
		addInPlace(x, m.w.PosStart)
		addInPlace(x, m.w.PosEmb[:dim])
		addInPlace(x, m.w.LevelEmb[:dim])
		return [][]float32{x}
	}

	prev := prefix.Map(scaleIdx - 1)
	side := m.sch.Side(scaleIdx)
	base := m.sch.PrefixTokens(scaleIdx)
	lvl := m.w.LevelEmb[scaleIdx*dim : (scaleIdx+1)*dim]

	xs := make([][]float32, side*side)
	code := make([]float32, m.cfg.CodeDim)
	for r := 0; r < side; r++ {
		for c := 0; c < side; c++ {
			i := r*side + c
			tok := int(prev.At(r*prev.Side/side, c*prev.Side/side))
			copy(code, m.w.Codebook[tok*m.cfg.CodeDim:(tok+1)*m.cfg.CodeDim])

			x := make([]float32, dim)
			linearInto(m.w.WordEmb, m.cfg.CodeDim, dim, code, x)
			addInPlace(x, m.w.PosEmb[(base+i)*dim:(base+i+1)*dim])
			addInPlace(x, lvl)
			xs[i] = x
		}
	}
	return xs
}

// forwardScale runs the transformer over one scale's tokens for one
// guidance branch, appending this scale's key/value state to the cache.
// All tokens of a scale attend to each other and to every cached
// position (block-causal attention).
func (m *VAR) forwardScale(br *branchCache, xs [][]float32) {
	dim := m.cfg.Dim
	hd := m.cfg.HeadDim
	heads := m.cfg.Heads
	n := len(xs)
	scale := float32(1.0 / math.Sqrt(float64(hd)))

	normed := make([]float32, dim)
	qs := make([]float32, n*dim)
	kv := make([]float32, dim)
	ctxVec := make([]float32, dim)
	proj := make([]float32, dim)
	hidden := make([]float32, m.cfg.HiddenDim)

	for l := range m.w.Blocks {
		blk := &m.w.Blocks[l]
		lkv := &br.layers[l]

		// Project q/k/v for every token; keys and values go straight
		// into the cache so intra-scale attention sees the whole scale.
		for t := 0; t < n; t++ {
			rmsnormInto(xs[t], blk.AttnNorm, normEps, normed)
			linearInto(blk.Wq, dim, dim, normed, qs[t*dim:(t+1)*dim])
			linearInto(blk.Wk, dim, dim, normed, kv)
			lkv.k = append(lkv.k, kv...)
			linearInto(blk.Wv, dim, dim, normed, kv)
			lkv.v = append(lkv.v, kv...)
		}

		seqLen := br.seq + n
		scores := make([]float32, seqLen)
		for t := 0; t < n; t++ {
			q := qs[t*dim : (t+1)*dim]
			for h := 0; h < heads; h++ {
				qh := q[h*hd : (h+1)*hd]
				for s := 0; s < seqLen; s++ {
					kh := lkv.k[s*dim+h*hd : s*dim+(h+1)*hd]
					var dot float32
					for d := 0; d < hd; d++ {
						dot += qh[d] * kh[d]
					}
					scores[s] = dot * scale
				}
				softmaxInPlace(scores)
				out := ctxVec[h*hd : (h+1)*hd]
				for d := 0; d < hd; d++ {
					out[d] = 0
				}
				for s := 0; s < seqLen; s++ {
					w := scores[s]
					vh := lkv.v[s*dim+h*hd : s*dim+(h+1)*hd]
					for d := 0; d < hd; d++ {
						out[d] += w * vh[d]
					}
				}
			}
			linearInto(blk.Wo, dim, dim, ctxVec, proj)
			addInPlace(xs[t], proj)

			rmsnormInto(xs[t], blk.FFNNorm, normEps, normed)
			linearInto(blk.W1, dim, m.cfg.HiddenDim, normed, hidden)
			geluInPlace(hidden)
			linearInto(blk.W2, m.cfg.HiddenDim, dim, hidden, proj)
			addInPlace(xs[t], proj)
		}
	}
	br.seq += n
}

// logitsInto projects one final hidden state onto the codebook.
func (m *VAR) logitsInto(x []float32, dst []float32) {
	normed := make([]float32, m.cfg.Dim)
	rmsnormInto(x, m.w.FinalNorm, normEps, normed)
	linearInto(m.w.Head, m.cfg.Dim, m.cfg.VocabSize, normed, dst)
}
