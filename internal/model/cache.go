package model

import "math/rand"

// layerKV is one block's accumulated key/value state, flat seq x kvDim.
type layerKV struct {
	k []float32
	v []float32
}

// branchCache is the autoregressive cache of one guidance branch
// (conditional or unconditional).
type branchCache struct {
	layers []layerKV
	seq    int
}

func newBranchCache(depth int) *branchCache {
	return &branchCache{layers: make([]layerKV, depth)}
}

func (b *branchCache) reset() {
	for i := range b.layers {
		b.layers[i].k = b.layers[i].k[:0]
		b.layers[i].v = b.layers[i].v[:0]
	}
	b.seq = 0
}

// RunState is the mutable per-run state of one adapter: the model's
// autoregressive cache plus sampling RNG. One RunState belongs to
// exactly one run and must never be shared across concurrent runs.
// The two branches hold the conditional and unconditional cache used
// for classifier-free guidance.
type RunState struct {
	cond     Condition
	rng      *rand.Rand
	next     int
	branches [2]*branchCache
	released bool
}

func newRunState(depth int, cond Condition, seed int64) *RunState {
	return &RunState{
		cond:     cond,
		rng:      rand.New(rand.NewSource(seed)),
		branches: [2]*branchCache{newBranchCache(depth), newBranchCache(depth)},
	}
}

// NextScale returns the scale index the cache expects next.
func (st *RunState) NextScale() int { return st.next }

// Condition returns the run's class condition.
func (st *RunState) Condition() Condition { return st.cond }

// CachedTokens returns the number of token positions held in the cache.
func (st *RunState) CachedTokens() int {
	if st.branches[0] == nil {
		return 0
	}
	return st.branches[0].seq
}

// Release drops the cache buffers. Used to free the drafter's state
// after the handoff; the state must not be used afterwards.
func (st *RunState) Release() {
	for i := range st.branches {
		st.branches[i] = nil
	}
	st.released = true
}

func (st *RunState) resetCache() {
	for _, b := range st.branches {
		if b != nil {
			b.reset()
		}
	}
	st.next = 0
}
