package model

import (
	"fmt"
	"math/rand"

	"github.com/23skdu/varcode/internal/config"
	"github.com/23skdu/varcode/internal/schedule"
)

// BlockWeights holds one transformer block's parameters, row-major flat.
type BlockWeights struct {
	AttnNorm []float32 // Dim
	Wq       []float32 // Dim x Dim
	Wk       []float32 // Dim x Dim
	Wv       []float32 // Dim x Dim
	Wo       []float32 // Dim x Dim
	FFNNorm  []float32 // Dim
	W1       []float32 // HiddenDim x Dim
	W2       []float32 // Dim x HiddenDim
}

// Weights is the full immutable parameter set of one VAR transformer,
// bound to the scale schedule its position embeddings were sized for.
type Weights struct {
	Cfg   config.Model
	Sched schedule.Schedule

	ClassEmb []float32 // (NumClasses+1) x Dim; last row is the unconditional class
	PosStart []float32 // Dim, scale-0 start position
	PosEmb   []float32 // TotalTokens x Dim, absolute positions
	LevelEmb []float32 // numScales x Dim, distinguishes pyramid levels
	Codebook []float32 // VocabSize x CodeDim, shared quantizer embedding
	WordEmb  []float32 // Dim x CodeDim, projects code vectors into the model

	Blocks    []BlockWeights
	FinalNorm []float32 // Dim
	Head      []float32 // VocabSize x Dim
}

// Validate checks that every tensor matches the config and schedule.
func (w *Weights) Validate() error {
	c := w.Cfg
	if err := c.Validate(); err != nil {
		return err
	}
	L := w.Sched.TotalTokens()
	checks := []struct {
		name string
		got  int
		want int
	}{
		{"class_emb", len(w.ClassEmb), (c.NumClasses + 1) * c.Dim},
		{"pos_start", len(w.PosStart), c.Dim},
		{"pos_emb", len(w.PosEmb), L * c.Dim},
		{"level_emb", len(w.LevelEmb), w.Sched.Len() * c.Dim},
		{"codebook", len(w.Codebook), c.VocabSize * c.CodeDim},
		{"word_emb", len(w.WordEmb), c.Dim * c.CodeDim},
		{"final_norm", len(w.FinalNorm), c.Dim},
		{"head", len(w.Head), c.VocabSize * c.Dim},
	}
	for _, ch := range checks {
		if ch.got != ch.want {
			return fmt.Errorf("tensor %s has %d elements, want %d", ch.name, ch.got, ch.want)
		}
	}
	if len(w.Blocks) != c.Depth {
		return fmt.Errorf("have %d blocks, want depth %d", len(w.Blocks), c.Depth)
	}
	for i, b := range w.Blocks {
		if len(b.Wq) != c.Dim*c.Dim || len(b.Wk) != c.Dim*c.Dim ||
			len(b.Wv) != c.Dim*c.Dim || len(b.Wo) != c.Dim*c.Dim {
			return fmt.Errorf("block %d attention weights mis-sized", i)
		}
		if len(b.W1) != c.HiddenDim*c.Dim || len(b.W2) != c.Dim*c.HiddenDim {
			return fmt.Errorf("block %d ffn weights mis-sized", i)
		}
		if len(b.AttnNorm) != c.Dim || len(b.FFNNorm) != c.Dim {
			return fmt.Errorf("block %d norm weights mis-sized", i)
		}
	}
	return nil
}

// NewWeights builds a deterministically initialized parameter set from a
// seed. Used for synthetic adapters in tests and benchmarks; real runs
// load weights from a checkpoint.
func NewWeights(cfg config.Model, sched schedule.Schedule, seed int64) (*Weights, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))
	std := 0.02

	fill := func(n int) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = float32(rng.NormFloat64() * std)
		}
		return out
	}
	ones := func(n int) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = 1
		}
		return out
	}

	L := sched.TotalTokens()
	w := &Weights{
		Cfg:       cfg,
		Sched:     sched,
		ClassEmb:  fill((cfg.NumClasses + 1) * cfg.Dim),
		PosStart:  fill(cfg.Dim),
		PosEmb:    fill(L * cfg.Dim),
		LevelEmb:  fill(sched.Len() * cfg.Dim),
		Codebook:  fill(cfg.VocabSize * cfg.CodeDim),
		WordEmb:   fill(cfg.Dim * cfg.CodeDim),
		FinalNorm: ones(cfg.Dim),
		Head:      fill(cfg.VocabSize * cfg.Dim),
	}
	w.Blocks = make([]BlockWeights, cfg.Depth)
	for i := range w.Blocks {
		w.Blocks[i] = BlockWeights{
			AttnNorm: ones(cfg.Dim),
			Wq:       fill(cfg.Dim * cfg.Dim),
			Wk:       fill(cfg.Dim * cfg.Dim),
			Wv:       fill(cfg.Dim * cfg.Dim),
			Wo:       fill(cfg.Dim * cfg.Dim),
			FFNNorm:  ones(cfg.Dim),
			W1:       fill(cfg.HiddenDim * cfg.Dim),
			W2:       fill(cfg.Dim * cfg.HiddenDim),
		}
	}
	return w, nil
}
