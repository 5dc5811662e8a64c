package config

import "fmt"

// Model holds the hyperparameters of one VAR transformer. Drafter and
// refiner differ only in Depth/Dim; everything shared with the codebook
// (VocabSize, CodeDim) must match between the pair.
type Model struct {
	Depth      int
	Dim        int
	Heads      int
	HeadDim    int
	HiddenDim  int
	VocabSize  int
	CodeDim    int
	NumClasses int
}

func (c *Model) Validate() error {
	if c.Depth <= 0 {
		return fmt.Errorf("invalid depth: %d (must be positive)", c.Depth)
	}
	if c.Dim <= 0 {
		return fmt.Errorf("invalid dim: %d (must be positive)", c.Dim)
	}
	if c.Heads <= 0 {
		return fmt.Errorf("invalid heads: %d (must be positive)", c.Heads)
	}
	if c.Dim%c.Heads != 0 {
		return fmt.Errorf("dim %d not divisible by heads %d", c.Dim, c.Heads)
	}
	if c.HeadDim > 0 && c.Dim != c.Heads*c.HeadDim {
		return fmt.Errorf("dim mismatch: %d != heads(%d) * head_dim(%d)", c.Dim, c.Heads, c.HeadDim)
	}
	if c.HiddenDim <= 0 {
		return fmt.Errorf("invalid hidden_dim: %d (must be positive)", c.HiddenDim)
	}
	if c.VocabSize <= 0 {
		return fmt.Errorf("invalid vocab_size: %d (must be positive)", c.VocabSize)
	}
	if c.CodeDim <= 0 {
		return fmt.Errorf("invalid code_dim: %d (must be positive)", c.CodeDim)
	}
	if c.NumClasses <= 0 {
		return fmt.Errorf("invalid num_classes: %d (must be positive)", c.NumClasses)
	}
	return nil
}

// Normalize fills derived fields.
func (c *Model) Normalize() {
	if c.HeadDim == 0 && c.Heads > 0 {
		c.HeadDim = c.Dim / c.Heads
	}
}

// Default returns the shared hyperparameters every preset starts from.
func Default() Model {
	return Model{
		VocabSize:  4096,
		CodeDim:    32,
		NumClasses: 1000,
	}
}

// ForDepth derives a model config from its transformer depth, following
// the VAR family convention of scaling width with depth.
func ForDepth(depth int) Model {
	c := Default()
	c.Depth = depth
	c.Dim = depth * 64
	c.Heads = depth
	c.HeadDim = 64
	c.HiddenDim = 4 * c.Dim
	return c
}
