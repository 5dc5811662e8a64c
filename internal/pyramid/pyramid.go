// Package pyramid holds the growing multi-scale token structure of one
// generation run: one discrete token map per completed scale.
package pyramid

import (
	"fmt"

	"github.com/23skdu/varcode/internal/schedule"
)

// Map is one scale's token map: a Side x Side grid of codebook indices
// stored row-major.
type Map struct {
	Side   int
	Tokens []int32
}

// NewMap allocates an empty token map for the given side length.
func NewMap(side int) *Map {
	return &Map{Side: side, Tokens: make([]int32, side*side)}
}

// At returns the token index at row r, column c.
func (m *Map) At(r, c int) int32 { return m.Tokens[r*m.Side+c] }

// Set stores a token index at row r, column c.
func (m *Map) Set(r, c int, v int32) { m.Tokens[r*m.Side+c] = v }

// Clone returns a deep copy of the map.
func (m *Map) Clone() *Map {
	out := NewMap(m.Side)
	copy(out.Tokens, m.Tokens)
	return out
}

// Pyramid is the ordered collection of per-scale token maps produced
// during one run. Maps are appended strictly in schedule order; later
// maps are causally dependent on all earlier ones. A Pyramid must not
// be mutated concurrently within a run.
type Pyramid struct {
	sched schedule.Schedule
	maps  []*Map
}

// New creates an empty pyramid bound to a schedule.
func New(sched schedule.Schedule) *Pyramid {
	return &Pyramid{sched: sched, maps: make([]*Map, 0, sched.Len())}
}

// Schedule returns the schedule this pyramid is bound to.
func (p *Pyramid) Schedule() schedule.Schedule { return p.sched }

// Len returns the number of scales appended so far.
func (p *Pyramid) Len() int { return len(p.maps) }

// Complete reports whether every scale in the schedule has been produced.
func (p *Pyramid) Complete() bool { return len(p.maps) == p.sched.Len() }

// Map returns the token map at scale i.
func (p *Pyramid) Map(i int) *Map { return p.maps[i] }

// Append adds the next scale's map, enforcing index continuity and the
// shape required by the schedule.
func (p *Pyramid) Append(m *Map) error {
	idx := len(p.maps)
	if idx >= p.sched.Len() {
		return fmt.Errorf("pyramid already complete (%d scales)", p.sched.Len())
	}
	if want := p.sched.Side(idx); m.Side != want {
		return fmt.Errorf("scale %d map side %d does not match schedule side %d", idx, m.Side, want)
	}
	if len(m.Tokens) != m.Side*m.Side {
		return fmt.Errorf("scale %d map has %d tokens, want %d", idx, len(m.Tokens), m.Side*m.Side)
	}
	p.maps = append(p.maps, m)
	return nil
}

// Prefix returns a read-only view over the first n scales, for cache
// rebuilding. The underlying maps are shared, not copied.
func (p *Pyramid) Prefix(n int) *Pyramid {
	if n > len(p.maps) {
		n = len(p.maps)
	}
	return &Pyramid{sched: p.sched, maps: p.maps[:n:n]}
}

// FlatTokens returns all appended tokens concatenated in scale order.
func (p *Pyramid) FlatTokens() []int32 {
	out := make([]int32, 0, p.sched.PrefixTokens(len(p.maps)))
	for _, m := range p.maps {
		out = append(out, m.Tokens...)
	}
	return out
}
