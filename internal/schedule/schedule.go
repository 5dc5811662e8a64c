// Package schedule defines the fixed sequence of token-map resolutions
// a generation run walks from coarse to fine.
package schedule

import "fmt"

// Schedule is an immutable, strictly increasing sequence of token-map
// side lengths. Drafter and refiner must be bound to the same schedule
// or the handoff at the switch point is invalid.
type Schedule struct {
	sides  []int
	prefix []int // cumulative token counts before each scale
}

// New builds a schedule from side lengths. The sequence must be
// non-empty and strictly increasing.
func New(sides ...int) (Schedule, error) {
	if len(sides) == 0 {
		return Schedule{}, fmt.Errorf("empty scale schedule")
	}
	prev := 0
	prefix := make([]int, len(sides)+1)
	for i, s := range sides {
		if s <= prev {
			return Schedule{}, fmt.Errorf("scale schedule not strictly increasing at index %d: %d after %d", i, s, prev)
		}
		prev = s
		prefix[i+1] = prefix[i] + s*s
	}
	out := Schedule{sides: make([]int, len(sides)), prefix: prefix}
	copy(out.sides, sides)
	return out, nil
}

// MustNew is New for compile-time-known schedules; panics on misconfiguration.
func MustNew(sides ...int) Schedule {
	s, err := New(sides...)
	if err != nil {
		panic(err)
	}
	return s
}

// Default returns the VAR-d16 ten-scale schedule (680 tokens total).
func Default() Schedule {
	return MustNew(1, 2, 3, 4, 5, 6, 8, 10, 13, 16)
}

// Len returns the number of scales.
func (s Schedule) Len() int { return len(s.sides) }

// Side returns the token-map side length at scale i.
func (s Schedule) Side(i int) int { return s.sides[i] }

// Tokens returns the number of tokens in the map at scale i.
func (s Schedule) Tokens(i int) int { return s.sides[i] * s.sides[i] }

// PrefixTokens returns the total token count of all scales before i.
// PrefixTokens(Len()) is the full sequence length.
func (s Schedule) PrefixTokens(i int) int { return s.prefix[i] }

// TotalTokens returns the flattened sequence length over all scales.
func (s Schedule) TotalTokens() int { return s.prefix[len(s.sides)] }

// FinalSide returns the side length of the last (finest) scale.
func (s Schedule) FinalSide() int { return s.sides[len(s.sides)-1] }

// Equal reports whether two schedules are identical.
func (s Schedule) Equal(o Schedule) bool {
	if len(s.sides) != len(o.sides) {
		return false
	}
	for i := range s.sides {
		if s.sides[i] != o.sides[i] {
			return false
		}
	}
	return true
}

// Sides returns a copy of the side lengths.
func (s Schedule) Sides() []int {
	out := make([]int, len(s.sides))
	copy(out, s.sides)
	return out
}

func (s Schedule) String() string {
	return fmt.Sprintf("schedule%v", s.sides)
}
