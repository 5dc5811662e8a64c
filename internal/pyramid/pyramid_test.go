package pyramid

import (
	"testing"

	"github.com/23skdu/varcode/internal/schedule"
)

func TestAppendContinuity(t *testing.T) {
	sched := schedule.MustNew(1, 2, 3)
	p := New(sched)

	if err := p.Append(NewMap(1)); err != nil {
		t.Fatalf("append scale 0: %v", err)
	}

	// Wrong shape for scale 1
	if err := p.Append(NewMap(3)); err == nil {
		t.Fatal("expected shape mismatch error for out-of-order side")
	}

	if err := p.Append(NewMap(2)); err != nil {
		t.Fatalf("append scale 1: %v", err)
	}
	if err := p.Append(NewMap(3)); err != nil {
		t.Fatalf("append scale 2: %v", err)
	}
	if !p.Complete() {
		t.Error("pyramid should be complete after all scales")
	}

	// Appending past the schedule end must fail.
	if err := p.Append(NewMap(4)); err == nil {
		t.Error("expected error appending past schedule end")
	}
}

func TestFlatTokens(t *testing.T) {
	sched := schedule.MustNew(1, 2)
	p := New(sched)

	m0 := NewMap(1)
	m0.Tokens[0] = 7
	m1 := NewMap(2)
	copy(m1.Tokens, []int32{1, 2, 3, 4})

	if err := p.Append(m0); err != nil {
		t.Fatal(err)
	}
	if err := p.Append(m1); err != nil {
		t.Fatal(err)
	}

	flat := p.FlatTokens()
	want := []int32{7, 1, 2, 3, 4}
	if len(flat) != len(want) {
		t.Fatalf("flat length %d, want %d", len(flat), len(want))
	}
	for i := range want {
		if flat[i] != want[i] {
			t.Errorf("flat[%d] = %d, want %d", i, flat[i], want[i])
		}
	}
}

func TestPrefixIsView(t *testing.T) {
	sched := schedule.MustNew(1, 2, 3)
	p := New(sched)
	if err := p.Append(NewMap(1)); err != nil {
		t.Fatal(err)
	}
	if err := p.Append(NewMap(2)); err != nil {
		t.Fatal(err)
	}

	pre := p.Prefix(1)
	if pre.Len() != 1 {
		t.Fatalf("prefix length %d, want 1", pre.Len())
	}
	// Appending to the view must not clobber the parent's scale 1.
	if err := pre.Append(NewMap(2)); err != nil {
		t.Fatal(err)
	}
	if p.Map(1) == pre.Map(1) {
		t.Error("prefix append must not alias the parent's maps")
	}

	// Over-long prefix clamps.
	if got := p.Prefix(10).Len(); got != 2 {
		t.Errorf("clamped prefix length %d, want 2", got)
	}
}

func TestMapAccessors(t *testing.T) {
	m := NewMap(3)
	m.Set(1, 2, 42)
	if got := m.At(1, 2); got != 42 {
		t.Errorf("At(1,2) = %d, want 42", got)
	}

	c := m.Clone()
	c.Set(0, 0, 9)
	if m.At(0, 0) == 9 {
		t.Error("Clone must not share token storage")
	}
}
