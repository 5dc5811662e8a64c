package model

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/23skdu/varcode/internal/config"
	"github.com/23skdu/varcode/internal/pyramid"
	"github.com/23skdu/varcode/internal/schedule"
)

func testModel(t *testing.T, name string, depth int, seed int64) *VAR {
	t.Helper()
	cfg := config.Model{
		Depth:      depth,
		Dim:        16,
		Heads:      2,
		HiddenDim:  32,
		VocabSize:  64,
		CodeDim:    4,
		NumClasses: 10,
	}
	cfg.Normalize()
	sched := schedule.MustNew(1, 2, 3)
	w, err := NewWeights(cfg, sched, seed)
	if err != nil {
		t.Fatalf("NewWeights: %v", err)
	}
	m, err := New(name, w)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func generateAll(t *testing.T, m *VAR, seed int64, samp SampleParams) *pyramid.Pyramid {
	t.Helper()
	ctx := context.Background()
	st, err := m.Initialize(ctx, Condition{Class: 3}, seed)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	p := pyramid.New(m.Schedule())
	for i := 0; i < m.Schedule().Len(); i++ {
		mp, err := m.GenerateScale(ctx, st, i, p, samp)
		if err != nil {
			t.Fatalf("GenerateScale(%d): %v", i, err)
		}
		if err := p.Append(mp); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	return p
}

func TestGenerateShapes(t *testing.T) {
	m := testModel(t, "drafter", 2, 1)
	p := generateAll(t, m, 42, SampleParams{Temperature: 1.0, TopK: 16, TopP: 0.95, CFG: 1.5})

	if !p.Complete() {
		t.Fatal("pyramid should be complete")
	}
	for i, want := range []int{1, 2, 3} {
		if got := p.Map(i).Side; got != want {
			t.Errorf("scale %d side = %d, want %d", i, got, want)
		}
		for _, tok := range p.Map(i).Tokens {
			if tok < 0 || tok >= 64 {
				t.Errorf("scale %d token %d out of vocab range", i, tok)
			}
		}
	}
}

func TestGenerateDeterministic(t *testing.T) {
	samp := SampleParams{Temperature: 0.9, TopK: 8, TopP: 0.9, CFG: 2.0}
	m := testModel(t, "drafter", 2, 7)

	a := generateAll(t, m, 123, samp)
	b := generateAll(t, m, 123, samp)
	if !reflect.DeepEqual(a.FlatTokens(), b.FlatTokens()) {
		t.Error("identical seeds must produce identical pyramids")
	}

	c := generateAll(t, m, 124, samp)
	if reflect.DeepEqual(a.FlatTokens(), c.FlatTokens()) {
		t.Error("different seeds should diverge (got identical pyramids)")
	}
}

func TestSequenceViolation(t *testing.T) {
	ctx := context.Background()
	m := testModel(t, "drafter", 2, 1)
	st, err := m.Initialize(ctx, Condition{Class: 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	p := pyramid.New(m.Schedule())

	for _, idx := range []int{1, 2, -1} {
		_, err := m.GenerateScale(ctx, st, idx, p, SampleParams{})
		var seqErr *SequenceError
		if !errors.As(err, &seqErr) {
			t.Errorf("scale %d: expected SequenceError, got %v", idx, err)
		}
	}

	// The correct index still works after failed attempts.
	mp, err := m.GenerateScale(ctx, st, 0, p, SampleParams{})
	if err != nil {
		t.Fatalf("GenerateScale(0) after violations: %v", err)
	}
	if err := p.Append(mp); err != nil {
		t.Fatal(err)
	}

	// Repeating the same index is also a violation.
	_, err = m.GenerateScale(ctx, st, 0, p, SampleParams{})
	var seqErr *SequenceError
	if !errors.As(err, &seqErr) {
		t.Errorf("repeated index: expected SequenceError, got %v", err)
	}
}

func TestRebuildMatchesOwnEncoding(t *testing.T) {
	// Greedy decoding removes RNG state from the picture so a rebuilt
	// cache and an organically grown cache must continue identically.
	ctx := context.Background()
	samp := SampleParams{Temperature: 0, CFG: 1.0}
	m := testModel(t, "drafter", 2, 5)

	grown, err := m.Initialize(ctx, Condition{Class: 3}, 9)
	if err != nil {
		t.Fatal(err)
	}
	p := pyramid.New(m.Schedule())
	for i := 0; i < 2; i++ {
		mp, err := m.GenerateScale(ctx, grown, i, p, samp)
		if err != nil {
			t.Fatal(err)
		}
		if err := p.Append(mp); err != nil {
			t.Fatal(err)
		}
	}

	rebuilt, err := m.Initialize(ctx, Condition{Class: 3}, 9)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.RebuildCache(ctx, rebuilt, p.Prefix(2)); err != nil {
		t.Fatalf("RebuildCache: %v", err)
	}
	if rebuilt.NextScale() != 2 {
		t.Fatalf("rebuilt NextScale = %d, want 2", rebuilt.NextScale())
	}

	a, err := m.GenerateScale(ctx, grown, 2, p, samp)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.GenerateScale(ctx, rebuilt, 2, p, samp)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a.Tokens, b.Tokens) {
		t.Error("rebuilt cache must produce the same next scale as a grown cache")
	}
}

func TestRebuildIdempotent(t *testing.T) {
	ctx := context.Background()
	samp := SampleParams{Temperature: 0, CFG: 1.5}
	m := testModel(t, "refiner", 2, 5)
	drafter := testModel(t, "drafter", 3, 6)

	// Drafter produces the prefix; refiner rebuilds from it.
	dst, err := drafter.Initialize(ctx, Condition{Class: 2}, 11)
	if err != nil {
		t.Fatal(err)
	}
	p := pyramid.New(drafter.Schedule())
	for i := 0; i < 2; i++ {
		mp, err := drafter.GenerateScale(ctx, dst, i, p, samp)
		if err != nil {
			t.Fatal(err)
		}
		if err := p.Append(mp); err != nil {
			t.Fatal(err)
		}
	}

	once, err := m.Initialize(ctx, Condition{Class: 2}, 11)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.RebuildCache(ctx, once, p.Prefix(2)); err != nil {
		t.Fatal(err)
	}

	twice, err := m.Initialize(ctx, Condition{Class: 2}, 11)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.RebuildCache(ctx, twice, p.Prefix(2)); err != nil {
		t.Fatal(err)
	}
	if err := m.RebuildCache(ctx, twice, p.Prefix(2)); err != nil {
		t.Fatal(err)
	}

	a, err := m.GenerateScale(ctx, once, 2, p, samp)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.GenerateScale(ctx, twice, 2, p, samp)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a.Tokens, b.Tokens) {
		t.Error("double rebuild must not change subsequent outputs")
	}
}

func TestInitializeRejectsBadClass(t *testing.T) {
	ctx := context.Background()
	m := testModel(t, "drafter", 2, 1)
	if _, err := m.Initialize(ctx, Condition{Class: -1}, 1); err == nil {
		t.Error("expected error for negative class")
	}
	if _, err := m.Initialize(ctx, Condition{Class: 10}, 1); err == nil {
		t.Error("expected error for class >= NumClasses")
	}
}

func TestReleasedStateRefused(t *testing.T) {
	ctx := context.Background()
	m := testModel(t, "drafter", 2, 1)
	st, err := m.Initialize(ctx, Condition{Class: 1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	st.Release()
	p := pyramid.New(m.Schedule())
	if _, err := m.GenerateScale(ctx, st, 0, p, SampleParams{}); err == nil {
		t.Error("expected error on released state")
	}
	if err := m.RebuildCache(ctx, st, p); err == nil {
		t.Error("expected rebuild error on released state")
	}
}

func TestRebuildRejectsForeignSchedule(t *testing.T) {
	ctx := context.Background()
	m := testModel(t, "refiner", 2, 1)
	st, err := m.Initialize(ctx, Condition{Class: 1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	foreign := pyramid.New(schedule.MustNew(1, 2, 4))
	if err := m.RebuildCache(ctx, st, foreign); err == nil {
		t.Error("expected error for mismatched schedule")
	}
}

func TestWeightsValidate(t *testing.T) {
	cfg := config.ForDepth(2)
	cfg.Dim = 32
	cfg.Heads = 2
	cfg.HeadDim = 16
	cfg.HiddenDim = 64
	sched := schedule.MustNew(1, 2)
	w, err := NewWeights(cfg, sched, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Validate(); err != nil {
		t.Errorf("fresh weights should validate: %v", err)
	}

	w.Head = w.Head[:10]
	if err := w.Validate(); err == nil {
		t.Error("expected validation failure for truncated head")
	}
}
