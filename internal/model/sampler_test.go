package model

import (
	"math/rand"
	"testing"
)

func TestSampleGreedy(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	logits := []float32{0.1, 3.0, -2.0, 1.5}
	if got := sampleLogits(rng, logits, 0, 0, 0); got != 1 {
		t.Errorf("greedy sample = %d, want 1", got)
	}
}

func TestSampleTopKOne(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	logits := []float32{0.5, 4.0, 0.2}
	for i := 0; i < 10; i++ {
		if got := sampleLogits(rng, logits, 1.0, 1, 0); got != 1 {
			t.Fatalf("top-k=1 must always pick the argmax, got %d", got)
		}
	}
}

func TestSampleDeterministic(t *testing.T) {
	logits := []float32{1, 2, 3, 4, 2, 1, 0, 3}
	a := rand.New(rand.NewSource(99))
	b := rand.New(rand.NewSource(99))
	for i := 0; i < 20; i++ {
		x := sampleLogits(a, logits, 0.8, 4, 0.9)
		y := sampleLogits(b, logits, 0.8, 4, 0.9)
		if x != y {
			t.Fatalf("draw %d diverged: %d vs %d", i, x, y)
		}
	}
}

func TestSampleInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	logits := make([]float32, 64)
	for i := range logits {
		logits[i] = float32(i%7) * 0.3
	}
	for i := 0; i < 100; i++ {
		got := sampleLogits(rng, logits, 1.2, 0, 0.95)
		if got < 0 || got >= len(logits) {
			t.Fatalf("sample %d out of range", got)
		}
	}
}

func TestApplyTopP(t *testing.T) {
	candidates := []tokenProb{
		{id: 0, prob: 0.6},
		{id: 1, prob: 0.3},
		{id: 2, prob: 0.1},
	}
	got := applyTopP(candidates, 0.7)
	if len(got) != 2 {
		t.Fatalf("top-p 0.7 kept %d candidates, want 2", len(got))
	}
	// Renormalized mass sums to one.
	sum := got[0].prob + got[1].prob
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("renormalized mass %f, want 1.0", sum)
	}
}
