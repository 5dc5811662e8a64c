package model

import (
	"math"
	"math/rand"
	"sort"
)

type tokenProb struct {
	id   int
	prob float64
}

// sampleLogits draws one token with temperature, top-k and top-p
// filtering. Temperature zero degrades to argmax.
func sampleLogits(rng *rand.Rand, logits []float32, temp float64, topK int, topP float64) int {
	if temp == 0 {
		return argMax(logits)
	}

	probs := temperatureSoftmax(logits, temp)

	candidates := make([]tokenProb, 0, len(probs))
	for i, p := range probs {
		if p > 1e-10 && !math.IsNaN(p) && !math.IsInf(p, 0) {
			candidates = append(candidates, tokenProb{id: i, prob: p})
		}
	}
	if len(candidates) == 0 {
		return argMax(logits)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].prob > candidates[j].prob
	})

	candidates = applyTopK(candidates, topK)
	candidates = applyTopP(candidates, topP)
	if len(candidates) == 0 {
		return argMax(logits)
	}

	sum := 0.0
	for _, c := range candidates {
		sum += c.prob
	}
	r := rng.Float64() * sum
	acc := 0.0
	for _, c := range candidates {
		acc += c.prob
		if r < acc {
			return c.id
		}
	}
	return candidates[0].id
}

func temperatureSoftmax(logits []float32, temperature float64) []float64 {
	probs := make([]float64, len(logits))
	for i, v := range logits {
		probs[i] = float64(v) / temperature
	}

	maxVal := probs[0]
	for _, v := range probs {
		if v > maxVal {
			maxVal = v
		}
	}

	sum := 0.0
	for i := range probs {
		probs[i] = math.Exp(probs[i] - maxVal)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

func argMax(logits []float32) int {
	maxIdx := 0
	maxVal := logits[0]
	for i, v := range logits {
		if v > maxVal {
			maxVal = v
			maxIdx = i
		}
	}
	return maxIdx
}

func applyTopK(candidates []tokenProb, k int) []tokenProb {
	if k <= 0 || k >= len(candidates) {
		return candidates
	}
	return candidates[:k]
}

func applyTopP(candidates []tokenProb, p float64) []tokenProb {
	if p >= 1.0 || p <= 0.0 {
		return candidates
	}

	sum := 0.0
	for i, c := range candidates {
		sum += c.prob
		if sum >= p {
			selected := candidates[:i+1]

			totalProb := 0.0
			for _, c := range selected {
				totalProb += c.prob
			}
			for i := range selected {
				selected[i].prob /= totalProb
			}
			return selected
		}
	}
	return candidates
}
