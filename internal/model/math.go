package model

import "math"

// linearInto computes dst = W*x for a row-major (out x in) weight matrix.
func linearInto(w []float32, in, out int, x, dst []float32) {
	for o := 0; o < out; o++ {
		row := w[o*in : (o+1)*in]
		var acc float32
		for i, v := range x {
			acc += row[i] * v
		}
		dst[o] = acc
	}
}

// rmsnormInto normalizes x by its root mean square and scales by gamma.
func rmsnormInto(x, gamma []float32, eps float32, dst []float32) {
	var sumSq float64
	for _, v := range x {
		sumSq += float64(v) * float64(v)
	}
	inv := float32(1.0 / math.Sqrt(sumSq/float64(len(x))+float64(eps)))
	for i, v := range x {
		dst[i] = v * inv * gamma[i]
	}
}

// softmaxInPlace applies a numerically stable softmax.
func softmaxInPlace(x []float32) {
	maxVal := x[0]
	for _, v := range x {
		if v > maxVal {
			maxVal = v
		}
	}
	var sum float32
	for i, v := range x {
		e := float32(math.Exp(float64(v - maxVal)))
		x[i] = e
		sum += e
	}
	inv := 1.0 / sum
	for i := range x {
		x[i] *= inv
	}
}

// geluInPlace applies the tanh-approximated GELU activation.
func geluInPlace(x []float32) {
	const c = 0.7978845608028654 // sqrt(2/pi)
	for i, v := range x {
		f := float64(v)
		x[i] = float32(0.5 * f * (1.0 + math.Tanh(c*(f+0.044715*f*f*f))))
	}
}

func addInPlace(dst, src []float32) {
	for i, v := range src {
		dst[i] += v
	}
}

func hasNaN(x []float32) bool {
	for _, v := range x {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return true
		}
	}
	return false
}
