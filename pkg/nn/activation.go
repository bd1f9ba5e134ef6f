package nn

import "math"

// Softmax writes the normalized exponentials of z into out (which may alias z).
// The max logit is subtracted first to keep math.Exp in range.
func Softmax(z, out []float64) {
	m := math.Inf(-1)
	for _, v := range z {
		if v > m {
			m = v
		}
	}
	sum := 0.0
	for i, v := range z {
		out[i] = math.Exp(v - m)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
}
