package nn

import "math"

// CrossEntropy returns the mean negative log-likelihood of the true classes
// under the per-row probability vectors, and the gradient with respect to
// the logits that produced them (softmax output minus one-hot target).
func CrossEntropy(yTrue []int, proba [][]float64) (float64, [][]float64) {
	n := len(yTrue)
	loss := 0.0
	grad := make([][]float64, n)
	for i := range n {
		p := proba[i]
		loss -= math.Log(math.Max(p[yTrue[i]], 1e-12))
		g := make([]float64, len(p))
		for k, pk := range p {
			g[k] = pk / float64(n)
		}
		g[yTrue[i]] -= 1 / float64(n)
		grad[i] = g
	}
	return loss / float64(n), grad
}
