package model

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// ---------------------------
// Types & options
// ---------------------------

// DecisionTree is a CART-style classifier.
type DecisionTree struct {
	// Hyperparameters / options
	MaxDepth            int     // maximum depth (root depth = 0). 0 => no limit
	MinSamplesSplit     int     // minimum samples to attempt a split
	MinSamplesLeaf      int     // minimum samples required in each leaf
	Criterion           string  // "gini" (default) or "entropy"
	MaxFeatures         int     // 0 => use all features, >0 => number of features to sample per split
	MinImpurityDecrease float64 // minimal impurity decrease to accept a split
	RandomState         int64   // seed for feature subsampling

	// fitted state, exported for gob
	Root    *Node
	Classes []int // class labels seen in training; Proba is aligned with it
}

// Node is one tree node. Internal nodes send x[Feature] <= Threshold left.
type Node struct {
	Leaf      bool
	Feature   int
	Threshold float64
	NaNLeft   bool // branch taken by missing (NaN) values
	Left      *Node
	Right     *Node

	N     int
	Proba []float64
}

// Option functional config
type Option func(*DecisionTree)

func WithMaxDepth(d int) Option { return func(t *DecisionTree) { t.MaxDepth = d } }
func WithMinSamplesSplit(n int) Option {
	return func(t *DecisionTree) { t.MinSamplesSplit = n }
}
func WithMinSamplesLeaf(n int) Option {
	return func(t *DecisionTree) { t.MinSamplesLeaf = n }
}
func WithCriterion(c string) Option { return func(t *DecisionTree) { t.Criterion = c } }
func WithMaxFeatures(k int) Option  { return func(t *DecisionTree) { t.MaxFeatures = k } }
func WithMinImpurityDecrease(v float64) Option {
	return func(t *DecisionTree) { t.MinImpurityDecrease = v }
}
func WithRandomState(seed int64) Option {
	return func(t *DecisionTree) { t.RandomState = seed }
}

// NewDecisionTree returns a classifier with sklearn-like defaults.
func NewDecisionTree(opts ...Option) *DecisionTree {
	d := &DecisionTree{
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Criterion:       "gini",
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func init() {
	Register(Family{
		Name: "tree",
		Params: []string{"max_depth", "min_samples_split", "min_samples_leaf", "criterion",
			"max_features", "min_impurity_decrease", "random_state"},
		New: func(p Params) (Classifier, error) {
			opts, err := treeOptions(p)
			if err != nil {
				return nil, err
			}
			return NewDecisionTree(opts...), nil
		},
		Missing: true,
	}, &DecisionTree{})
}

// treeOptions maps hyperparameters shared by the tree and the forest.
func treeOptions(p Params) ([]Option, error) {
	depth, err := p.Int("max_depth", 0)
	if err != nil {
		return nil, err
	}
	split, err := p.Int("min_samples_split", 2)
	if err != nil {
		return nil, err
	}
	leaf, err := p.Int("min_samples_leaf", 1)
	if err != nil {
		return nil, err
	}
	crit, err := p.Choice("criterion", "gini", "gini", "entropy")
	if err != nil {
		return nil, err
	}
	feats, err := p.Int("max_features", 0)
	if err != nil {
		return nil, err
	}
	dec, err := p.Float("min_impurity_decrease", 0)
	if err != nil {
		return nil, err
	}
	seed, err := p.Int("random_state", 0)
	if err != nil {
		return nil, err
	}
	if depth < 0 || split < 2 || leaf < 1 || feats < 0 {
		return nil, fmt.Errorf("tree: invalid params %s", p.Format())
	}
	return []Option{
		WithMaxDepth(depth), WithMinSamplesSplit(split), WithMinSamplesLeaf(leaf),
		WithCriterion(crit), WithMaxFeatures(feats), WithMinImpurityDecrease(dec),
		WithRandomState(int64(seed)),
	}, nil
}

// ---------------------------
// Public API: Fit / Predict / PredictProba
// ---------------------------

// Fit trains the tree on X (n x p) and class indices y.
// Missing values must be math.NaN().
func (t *DecisionTree) Fit(X [][]float64, y []int) error {
	if err := checkXY(X, y); err != nil {
		return fmt.Errorf("dtree: %w", err)
	}
	t.Classes = sortedClasses(y)
	pos := make(map[int]int, len(t.Classes))
	for i, c := range t.Classes {
		pos[c] = i
	}
	yi := make([]int, len(y))
	for i, lab := range y {
		yi[i] = pos[lab]
	}

	idx := make([]int, len(X))
	for i := range idx {
		idx[i] = i
	}
	b := &treeBuilder{
		t:   t,
		X:   X,
		y:   yi,
		k:   len(t.Classes),
		p:   len(X[0]),
		rnd: rand.New(rand.NewSource(t.RandomState)),
	}
	if t.Criterion == "entropy" {
		b.impurity = entropyFromCounts
	} else {
		b.impurity = giniFromCounts
	}
	t.Root = b.build(idx, 0)
	return nil
}

// Predict returns the most probable class label per row.
func (t *DecisionTree) Predict(X [][]float64) []int {
	out := make([]int, len(X))
	for i := range X {
		out[i] = t.Classes[argmaxFloat(t.predictProbaSingle(X[i]))]
	}
	return out
}

// PredictProba returns per-class probabilities aligned with t.Classes.
func (t *DecisionTree) PredictProba(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i := range X {
		out[i] = t.predictProbaSingle(X[i])
	}
	return out
}

// Depth returns the depth of the fitted tree (a lone leaf has depth 0).
func (t *DecisionTree) Depth() int { return nodeDepth(t.Root) }

func nodeDepth(n *Node) int {
	if n == nil || n.Leaf {
		return 0
	}
	return 1 + max(nodeDepth(n.Left), nodeDepth(n.Right))
}

// ---------------------------
// Internal builders & helpers
// ---------------------------

type treeBuilder struct {
	t        *DecisionTree
	X        [][]float64
	y        []int // positions into t.Classes
	k, p     int
	rnd      *rand.Rand
	impurity func([]int) float64
}

// splitResult is the best split found for a single feature.
type splitResult struct {
	gain      float64
	feature   int
	threshold float64
	nanLeft   bool
	leftIdx   []int
	rightIdx  []int
}

// pair is a feature value and its row index.
type pair struct {
	v float64
	i int
}

func (b *treeBuilder) leaf(node *Node, counts []int) *Node {
	node.Leaf = true
	node.Proba = countsToProbas(counts)
	return node
}

func (b *treeBuilder) build(idx []int, depth int) *Node {
	t := b.t
	node := &Node{N: len(idx)}
	counts := b.counts(idx)

	if isPure(counts) || len(idx) < t.MinSamplesSplit {
		return b.leaf(node, counts)
	}
	if t.MaxDepth > 0 && depth >= t.MaxDepth {
		return b.leaf(node, counts)
	}

	// determine features to try
	feats := make([]int, b.p)
	for j := range feats {
		feats[j] = j
	}
	var rest []int
	if t.MaxFeatures > 0 && t.MaxFeatures < b.p {
		b.rnd.Shuffle(len(feats), func(i, j int) { feats[i], feats[j] = feats[j], feats[i] })
		feats, rest = feats[:t.MaxFeatures], feats[t.MaxFeatures:]
		sort.Ints(feats)
		sort.Ints(rest)
	}

	parentImpurity := b.impurity(counts)
	best := b.bestSplit(idx, feats, parentImpurity)
	if best.feature == -1 && len(rest) > 0 {
		// none of the sampled features separates the node; widen the search
		best = b.bestSplit(idx, rest, parentImpurity)
	}
	if best.feature == -1 || best.gain <= t.MinImpurityDecrease {
		return b.leaf(node, counts)
	}

	node.Feature = best.feature
	node.Threshold = best.threshold
	node.NaNLeft = best.nanLeft
	node.Left = b.build(best.leftIdx, depth+1)
	node.Right = b.build(best.rightIdx, depth+1)
	return node
}

// bestSplit searches feats in parallel. Results land at fixed positions so
// the winner does not depend on goroutine scheduling.
func (b *treeBuilder) bestSplit(idx, feats []int, parentImpurity float64) splitResult {
	results := make([]splitResult, len(feats))
	var wg sync.WaitGroup
	for k, f := range feats {
		wg.Add(1)
		go func(k, f int) {
			defer wg.Done()
			results[k] = b.bestSplitForFeature(idx, f, parentImpurity)
		}(k, f)
	}
	wg.Wait()

	best := splitResult{feature: -1}
	for _, r := range results {
		if r.feature >= 0 && r.gain > best.gain {
			best = r
		}
	}
	return best
}

// bestSplitForFeature scans the thresholds between consecutive distinct
// values of feature f, trying missing values on either side.
func (b *treeBuilder) bestSplitForFeature(idx []int, f int, parentImpurity float64) splitResult {
	result := splitResult{feature: -1}

	valid := make([]pair, 0, len(idx))
	var nans []int
	for _, ii := range idx {
		v := b.X[ii][f]
		if math.IsNaN(v) {
			nans = append(nans, ii)
		} else {
			valid = append(valid, pair{v, ii})
		}
	}
	if len(valid) < 2 {
		return result
	}
	sort.Slice(valid, func(a, c int) bool {
		if valid[a].v == valid[c].v {
			return valid[a].i < valid[c].i
		}
		return valid[a].v < valid[c].v
	})

	nanCounts := b.counts(nans)
	rightCounts := b.counts(indicesFromPairs(valid))
	leftCounts := make([]int, b.k)
	n := float64(len(idx))
	minLeaf := b.t.MinSamplesLeaf

	bestS := -1
	for s := 1; s < len(valid); s++ {
		c := b.y[valid[s-1].i]
		leftCounts[c]++
		rightCounts[c]--
		if valid[s].v == valid[s-1].v {
			continue
		}
		for _, nanLeft := range []bool{true, false} {
			l, r := leftCounts, rightCounts
			nl, nr := s, len(valid)-s
			if len(nans) > 0 {
				if nanLeft {
					l, nl = addCounts(leftCounts, nanCounts), nl+len(nans)
				} else {
					r, nr = addCounts(rightCounts, nanCounts), nr+len(nans)
				}
			}
			if nl < minLeaf || nr < minLeaf {
				continue
			}
			weighted := float64(nl)/n*b.impurity(l) + float64(nr)/n*b.impurity(r)
			gain := parentImpurity - weighted
			if gain > result.gain {
				thr := (valid[s-1].v + valid[s].v) / 2
				if thr == valid[s].v {
					thr = valid[s-1].v
				}
				result.gain, result.feature, result.threshold, result.nanLeft = gain, f, thr, nanLeft
				bestS = s
			}
			if len(nans) == 0 {
				break
			}
		}
	}
	if bestS < 0 {
		return result
	}

	result.leftIdx = indicesFromPairs(valid[:bestS])
	result.rightIdx = indicesFromPairs(valid[bestS:])
	if len(nans) == 0 {
		// unseen missing values follow the larger branch
		result.nanLeft = len(result.leftIdx) >= len(result.rightIdx)
	} else if result.nanLeft {
		result.leftIdx = append(result.leftIdx, nans...)
	} else {
		result.rightIdx = append(result.rightIdx, nans...)
	}
	return result
}

func (b *treeBuilder) counts(idx []int) []int {
	counts := make([]int, b.k)
	for _, ii := range idx {
		counts[b.y[ii]]++
	}
	return counts
}

func addCounts(a, c []int) []int {
	out := make([]int, len(a))
	for i := range a {
		out[i] = a[i] + c[i]
	}
	return out
}

func indicesFromPairs(pairs []pair) []int {
	out := make([]int, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.i)
	}
	return out
}

// ---------------------------
// Prediction helper
// ---------------------------

func (t *DecisionTree) predictProbaSingle(x []float64) []float64 {
	if t.Root == nil {
		p := make([]float64, len(t.Classes))
		for i := range p {
			p[i] = 1.0 / float64(len(p))
		}
		return p
	}
	node := t.Root
	for !node.Leaf {
		val := x[node.Feature]
		switch {
		case math.IsNaN(val):
			if node.NaNLeft {
				node = node.Left
			} else {
				node = node.Right
			}
		case val <= node.Threshold:
			node = node.Left
		default:
			node = node.Right
		}
	}
	return node.Proba
}

// ---------------------------
// Utilities: impurity & misc
// ---------------------------

func giniFromCounts(counts []int) float64 {
	n := 0.0
	for _, c := range counts {
		n += float64(c)
	}
	if n == 0 {
		return 0
	}
	res := 0.0
	for _, c := range counts {
		p := float64(c) / n
		res += p * (1 - p)
	}
	return res
}

func entropyFromCounts(counts []int) float64 {
	n := 0.0
	for _, c := range counts {
		n += float64(c)
	}
	if n == 0 {
		return 0
	}
	res := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		res -= p * math.Log2(p)
	}
	return res
}

func isPure(counts []int) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

func countsToProbas(counts []int) []float64 {
	n := 0
	for _, c := range counts {
		n += c
	}
	p := make([]float64, len(counts))
	if n == 0 {
		return p
	}
	for i := range counts {
		p[i] = float64(counts[i]) / float64(n)
	}
	return p
}

// argmaxFloat returns the first index of the largest value.
func argmaxFloat(arr []float64) int {
	best := 0
	for i := 1; i < len(arr); i++ {
		if arr[i] > arr[best] {
			best = i
		}
	}
	return best
}
