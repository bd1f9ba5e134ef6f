package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
)

// RandomForest for classification
type RandomForest struct {
	// Hyperparameters / options
	NEstimators     int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	Criterion       string
	MaxFeatures     int // 0 => sqrt(p)
	Bootstrap       bool
	RandomState     int64

	Trees   []*DecisionTree
	Classes []int
}

// RandomForestOption functional config for RandomForest
type RandomForestOption func(*RandomForest)

func WithNEstimators(n int) RandomForestOption { return func(rf *RandomForest) { rf.NEstimators = n } }
func WithBootstrap(b bool) RandomForestOption  { return func(rf *RandomForest) { rf.Bootstrap = b } }

// WithTreeOptions applies tree options to the forest's shared tree settings.
func WithTreeOptions(opts ...Option) RandomForestOption {
	return func(rf *RandomForest) {
		t := &DecisionTree{
			MaxDepth: rf.MaxDepth, MinSamplesSplit: rf.MinSamplesSplit, MinSamplesLeaf: rf.MinSamplesLeaf,
			Criterion: rf.Criterion, MaxFeatures: rf.MaxFeatures, RandomState: rf.RandomState,
		}
		for _, o := range opts {
			o(t)
		}
		rf.MaxDepth, rf.MinSamplesSplit, rf.MinSamplesLeaf = t.MaxDepth, t.MinSamplesSplit, t.MinSamplesLeaf
		rf.Criterion, rf.MaxFeatures, rf.RandomState = t.Criterion, t.MaxFeatures, t.RandomState
	}
}

// NewRandomForest initializes the forest with sensible defaults.
func NewRandomForest(opts ...RandomForestOption) *RandomForest {
	rf := &RandomForest{
		NEstimators:     100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Criterion:       "gini",
		Bootstrap:       true,
	}
	for _, o := range opts {
		o(rf)
	}
	return rf
}

func init() {
	Register(Family{
		Name: "random_forest",
		Params: []string{"n_estimators", "bootstrap", "max_depth", "min_samples_split",
			"min_samples_leaf", "criterion", "max_features", "random_state"},
		New: func(p Params) (Classifier, error) {
			n, err := p.Int("n_estimators", 100)
			if err != nil {
				return nil, err
			}
			if n < 1 {
				return nil, fmt.Errorf("random_forest: n_estimators must be positive, got %d", n)
			}
			boot, err := p.Bool("bootstrap", true)
			if err != nil {
				return nil, err
			}
			topts, err := treeOptions(p)
			if err != nil {
				return nil, err
			}
			return NewRandomForest(WithNEstimators(n), WithBootstrap(boot), WithTreeOptions(topts...)), nil
		},
		Missing: true,
	}, &RandomForest{})
}

// Fit trains the random forest. Tree i draws its bootstrap sample and
// feature subsets from seed RandomState+i, so the fitted forest does not
// depend on goroutine scheduling.
func (rf *RandomForest) Fit(X [][]float64, y []int) error {
	if err := checkXY(X, y); err != nil {
		return fmt.Errorf("randomforest: %w", err)
	}
	if rf.NEstimators < 1 {
		return errors.New("randomforest: n_estimators must be positive")
	}
	n, p := len(X), len(X[0])
	rf.Classes = sortedClasses(y)

	maxFeatures := rf.MaxFeatures
	if maxFeatures == 0 {
		maxFeatures = max(1, int(math.Sqrt(float64(p))))
	}

	rf.Trees = make([]*DecisionTree, rf.NEstimators)
	errs := make([]error, rf.NEstimators)
	var wg sync.WaitGroup
	for i := 0; i < rf.NEstimators; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			seed := rf.RandomState + int64(idx)
			treeRand := rand.New(rand.NewSource(seed))

			// Bootstrap sampling shares row slices with X.
			sx := make([][]float64, n)
			sy := make([]int, n)
			for j := 0; j < n; j++ {
				k := j
				if rf.Bootstrap {
					k = treeRand.Intn(n)
				}
				sx[j], sy[j] = X[k], y[k]
			}

			tree := NewDecisionTree(
				WithMaxDepth(rf.MaxDepth),
				WithMinSamplesSplit(rf.MinSamplesSplit),
				WithMinSamplesLeaf(rf.MinSamplesLeaf),
				WithCriterion(rf.Criterion),
				WithMaxFeatures(maxFeatures),
				WithRandomState(seed),
			)
			if err := tree.Fit(sx, sy); err != nil {
				errs[idx] = err
				return
			}
			rf.Trees[idx] = tree
		}(i)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Predict returns the majority vote of all trees; ties go to the smallest class.
func (rf *RandomForest) Predict(X [][]float64) []int {
	n := len(X)
	allPreds := make([][]int, len(rf.Trees))
	var wg sync.WaitGroup
	for j, tree := range rf.Trees {
		wg.Add(1)
		go func(j int, t *DecisionTree) {
			defer wg.Done()
			allPreds[j] = t.Predict(X)
		}(j, tree)
	}
	wg.Wait()

	pos := make(map[int]int, len(rf.Classes))
	for i, c := range rf.Classes {
		pos[c] = i
	}
	finalPred := make([]int, n)
	counts := make([]int, len(rf.Classes))
	for i := 0; i < n; i++ {
		clear(counts)
		for j := range allPreds {
			counts[pos[allPreds[j][i]]]++
		}
		best := 0
		for c := 1; c < len(counts); c++ {
			if counts[c] > counts[best] {
				best = c
			}
		}
		finalPred[i] = rf.Classes[best]
	}
	return finalPred
}
