package model

import (
	"fmt"
	"slices"
)

// Dummy ignores the features. The most_frequent strategy predicts the
// commonest training class (smallest on ties); constant predicts Constant.
// Constant is a class index into Bundle.Classes, the sorted label list, not
// a label string, and must occur in the training labels.
type Dummy struct {
	Strategy string
	Constant int
	Label    int
}

func init() {
	Register(Family{
		Name:   "dummy",
		Params: []string{"strategy", "constant"},
		New: func(p Params) (Classifier, error) {
			s, err := p.Choice("strategy", "most_frequent", "most_frequent", "constant")
			if err != nil {
				return nil, err
			}
			c, err := p.Int("constant", 0)
			if err != nil {
				return nil, err
			}
			return &Dummy{Strategy: s, Constant: c}, nil
		},
		Missing: true,
	}, &Dummy{})
}

func (d *Dummy) Fit(X [][]float64, y []int) error {
	if err := checkXY(X, y); err != nil {
		return fmt.Errorf("dummy: %w", err)
	}
	if d.Strategy == "constant" {
		if !slices.Contains(y, d.Constant) {
			return fmt.Errorf("dummy: constant class %d is not among the training classes %v", d.Constant, sortedClasses(y))
		}
		d.Label = d.Constant
		return nil
	}
	counts := map[int]int{}
	for _, v := range y {
		counts[v]++
	}
	best, bestCount := 0, -1
	for _, c := range sortedClasses(y) {
		if counts[c] > bestCount {
			best, bestCount = c, counts[c]
		}
	}
	d.Label = best
	return nil
}

func (d *Dummy) Predict(X [][]float64) []int {
	out := make([]int, len(X))
	for i := range out {
		out[i] = d.Label
	}
	return out
}
