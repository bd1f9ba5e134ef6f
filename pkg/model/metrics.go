package model

import (
	"errors"
	"fmt"
	"slices"
)

// Averaging modes for F1.
const (
	AverageBinary   = "binary"
	AverageMacro    = "macro"
	AverageMicro    = "micro"
	AverageWeighted = "weighted"
)

// Scoring names accepted by Score.
var Scorings = []string{"accuracy", "f1_macro", "f1_micro", "f1_weighted"}

// ConfusionMatrix counts label pairs over classes 0..k-1: rows are true
// labels, columns predicted labels.
func ConfusionMatrix(yTrue, yPred []int, k int) [][]int {
	cm := make([][]int, k)
	for i := range cm {
		cm[i] = make([]int, k)
	}
	for i := range yTrue {
		cm[yTrue[i]][yPred[i]]++
	}
	return cm
}

func Accuracy(yTrue, yPred []int) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	c := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			c++
		}
	}
	return float64(c) / float64(len(yTrue))
}

// PrecisionRecallF1 scores one class against the rest.
func PrecisionRecallF1(yTrue, yPred []int, label int) (prec, rec, f1 float64) {
	tp, fp, fn := classCounts(yTrue, yPred, label)
	if tp+fp > 0 {
		prec = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		rec = float64(tp) / float64(tp+fn)
	}
	f1 = f1FromCounts(tp, fp, fn)
	return
}

func classCounts(yTrue, yPred []int, label int) (tp, fp, fn int) {
	for i := range yTrue {
		switch {
		case yPred[i] == label && yTrue[i] == label:
			tp++
		case yPred[i] == label:
			fp++
		case yTrue[i] == label:
			fn++
		}
	}
	return
}

func f1FromCounts(tp, fp, fn int) float64 {
	d := 2*tp + fp + fn
	if d == 0 {
		return 0
	}
	return float64(2*tp) / float64(d)
}

// F1 computes the F1 score. Binary scores posLabel only and requires at most
// two distinct labels; macro, micro and weighted range over the labels
// present in yTrue or yPred.
func F1(yTrue, yPred []int, average string, posLabel int) (float64, error) {
	if len(yTrue) != len(yPred) {
		return 0, fmt.Errorf("f1: %d true labels but %d predictions", len(yTrue), len(yPred))
	}
	labels := slices.Concat(yTrue, yPred)
	slices.Sort(labels)
	labels = slices.Compact(labels)

	switch average {
	case AverageBinary:
		if len(labels) > 2 {
			return 0, fmt.Errorf("f1: average=binary with %d labels, choose macro, micro or weighted", len(labels))
		}
		_, _, f1 := PrecisionRecallF1(yTrue, yPred, posLabel)
		return f1, nil
	case AverageMicro:
		var tp, fp, fn int
		for _, l := range labels {
			a, b, c := classCounts(yTrue, yPred, l)
			tp, fp, fn = tp+a, fp+b, fn+c
		}
		return f1FromCounts(tp, fp, fn), nil
	case AverageMacro, AverageWeighted:
		if len(labels) == 0 {
			return 0, nil
		}
		sum, weight := 0.0, 0.0
		for _, l := range labels {
			tp, fp, fn := classCounts(yTrue, yPred, l)
			w := 1.0
			if average == AverageWeighted {
				w = float64(tp + fn) // support
			}
			sum += w * f1FromCounts(tp, fp, fn)
			weight += w
		}
		if weight == 0 {
			return 0, nil
		}
		return sum / weight, nil
	default:
		return 0, fmt.Errorf("f1: unknown average %q", average)
	}
}

// Score evaluates predictions under a named scoring rule.
func Score(scoring string, yTrue, yPred []int) (float64, error) {
	switch scoring {
	case "accuracy":
		return Accuracy(yTrue, yPred), nil
	case "f1_macro":
		return F1(yTrue, yPred, AverageMacro, 0)
	case "f1_micro":
		return F1(yTrue, yPred, AverageMicro, 0)
	case "f1_weighted":
		return F1(yTrue, yPred, AverageWeighted, 0)
	}
	return 0, errors.New("unknown scoring " + scoring)
}

// ValidScoring reports whether Score accepts name.
func ValidScoring(name string) bool { return slices.Contains(Scorings, name) }
