// Package model defines the classifier families the train stage searches
// over, their hyperparameters, scoring metrics, and the persisted bundle the
// evaluate stage loads.
package model

import (
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
)

var (
	ErrUnknownEstimator = errors.New("unknown estimator")
	ErrUnknownParam     = errors.New("unknown hyperparameter")
	ErrNotFitted        = errors.New("model is not fitted")
	ErrNonFinite        = errors.New("non-finite feature value")
)

// Classifier is a supervised model over class indices 0..K-1.
type Classifier interface {
	Fit(X [][]float64, y []int) error
	Predict(X [][]float64) []int
}

// Family is one estimator family selectable by name from configuration.
type Family struct {
	Name   string
	Params []string // accepted hyperparameter names
	New    func(p Params) (Classifier, error)

	// Missing is set when NaN features are routed as missing values
	// instead of rejected.
	Missing bool
}

// Accepts reports whether key is a hyperparameter of the family.
func (f Family) Accepts(key string) bool { return slices.Contains(f.Params, key) }

var (
	registryMu sync.RWMutex
	registry   = map[string]Family{}
)

// Register adds a family and registers its concrete type with gob so bundles
// can carry it behind the Classifier interface.
func Register(f Family, sample Classifier) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[f.Name]; dup {
		panic("model: duplicate estimator family " + f.Name)
	}
	registry[f.Name] = f
	gob.Register(sample)
}

// Lookup returns the family registered under name.
func Lookup(name string) (Family, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	if !ok {
		return Family{}, fmt.Errorf("%w: %q (known: %v)", ErrUnknownEstimator, name, familiesLocked())
	}
	return f, nil
}

// Families lists registered family names in sorted order.
func Families() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return familiesLocked()
}

func familiesLocked() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// New builds an unfitted classifier of the named family.
func New(name string, p Params) (Classifier, error) {
	f, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	for _, k := range p.Keys() {
		if !f.Accepts(k) {
			return nil, fmt.Errorf("%w: %s for %s (accepted: %v)", ErrUnknownParam, k, name, f.Params)
		}
	}
	return f.New(p)
}

func checkXY(X [][]float64, y []int) error {
	if len(X) == 0 {
		return errors.New("empty X")
	}
	if len(y) != len(X) {
		return fmt.Errorf("X has %d rows but y has %d labels", len(X), len(y))
	}
	p := len(X[0])
	for i := range X {
		if len(X[i]) != p {
			return fmt.Errorf("row %d has %d features, want %d", i, len(X[i]), p)
		}
	}
	return nil
}

// CheckFinite rejects NaN and infinite cells. names labels the columns in the
// error and may be nil.
func CheckFinite(X [][]float64, names []string) error {
	for i, row := range X {
		for j, v := range row {
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				continue
			}
			if j < len(names) {
				return fmt.Errorf("%w %v at row %d column %q", ErrNonFinite, v, i, names[j])
			}
			return fmt.Errorf("%w %v at row %d column %d", ErrNonFinite, v, i, j)
		}
	}
	return nil
}

// sortedClasses returns the distinct labels of y in ascending order.
func sortedClasses(y []int) []int {
	out := slices.Clone(y)
	slices.Sort(out)
	return slices.Compact(out)
}
