// Package dataprep holds the featurize transforms applied to a raw dataset
// before it is split and trained on.
package dataprep

import (
	"fmt"

	"github.com/mlrepa/mlpanel-demo/pkg/data"
)

// Step transforms a table. Steps never modify the target column.
type Step interface {
	Name() string
	Apply(t *data.Table, target string) (*data.Table, error)
}

// Chain runs steps in order, feeding each the previous output.
type Chain struct {
	steps []Step
}

func NewChain(steps ...Step) *Chain {
	return &Chain{steps: steps}
}

// Steps returns the configured steps.
func (c *Chain) Steps() []Step { return c.steps }

func (c *Chain) Apply(t *data.Table, target string) (*data.Table, error) {
	if _, err := t.ColumnIndex(target); err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	out := t.Clone()
	for _, step := range c.steps {
		next, err := step.Apply(out, target)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}
		out = next
	}
	return out, nil
}
