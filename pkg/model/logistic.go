package model

import (
	"fmt"
	"math/rand"

	"github.com/mlrepa/mlpanel-demo/pkg/core"
	"github.com/mlrepa/mlpanel-demo/pkg/nn"
	"github.com/mlrepa/mlpanel-demo/pkg/optim"
	"github.com/mlrepa/mlpanel-demo/pkg/stats"
)

// LogisticRegression is a multinomial (softmax) classifier trained with
// mini-batch SGD and L2 regularisation of strength 1/C. Features are
// standardised internally.
type LogisticRegression struct {
	C            float64
	MaxIter      int // epochs
	LearningRate float64
	BatchSize    int
	RandomState  int64

	W       *core.Matrix // one weight row per class
	B       []float64
	Classes []int
	Scaler  *stats.StandardScaler
}

// NewLogisticRegression returns an unfitted model.
func NewLogisticRegression(c float64, maxIter int, lr float64, batchSize int, seed int64) *LogisticRegression {
	return &LogisticRegression{C: c, MaxIter: maxIter, LearningRate: lr, BatchSize: batchSize, RandomState: seed}
}

func init() {
	Register(Family{
		Name:   "logreg",
		Params: []string{"C", "max_iter", "learning_rate", "batch_size", "random_state"},
		New: func(p Params) (Classifier, error) {
			c, err := p.Float("C", 1.0)
			if err != nil {
				return nil, err
			}
			iter, err := p.Int("max_iter", 100)
			if err != nil {
				return nil, err
			}
			lr, err := p.Float("learning_rate", 0.1)
			if err != nil {
				return nil, err
			}
			bs, err := p.Int("batch_size", 32)
			if err != nil {
				return nil, err
			}
			seed, err := p.Int("random_state", 0)
			if err != nil {
				return nil, err
			}
			if c <= 0 || iter < 1 || lr <= 0 || bs < 1 {
				return nil, fmt.Errorf("logreg: invalid params %s", p.Format())
			}
			return NewLogisticRegression(c, iter, lr, bs, int64(seed)), nil
		},
	}, &LogisticRegression{})
}

// Fit trains the model using mini-batch gradient descent.
func (m *LogisticRegression) Fit(X [][]float64, y []int) error {
	if err := checkXY(X, y); err != nil {
		return fmt.Errorf("logreg: %w", err)
	}
	if err := CheckFinite(X, nil); err != nil {
		return fmt.Errorf("logreg: %w", err)
	}
	m.Classes = sortedClasses(y)
	pos := make(map[int]int, len(m.Classes))
	for i, c := range m.Classes {
		pos[c] = i
	}
	yi := make([]int, len(y))
	for i, lab := range y {
		yi[i] = pos[lab]
	}

	m.Scaler = stats.NewStandardScaler()
	Xs, err := m.Scaler.FitTransform(X)
	if err != nil {
		return fmt.Errorf("logreg: %w", err)
	}

	xs, err := core.FromRows(Xs)
	if err != nil {
		return fmt.Errorf("logreg: %w", err)
	}
	n, p, k := xs.R, xs.C, len(m.Classes)
	m.W = core.NewMatrix(k, p)
	m.B = make([]float64, k)
	if k == 1 {
		return nil
	}

	optW := optim.NewSGD(m.LearningRate, 1/(m.C*float64(n)))
	optB := optim.NewSGD(m.LearningRate, 0)
	rnd := rand.New(rand.NewSource(m.RandomState))
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	gW := core.NewMatrix(k, p)

	for ep := 0; ep < m.MaxIter; ep++ {
		rnd.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		for start := 0; start < n; start += m.BatchSize {
			end := min(start+m.BatchSize, n)
			bx := core.NewMatrix(end-start, p)
			by := make([]int, end-start)
			for r, ii := range order[start:end] {
				copy(bx.Row(r), xs.Row(ii))
				by[r] = yi[ii]
			}

			// Forward pass, then the softmax cross-entropy gradient.
			_, dz := nn.CrossEntropy(by, m.probaScaled(bx).Rows())
			dzm, err := core.FromRows(dz)
			if err != nil {
				return fmt.Errorf("logreg: %w", err)
			}
			if err := core.TMulInto(gW, dzm, bx); err != nil {
				return fmt.Errorf("logreg: %w", err)
			}
			optW.Step(m.W.Data, gW.Data)
			optB.Step(m.B, dzm.ColSums())
		}
	}
	return nil
}

// PredictProba returns class probabilities aligned with m.Classes.
func (m *LogisticRegression) PredictProba(X [][]float64) [][]float64 {
	if len(X) == 0 {
		return nil
	}
	xs, err := core.FromRows(m.Scaler.Transform(X))
	if err != nil {
		panic(fmt.Sprintf("logreg: ragged input: %v", err))
	}
	return m.probaScaled(xs).Rows()
}

// probaScaled runs the forward pass on standardised rows.
func (m *LogisticRegression) probaScaled(X *core.Matrix) *core.Matrix {
	z, err := core.MulT(X, m.W)
	if err != nil {
		panic(fmt.Sprintf("logreg: %d features, model has %d", X.C, m.W.C))
	}
	_ = z.AddRowVec(m.B)
	for i := 0; i < z.R; i++ {
		row := z.Row(i)
		nn.Softmax(row, row)
	}
	return z
}

// Predict returns the most probable class per row.
func (m *LogisticRegression) Predict(X [][]float64) []int {
	proba := m.PredictProba(X)
	out := make([]int, len(proba))
	for i, p := range proba {
		out[i] = m.Classes[argmaxFloat(p)]
	}
	return out
}
