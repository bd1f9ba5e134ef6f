// Package search runs exhaustive hyperparameter search with stratified
// k-fold cross-validation.
package search

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sort"

	"github.com/alitto/pond/v2"
	"github.com/olekukonko/tablewriter"

	"github.com/mlrepa/mlpanel-demo/pkg/loader"
	"github.com/mlrepa/mlpanel-demo/pkg/model"
	"github.com/mlrepa/mlpanel-demo/pkg/stats"
)

// ParamGrid maps each hyperparameter to the values to try.
type ParamGrid map[string][]any

// GridFromConfig converts a decoded param_grid mapping. A scalar value is
// treated as a one-element list.
func GridFromConfig(m map[string]any) (ParamGrid, error) {
	g := make(ParamGrid, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case []any:
			if len(t) == 0 {
				return nil, fmt.Errorf("param_grid %s: empty list", k)
			}
			g[k] = t
		case map[string]any:
			return nil, fmt.Errorf("param_grid %s: want a list, got a mapping", k)
		default:
			g[k] = []any{t}
		}
	}
	return g, nil
}

// Keys returns the grid's parameter names in sorted order.
func (g ParamGrid) Keys() []string {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Expand returns the cartesian product of the grid over sorted keys, with
// the last key varying fastest. An empty grid yields one empty assignment.
func (g ParamGrid) Expand() []model.Params {
	out := []model.Params{{}}
	for _, k := range g.Keys() {
		next := make([]model.Params, 0, len(out)*len(g[k]))
		for _, p := range out {
			for _, v := range g[k] {
				q := p.Clone()
				q[k] = v
				next = append(next, q)
			}
		}
		out = next
	}
	return out
}

// Candidate is one evaluated parameter assignment.
type Candidate struct {
	Params     model.Params
	FoldScores []float64
	Mean       float64
	Std        float64
}

// Result is the outcome of a grid search.
type Result struct {
	Estimator  string
	Scoring    string
	Candidates []Candidate
	BestIndex  int
	Best       model.Classifier // refit on the full training set
}

// BestCandidate returns the winning candidate.
func (r *Result) BestCandidate() Candidate { return r.Candidates[r.BestIndex] }

// GridSearch configures an exhaustive search for one estimator family.
type GridSearch struct {
	Estimator string
	Grid      ParamGrid
	Base      model.Params // applied under every candidate
	CV        int
	Scoring   string
	NJobs     int // concurrent fold fits; <=0 means GOMAXPROCS
}

// Run scores every candidate with stratified k-fold cross-validation, picks
// the highest mean score (earliest candidate on ties), and refits it on all
// of X.
func (gs *GridSearch) Run(ctx context.Context, X [][]float64, y []int) (*Result, error) {
	fam, err := model.Lookup(gs.Estimator)
	if err != nil {
		return nil, err
	}
	for _, k := range gs.Grid.Keys() {
		if !fam.Accepts(k) {
			return nil, fmt.Errorf("%w: %s for %s (accepted: %v)", model.ErrUnknownParam, k, gs.Estimator, fam.Params)
		}
	}
	if !model.ValidScoring(gs.Scoring) {
		return nil, fmt.Errorf("unknown scoring %q (known: %v)", gs.Scoring, model.Scorings)
	}
	folds, err := loader.StratifiedKFold(y, gs.CV)
	if err != nil {
		return nil, err
	}

	candidates := gs.Grid.Expand()
	for i, p := range candidates {
		candidates[i] = gs.Base.Merge(p)
	}

	workers := gs.NJobs
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	pool := pond.NewResultPool[float64](workers)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	for _, p := range candidates {
		for _, f := range folds {
			group.SubmitErr(func() (float64, error) {
				return gs.scoreFold(p, X, y, f)
			})
		}
	}
	// results come back in submission order
	scores, err := group.Wait()
	if err != nil {
		return nil, fmt.Errorf("grid search %s: %w", gs.Estimator, err)
	}

	res := &Result{Estimator: gs.Estimator, Scoring: gs.Scoring, Candidates: make([]Candidate, len(candidates))}
	for i, p := range candidates {
		fs := scores[i*len(folds) : (i+1)*len(folds)]
		res.Candidates[i] = Candidate{Params: p, FoldScores: fs, Mean: stats.Mean(fs), Std: stats.Std(fs)}
		if res.Candidates[i].Mean > res.Candidates[res.BestIndex].Mean {
			res.BestIndex = i
		}
	}

	best, err := model.New(gs.Estimator, res.BestCandidate().Params)
	if err != nil {
		return nil, err
	}
	if err := best.Fit(X, y); err != nil {
		return nil, fmt.Errorf("refit %s: %w", gs.Estimator, err)
	}
	res.Best = best
	return res, nil
}

func (gs *GridSearch) scoreFold(p model.Params, X [][]float64, y []int, f loader.Fold) (float64, error) {
	clf, err := model.New(gs.Estimator, p)
	if err != nil {
		return 0, err
	}
	xTrain, yTrain := take(X, y, f.Train)
	xTest, yTest := take(X, y, f.Test)
	if err := clf.Fit(xTrain, yTrain); err != nil {
		return 0, fmt.Errorf("fit %s: %w", p.Format(), err)
	}
	return model.Score(gs.Scoring, yTest, clf.Predict(xTest))
}

func take(X [][]float64, y []int, idx []int) ([][]float64, []int) {
	xs := make([][]float64, len(idx))
	ys := make([]int, len(idx))
	for k, i := range idx {
		xs[k], ys[k] = X[i], y[i]
	}
	return xs, ys
}

// WriteTable renders one row per candidate with its fold scores.
func (r *Result) WriteTable(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)

	header := []string{"#", "Params", "Mean " + r.Scoring, "Std"}
	nFolds := 0
	if len(r.Candidates) > 0 {
		nFolds = len(r.Candidates[0].FoldScores)
	}
	for i := 0; i < nFolds; i++ {
		header = append(header, fmt.Sprintf("Fold %d", i))
	}
	table.SetHeader(header)

	for i, c := range r.Candidates {
		mark := fmt.Sprintf("%d", i)
		if i == r.BestIndex {
			mark += "*"
		}
		row := []string{mark, c.Params.Format(), fmt.Sprintf("%.4f", c.Mean), fmt.Sprintf("%.4f", c.Std)}
		for _, s := range c.FoldScores {
			row = append(row, fmt.Sprintf("%.4f", s))
		}
		table.Append(row)
	}
	table.Render()
}
