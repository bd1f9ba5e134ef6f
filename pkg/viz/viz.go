// Package viz renders experiment charts with gonum/plot.
package viz

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// CVScoresPlot draws one bar per grid candidate with its mean CV score and
// saves it to path. The image format follows the file extension.
func CVScoresPlot(path, scoring string, names []string, means []float64, best int) error {
	if len(names) == 0 || len(names) != len(means) {
		return errors.New("viz: need one mean score per candidate")
	}
	p := plot.New()
	p.Title.Text = "Grid search"
	p.Y.Label.Text = "mean " + scoring
	p.Y.Min, p.Y.Max = 0, 1

	bars, err := plotter.NewBarChart(plotter.Values(means), vg.Points(18))
	if err != nil {
		return fmt.Errorf("viz: %w", err)
	}
	bars.LineStyle.Width = vg.Length(0)
	bars.Color = color.RGBA{R: 90, G: 120, B: 200, A: 255}
	p.Add(bars)

	if best >= 0 && best < len(means) {
		// highlight the winner with its own bar at the same offset
		hv := make(plotter.Values, len(means))
		hv[best] = means[best]
		hi, err := plotter.NewBarChart(hv, vg.Points(18))
		if err != nil {
			return fmt.Errorf("viz: %w", err)
		}
		hi.LineStyle.Width = vg.Length(0)
		hi.Color = color.RGBA{R: 230, G: 120, B: 40, A: 255}
		p.Add(hi)
	}
	p.NominalX(names...)
	p.X.Tick.Label.Rotation = 0.6
	p.X.Tick.Label.XAlign = -0.9

	width := vg.Length(len(names))*0.5*vg.Inch + 2*vg.Inch
	return save(p, width, 4*vg.Inch, path)
}

// confusionGrid adapts a confusion matrix to plotter.GridXYZ with predicted
// labels along X and true labels along Y.
type confusionGrid [][]int

func (g confusionGrid) Dims() (c, r int)   { return len(g), len(g) }
func (g confusionGrid) Z(c, r int) float64 { return float64(g[r][c]) }
func (g confusionGrid) X(c int) float64    { return float64(c) }
func (g confusionGrid) Y(r int) float64    { return float64(r) }

// ConfusionMatrixPlot renders cm as an annotated heat map.
func ConfusionMatrixPlot(path string, cm [][]int, labels []string) error {
	n := len(cm)
	if n == 0 || len(labels) != n {
		return errors.New("viz: confusion matrix and labels disagree")
	}
	for _, row := range cm {
		if len(row) != n {
			return errors.New("viz: confusion matrix is not square")
		}
	}

	grid := confusionGrid(cm)
	hm := plotter.NewHeatMap(grid, palette.Heat(12, 1))
	if hm.Min == hm.Max {
		hm.Max = hm.Min + 1
	}

	p := plot.New()
	p.Title.Text = "Confusion matrix"
	p.X.Label.Text = "predicted"
	p.Y.Label.Text = "true"
	p.Add(hm)

	var xys plotter.XYs
	var texts []string
	for r := range cm {
		for c := range cm[r] {
			xys = append(xys, plotter.XY{X: float64(c), Y: float64(r)})
			texts = append(texts, fmt.Sprintf("%d", cm[r][c]))
		}
	}
	lbl, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: texts})
	if err != nil {
		return fmt.Errorf("viz: %w", err)
	}
	for i := range lbl.TextStyle {
		lbl.TextStyle[i].XAlign = -0.5
		lbl.TextStyle[i].YAlign = -0.5
	}
	p.Add(lbl)
	p.NominalX(labels...)
	p.NominalY(labels...)

	side := vg.Length(n)*0.6*vg.Inch + 2*vg.Inch
	return save(p, side, side, path)
}

func save(p *plot.Plot, w, h vg.Length, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("viz: create dir: %w", err)
	}
	if err := p.Save(w, h, path); err != nil {
		return fmt.Errorf("viz: save %s: %w", path, err)
	}
	return nil
}
