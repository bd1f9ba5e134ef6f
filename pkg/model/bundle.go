package model

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Bundle is the persisted output of the train stage.
type Bundle struct {
	Estimator string
	Params    Params
	CVScore   float64
	Scoring   string
	Features  []string // feature column order the model was fitted on
	Classes   []string // label for each class index
	Model     Classifier
}

// Predict maps X through the fitted model back to string labels.
func (b *Bundle) Predict(X [][]float64) ([]string, error) {
	if b.Model == nil {
		return nil, ErrNotFitted
	}
	for i, row := range X {
		if len(row) != len(b.Features) {
			return nil, fmt.Errorf("row %d has %d features, model expects %d", i, len(row), len(b.Features))
		}
	}
	if f, err := Lookup(b.Estimator); err != nil || !f.Missing {
		if err := CheckFinite(X, b.Features); err != nil {
			return nil, err
		}
	}
	idx := b.Model.Predict(X)
	out := make([]string, len(idx))
	for i, c := range idx {
		if c < 0 || c >= len(b.Classes) {
			return nil, fmt.Errorf("predicted class %d outside %d known classes", c, len(b.Classes))
		}
		out[i] = b.Classes[c]
	}
	return out, nil
}

// Encode writes b as a zstd-compressed gob stream.
func (b *Bundle) Encode(w io.Writer) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(zw).Encode(b); err != nil {
		zw.Close()
		return fmt.Errorf("encode bundle: %w", err)
	}
	return zw.Close()
}

// DecodeBundle reads a bundle written by Encode.
func DecodeBundle(r io.Reader) (*Bundle, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	var b Bundle
	if err := gob.NewDecoder(zr).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	return &b, nil
}

// SaveBundle writes b to path, creating parent directories.
func SaveBundle(path string, b *Bundle) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create model file: %w", err)
	}
	if err := b.Encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadBundle reads the bundle at path.
func LoadBundle(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	defer f.Close()
	return DecodeBundle(f)
}
