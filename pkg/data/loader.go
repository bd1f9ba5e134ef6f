package data

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
)

// Table is an in-memory dataset: a header and rows of string cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// ReadCSV loads a comma-delimited file with a header row.
func ReadCSV(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(bufio.NewReader(file))
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("dataset %s: empty file", path)
	}
	if err != nil {
		return nil, fmt.Errorf("dataset %s: read header: %w", path, err)
	}

	t := &Table{Columns: slices.Clone(header)}
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// csv.Reader already enforces a constant field count
			return nil, fmt.Errorf("dataset %s: %w", path, err)
		}
		t.Rows = append(t.Rows, slices.Clone(rec))
	}
	return t, nil
}

// WriteCSV writes t with its header, creating parent directories.
func WriteCSV(path string, t *Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dataset dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dataset: %w", err)
	}
	w := csv.NewWriter(file)
	if err := w.Write(t.Columns); err != nil {
		file.Close()
		return err
	}
	if err := w.WriteAll(t.Rows); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// ColumnIndex returns the position of name or an error if absent.
func (t *Table) ColumnIndex(name string) (int, error) {
	i := slices.Index(t.Columns, name)
	if i < 0 {
		return -1, fmt.Errorf("column %q not found", name)
	}
	return i, nil
}

// Column returns a copy of the cells of one column.
func (t *Table) Column(name string) ([]string, error) {
	j, err := t.ColumnIndex(name)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[j]
	}
	return out, nil
}

// FloatColumn parses one column as float64.
func (t *Table) FloatColumn(name string) ([]float64, error) {
	j, err := t.ColumnIndex(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		v, err := strconv.ParseFloat(row[j], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d column %q: %w", i+1, name, err)
		}
		out[i] = v
	}
	return out, nil
}

// Subset returns a table holding the rows at idx, in that order.
func (t *Table) Subset(idx []int) *Table {
	out := &Table{Columns: slices.Clone(t.Columns), Rows: make([][]string, len(idx))}
	for k, i := range idx {
		out.Rows[k] = slices.Clone(t.Rows[i])
	}
	return out
}

// Clone deep copies the table.
func (t *Table) Clone() *Table {
	out := &Table{Columns: slices.Clone(t.Columns), Rows: make([][]string, len(t.Rows))}
	for i, row := range t.Rows {
		out.Rows[i] = slices.Clone(row)
	}
	return out
}

// Features splits the table into a numeric feature matrix and the target
// labels. Feature columns keep the table order, minus the target.
func (t *Table) Features(target string) (X [][]float64, y []string, names []string, err error) {
	ti, err := t.ColumnIndex(target)
	if err != nil {
		return nil, nil, nil, err
	}
	for j, c := range t.Columns {
		if j != ti {
			names = append(names, c)
		}
	}
	X = make([][]float64, len(t.Rows))
	y = make([]string, len(t.Rows))
	for i, rec := range t.Rows {
		x := make([]float64, 0, len(rec)-1)
		for j, s := range rec {
			if j == ti {
				y[i] = s
				continue
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("row %d column %q: not numeric: %q", i+1, t.Columns[j], s)
			}
			x = append(x, v)
		}
		X[i] = x
	}
	return X, y, names, nil
}
