package dataprep

import (
	"strings"

	"github.com/mlrepa/mlpanel-demo/pkg/data"
)

// DropDuplicates removes repeated rows, keeping the first occurrence.
type DropDuplicates struct{}

func (DropDuplicates) Name() string { return "drop_duplicates" }

func (DropDuplicates) Apply(t *data.Table, _ string) (*data.Table, error) {
	seen := make(map[string]struct{}, len(t.Rows))
	rows := t.Rows[:0]
	for _, row := range t.Rows {
		key := strings.Join(row, "\x1f")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		rows = append(rows, row)
	}
	t.Rows = rows
	return t, nil
}
