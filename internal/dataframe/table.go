// Package dataframe holds the tabular payload attached to a kitem.
package dataframe

import (
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Table is an ordered set of equally long named columns.
type Table struct {
	cols *orderedmap.OrderedMap[string, []any]
}

// New returns an empty table.
func New() *Table {
	return &Table{cols: orderedmap.New[string, []any]()}
}

// FromColumns builds a table from parallel name and value slices.
func FromColumns(names []string, values [][]any) (*Table, error) {
	if len(names) != len(values) {
		return nil, fmt.Errorf("dataframe: %d names for %d columns", len(names), len(values))
	}
	t := New()
	for i, name := range names {
		if err := t.Set(name, values[i]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Set adds or replaces a column. All columns must have the same length.
func (t *Table) Set(name string, values []any) error {
	if name == "" {
		return fmt.Errorf("dataframe: column name is required")
	}
	if rows := t.Rows(); t.cols.Len() > 0 && len(values) != rows {
		if _, replacing := t.cols.Get(name); !replacing || t.cols.Len() > 1 {
			return fmt.Errorf("dataframe: column %q has %d rows, table has %d", name, len(values), rows)
		}
	}
	t.cols.Set(name, values)
	return nil
}

// Column returns the values of a column.
func (t *Table) Column(name string) ([]any, bool) {
	return t.cols.Get(name)
}

// Names returns the column names in order.
func (t *Table) Names() []string {
	out := make([]string, 0, t.cols.Len())
	for pair := t.cols.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// Rows returns the number of rows.
func (t *Table) Rows() int {
	if first := t.cols.Oldest(); first != nil {
		return len(first.Value)
	}
	return 0
}

// Empty reports whether the table has no columns or no rows.
func (t *Table) Empty() bool {
	return t == nil || t.cols.Len() == 0 || t.Rows() == 0
}

// MarshalJSON encodes the table as {"column": [values...]} in column order.
func (t *Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.cols)
}

// UnmarshalJSON decodes the column-ordered form produced by MarshalJSON.
func (t *Table) UnmarshalJSON(data []byte) error {
	cols := orderedmap.New[string, []any]()
	if err := json.Unmarshal(data, cols); err != nil {
		return fmt.Errorf("dataframe: decode: %w", err)
	}
	next := New()
	for pair := cols.Oldest(); pair != nil; pair = pair.Next() {
		if err := next.Set(pair.Key, pair.Value); err != nil {
			return err
		}
	}
	t.cols = next.cols
	return nil
}
