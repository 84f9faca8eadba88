// Package models defines the tabular record structures shared by the
// fetch, join, validation, and export stages.
package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Record is one loosely typed row keyed by column name. Cell values are one
// of: nil, string, float64, int64, bool, []byte, time.Time.
type Record = map[string]any

// RecordSet is an ordered-column, row-major table. It is the unit of data
// exchanged between stages: DB reads, API fetches, the join, and validation
// all produce or consume one.
type RecordSet struct {
	Columns []string
	Rows    [][]any

	index map[string]int
}

// NewRecordSet builds an empty set with the given column order.
func NewRecordSet(columns ...string) *RecordSet {
	rs := &RecordSet{Columns: append([]string(nil), columns...)}
	rs.rebuildIndex()
	return rs
}

// FromRecords builds a set from key/value records. Column order follows
// first appearance across the input; rows missing a column get nil. keyOrder
// fixes the ordering for columns of the first record when the caller knows
// it (JSON objects decode unordered).
func FromRecords(records []Record, keyOrder []string) *RecordSet {
	rs := NewRecordSet()
	for _, k := range keyOrder {
		rs.ensureColumn(k)
	}
	for _, rec := range records {
		keys := make([]string, 0, len(rec))
		for k := range rec {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			rs.ensureColumn(k)
		}
	}
	for _, rec := range records {
		row := make([]any, len(rs.Columns))
		for i, col := range rs.Columns {
			if v, ok := rec[col]; ok {
				row[i] = v
			}
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs
}

// Len returns the number of rows.
func (rs *RecordSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}

// Empty reports whether the set carries no rows.
func (rs *RecordSet) Empty() bool {
	return rs.Len() == 0
}

// ColumnIndex returns the position of a column, or -1 when absent.
func (rs *RecordSet) ColumnIndex(name string) int {
	if rs == nil {
		return -1
	}
	if rs.index == nil {
		rs.rebuildIndex()
	}
	if i, ok := rs.index[name]; ok {
		return i
	}
	return -1
}

// HasColumn reports whether the column exists.
func (rs *RecordSet) HasColumn(name string) bool {
	return rs.ColumnIndex(name) >= 0
}

// Value returns the cell at (row, column name); nil when out of range.
func (rs *RecordSet) Value(row int, name string) any {
	i := rs.ColumnIndex(name)
	if i < 0 || row < 0 || row >= len(rs.Rows) {
		return nil
	}
	return rs.Rows[row][i]
}

// AddColumn appends a column. Shorter value slices are back-filled with nil
// so every column has exactly one value per row; longer ones are truncated.
func (rs *RecordSet) AddColumn(name string, values []any) {
	cells := make([]any, len(rs.Rows))
	copy(cells, values)
	rs.Columns = append(rs.Columns, name)
	for i := range rs.Rows {
		rs.Rows[i] = append(rs.Rows[i], cells[i])
	}
	rs.rebuildIndex()
}

// Prefix returns a copy with every column name prefixed.
func (rs *RecordSet) Prefix(prefix string) *RecordSet {
	out := rs.Copy()
	for i, col := range out.Columns {
		out.Columns[i] = prefix + col
	}
	out.rebuildIndex()
	return out
}

// Copy returns a deep copy of the column list and row slices. Cell values
// are shared; stages treat them as immutable.
func (rs *RecordSet) Copy() *RecordSet {
	out := NewRecordSet(rs.Columns...)
	out.Rows = make([][]any, len(rs.Rows))
	for i, row := range rs.Rows {
		out.Rows[i] = append([]any(nil), row...)
	}
	return out
}

// DropColumnsWithPrefix returns a copy without columns matching the prefix.
// Used by the re-validation pass to strip prior validation_ columns.
func (rs *RecordSet) DropColumnsWithPrefix(prefix string) *RecordSet {
	keep := make([]int, 0, len(rs.Columns))
	cols := make([]string, 0, len(rs.Columns))
	for i, col := range rs.Columns {
		if strings.HasPrefix(col, prefix) {
			continue
		}
		keep = append(keep, i)
		cols = append(cols, col)
	}
	out := NewRecordSet(cols...)
	out.Rows = make([][]any, len(rs.Rows))
	for r, row := range rs.Rows {
		cells := make([]any, len(keep))
		for j, i := range keep {
			cells[j] = row[i]
		}
		out.Rows[r] = cells
	}
	return out
}

func (rs *RecordSet) ensureColumn(name string) {
	if rs.HasColumn(name) {
		return
	}
	rs.Columns = append(rs.Columns, name)
	if rs.index == nil {
		rs.index = make(map[string]int)
	}
	rs.index[name] = len(rs.Columns) - 1
	for i := range rs.Rows {
		rs.Rows[i] = append(rs.Rows[i], nil)
	}
}

func (rs *RecordSet) rebuildIndex() {
	rs.index = make(map[string]int, len(rs.Columns))
	for i, col := range rs.Columns {
		rs.index[col] = i
	}
}

// Flatten rewrites nested JSON objects into dotted columns, e.g.
// {"_links":{"self":"x"}} becomes column "_links.self". Arrays and scalars
// pass through unchanged.
func Flatten(rec map[string]any) Record {
	out := make(Record, len(rec))
	flattenInto(out, "", rec)
	return out
}

func flattenInto(out Record, prefix string, rec map[string]any) {
	for k, v := range rec {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = v
	}
}

// FormatCell renders a cell for CSV export and log output: nil is empty,
// bytes are lowercase hex, timestamps are RFC3339.
func FormatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return fmt.Sprintf("%x", t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}
