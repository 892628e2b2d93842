// Package result turns a wire.ResultStream into an ExecutionResult.
package result

import (
	"encoding/json"

	"github.com/ruslano69/mssqlpool/pkg/value"
	"github.com/ruslano69/mssqlpool/pkg/wire"
)

// Row is one record in server column order.
type Row struct {
	cols   []wire.Column
	index  map[string]int
	values []value.Value
}

// Len returns the number of columns.
func (r Row) Len() int { return len(r.values) }

// Columns returns the column descriptors shared by all rows of the result.
func (r Row) Columns() []wire.Column { return r.cols }

// At returns the value at position i. It panics if i is out of range,
// like a slice index.
func (r Row) At(i int) value.Value { return r.values[i] }

// Get returns the value of the first column named name.
// Duplicate names are reachable only through At.
func (r Row) Get(name string) (value.Value, bool) {
	i, ok := r.index[name]
	if !ok {
		return value.Value{}, false
	}
	return r.values[i], true
}

// Values returns the row as an ordered slice.
func (r Row) Values() []value.Value {
	out := make([]value.Value, len(r.values))
	copy(out, r.values)
	return out
}

// Map returns column name -> value. For duplicate names the first column wins.
func (r Row) Map() map[string]value.Value {
	m := make(map[string]value.Value, len(r.values))
	for i := len(r.cols) - 1; i >= 0; i-- {
		m[r.cols[i].Name] = r.values[i]
	}
	return m
}

// MarshalJSON encodes the row as a name -> value object.
func (r Row) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

// ExecutionResult is either a row set or an affected-row count, never both.
type ExecutionResult struct {
	cols     []wire.Column
	rows     []Row
	affected int64
	reported bool
}

// HasRows reports whether the statement produced a result set.
// An empty SELECT still has rows form with zero rows.
func (r *ExecutionResult) HasRows() bool { return r.cols != nil }

// Rows returns the row set; empty for the count form.
func (r *ExecutionResult) Rows() []Row { return r.rows }

// Columns returns the result set columns; nil for the count form.
func (r *ExecutionResult) Columns() []wire.Column { return r.cols }

// AffectedRows returns the affected-row count. ok is false when the
// statement produced rows.
func (r *ExecutionResult) AffectedRows() (n int64, ok bool) {
	if r.HasRows() {
		return 0, false
	}
	return r.affected, true
}

// HasAffectedCount reports whether the server reported a count, as opposed
// to a batch that produced neither rows nor a count (DDL, SET options).
func (r *ExecutionResult) HasAffectedCount() bool {
	return !r.HasRows() && r.reported
}

// Transform returns a copy of the result with every cell passed through fn.
// The count form is returned unchanged.
func (r *ExecutionResult) Transform(fn func(col wire.Column, v value.Value) value.Value) *ExecutionResult {
	if !r.HasRows() {
		return r
	}

	out := &ExecutionResult{cols: r.cols, affected: r.affected, reported: r.reported}
	out.rows = make([]Row, len(r.rows))
	for i, row := range r.rows {
		values := make([]value.Value, len(row.values))
		for j, v := range row.values {
			values[j] = fn(r.cols[j], v)
		}
		out.rows[i] = Row{cols: row.cols, index: row.index, values: values}
	}
	return out
}

// Retype returns a copy whose columns at the given indexes carry a new SQL
// type name and no size metadata. Row values are shared with r.
func (r *ExecutionResult) Retype(types map[int]string) *ExecutionResult {
	if !r.HasRows() || len(types) == 0 {
		return r
	}

	cols := make([]wire.Column, len(r.cols))
	copy(cols, r.cols)
	for i, typeName := range types {
		if i < 0 || i >= len(cols) {
			continue
		}
		c := &cols[i]
		c.TypeName = typeName
		c.Precision, c.Scale, c.HasScale = 0, 0, false
		c.Length, c.HasLength = 0, false
	}

	out := &ExecutionResult{cols: cols, affected: r.affected, reported: r.reported}
	out.rows = make([]Row, len(r.rows))
	for i, row := range r.rows {
		out.rows[i] = Row{cols: cols, index: row.index, values: row.values}
	}
	return out
}
