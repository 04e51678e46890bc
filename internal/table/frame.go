// Package table implements an ordered columnar table keyed by
// (symbol, timestamp), plus a secondary index mapping symbol -> contiguous
// row range, so the resample and alignment engines can group by symbol
// without a dataframe dependency. Rows are always kept sorted by
// (symbol, timestamp) ascending, matching the query layer's ordering.
package table

import (
	"math"
	"sort"
)

// NaN is the sentinel for a missing numeric value in a Frame column.
var NaN = math.NaN()

// Frame is a (symbol, timestamp)-indexed table. Row i is
// (Symbols[i], Timestamps[i]); Columns[name][i] is that row's value for
// column name. Frame owns its slices; callers that mutate them are
// responsible for re-sorting and rebuilding the index.
type Frame struct {
	ColumnNames []string
	Symbols     []string
	Timestamps  []int64
	Columns     map[string][]float64

	// AuxInt64 carries side-channel integer series that ride along a row
	// without being an exported "feature" column, e.g. an as-of alignment's
	// source timestamp audit trail or a K-line's close_time. Keyed by name,
	// one value per row like Columns.
	AuxInt64 map[string][]int64

	index     map[string][2]int // symbol -> [startRow, endRow)
	rowsAdded int
}

// New returns an empty Frame declaring the given feature columns.
func New(columns ...string) *Frame {
	f := &Frame{
		ColumnNames: append([]string(nil), columns...),
		Columns:     make(map[string][]float64, len(columns)),
		AuxInt64:    make(map[string][]int64),
	}
	for _, c := range columns {
		f.Columns[c] = nil
	}
	return f
}

// Len returns the row count.
func (f *Frame) Len() int { return len(f.Symbols) }

// Empty reports whether the frame has no rows.
func (f *Frame) Empty() bool { return f.Len() == 0 }

// AppendRow appends one row. values may omit columns (they become NaN).
func (f *Frame) AppendRow(symbol string, ts int64, values map[string]float64) {
	f.Symbols = append(f.Symbols, symbol)
	f.Timestamps = append(f.Timestamps, ts)
	for _, c := range f.ColumnNames {
		v, ok := values[c]
		if !ok {
			v = NaN
		}
		f.Columns[c] = append(f.Columns[c], v)
	}
	f.index = nil
}

// SetAux appends one row's value to an auxiliary int64 series, creating it
// if absent. Callers must call this for every row to keep series aligned,
// or leave it unused entirely for series they don't track.
func (f *Frame) SetAux(name string, value int64) {
	f.AuxInt64[name] = append(f.AuxInt64[name], value)
}

// Sort orders rows by (symbol, timestamp) ascending, the canonical order
// every query and export operation relies on.
func (f *Frame) Sort() {
	n := f.Len()
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		a, b := idx[i], idx[j]
		if f.Symbols[a] != f.Symbols[b] {
			return f.Symbols[a] < f.Symbols[b]
		}
		return f.Timestamps[a] < f.Timestamps[b]
	})
	f.reorder(idx)
	f.index = nil
}

func (f *Frame) reorder(idx []int) {
	symbols := make([]string, len(idx))
	timestamps := make([]int64, len(idx))
	for i, j := range idx {
		symbols[i] = f.Symbols[j]
		timestamps[i] = f.Timestamps[j]
	}
	f.Symbols = symbols
	f.Timestamps = timestamps

	for name, col := range f.Columns {
		out := make([]float64, len(idx))
		for i, j := range idx {
			out[i] = col[j]
		}
		f.Columns[name] = out
	}
	for name, col := range f.AuxInt64 {
		if len(col) != len(idx) {
			continue
		}
		out := make([]int64, len(idx))
		for i, j := range idx {
			out[i] = col[j]
		}
		f.AuxInt64[name] = out
	}
}

// BuildIndex computes the symbol -> [start,end) row-range map, assuming
// rows are already sorted by (symbol, timestamp). Call after Sort (or after
// any construction path that is already known sorted, e.g. SQL
// `ORDER BY symbol, timestamp`).
func (f *Frame) BuildIndex() {
	idx := make(map[string][2]int)
	n := f.Len()
	i := 0
	for i < n {
		sym := f.Symbols[i]
		start := i
		for i < n && f.Symbols[i] == sym {
			i++
		}
		idx[sym] = [2]int{start, i}
	}
	f.index = idx
}

// SymbolRange returns the [start,end) row range for symbol, building the
// index lazily if needed.
func (f *Frame) SymbolRange(symbol string) (start, end int, ok bool) {
	if f.index == nil {
		f.BuildIndex()
	}
	r, ok := f.index[symbol]
	if !ok {
		return 0, 0, false
	}
	return r[0], r[1], true
}

// SymbolOrder returns the distinct symbols in the order they first appear
// among the rows (which, for a sorted frame, is lexicographic order).
func (f *Frame) SymbolOrder() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range f.Symbols {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Value returns column[row], or NaN if the column doesn't exist.
func (f *Frame) Value(column string, row int) float64 {
	col, ok := f.Columns[column]
	if !ok || row < 0 || row >= len(col) {
		return NaN
	}
	return col[row]
}

// HasColumn reports whether name is one of the frame's declared columns.
func (f *Frame) HasColumn(name string) bool {
	for _, c := range f.ColumnNames {
		if c == name {
			return true
		}
	}
	return false
}

// WithColumn returns a shallow copy of f with an additional declared
// column name (backfilled with NaN for existing rows), used when merging
// metrics columns onto a K-line frame during export.
func (f *Frame) WithColumn(name string) *Frame {
	if f.HasColumn(name) {
		return f
	}
	out := &Frame{
		ColumnNames: append(append([]string(nil), f.ColumnNames...), name),
		Symbols:     f.Symbols,
		Timestamps:  f.Timestamps,
		Columns:     make(map[string][]float64, len(f.Columns)+1),
		AuxInt64:    f.AuxInt64,
	}
	for k, v := range f.Columns {
		out.Columns[k] = v
	}
	filled := make([]float64, f.Len())
	for i := range filled {
		filled[i] = NaN
	}
	out.Columns[name] = filled
	return out
}

// RenameColumn renames a column in place (used by the field-mapping step in
// export and the ratio-type export-name renaming in the query layer).
func (f *Frame) RenameColumn(from, to string) {
	col, ok := f.Columns[from]
	if !ok {
		return
	}
	delete(f.Columns, from)
	f.Columns[to] = col
	for i, c := range f.ColumnNames {
		if c == from {
			f.ColumnNames[i] = to
		}
	}
}

// SetColumn replaces (or adds, declaring it) a column's full value slice.
// Used when merging an aligned metric's column onto an export frame whose
// declared columns were fixed at construction time.
func (f *Frame) SetColumn(name string, values []float64) {
	if !f.HasColumn(name) {
		f.ColumnNames = append(f.ColumnNames, name)
	}
	f.Columns[name] = values
}

// RemoveColumn drops a declared column entirely, used when a caller opts
// out of the K-line feature set but keeps its frame for metrics alignment.
func (f *Frame) RemoveColumn(name string) {
	delete(f.Columns, name)
	for i, c := range f.ColumnNames {
		if c == name {
			f.ColumnNames = append(f.ColumnNames[:i], f.ColumnNames[i+1:]...)
			break
		}
	}
}

// IsNaN reports whether v is the missing-value sentinel.
func IsNaN(v float64) bool { return math.IsNaN(v) }
