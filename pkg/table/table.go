package table

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrLengthMismatch  = errors.New("column length does not match table row count")
	ErrDuplicateColumn = errors.New("duplicate column name")
	ErrRowWidth        = errors.New("row width does not match column count")
	ErrUnknownColumn   = errors.New("unknown column")
)

// Table is an ordered set of same-length columns addressed by name.
type Table struct {
	index   map[string]int
	columns []*Column
}

// New builds a table from columns. All columns must have the same length and
// distinct names.
func New(columns ...*Column) (*Table, error) {
	t := &Table{index: make(map[string]int, len(columns))}

	for _, col := range columns {
		err := t.AddColumn(col)
		if err != nil {
			return nil, err
		}
	}

	return t, nil
}

// MustNew is New for literals in tests and fixed layouts. It panics on error.
func MustNew(columns ...*Column) *Table {
	t, err := New(columns...)
	if err != nil {
		panic(err)
	}

	return t
}

// AddColumn appends col. Its length must match the current row count unless the
// table has no columns yet.
func (t *Table) AddColumn(col *Column) error {
	if t.index == nil {
		t.index = make(map[string]int)
	}

	if _, ok := t.index[col.Name()]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateColumn, col.Name())
	}

	if len(t.columns) > 0 && col.Len() != t.NumRows() {
		return fmt.Errorf("%w: %q has %d rows, table has %d", ErrLengthMismatch, col.Name(), col.Len(), t.NumRows())
	}

	t.index[col.Name()] = len(t.columns)
	t.columns = append(t.columns, col)

	return nil
}

// Column returns the column with the given name.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}

	return t.columns[i], true
}

// ColumnAt returns the i-th column.
func (t *Table) ColumnAt(i int) *Column {
	return t.columns[i]
}

// Columns returns the columns in order. The slice must not be modified.
func (t *Table) Columns() []*Column {
	return t.columns
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, col := range t.columns {
		names[i] = col.Name()
	}

	return names
}

// NumColumns returns the column count.
func (t *Table) NumColumns() int {
	return len(t.columns)
}

// NumRows returns the row count.
func (t *Table) NumRows() int {
	if t == nil || len(t.columns) == 0 {
		return 0
	}

	return t.columns[0].Len()
}

// Row returns a snapshot of the i-th row.
func (t *Table) Row(i int) []Value {
	row := make([]Value, len(t.columns))
	for j, col := range t.columns {
		row[j] = col.Value(i)
	}

	return row
}

// AppendRow appends one value per column.
func (t *Table) AppendRow(vals ...Value) error {
	if len(vals) != len(t.columns) {
		return fmt.Errorf("%w: got %d values for %d columns", ErrRowWidth, len(vals), len(t.columns))
	}

	for j, col := range t.columns {
		col.Append(vals[j])
	}

	return nil
}

// Get returns the value at row i of the named column.
func (t *Table) Get(row int, name string) (Value, error) {
	col, ok := t.Column(name)
	if !ok {
		return Value{}, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
	}

	return col.Value(row), nil
}

// Set replaces the value at row i of the named column.
func (t *Table) Set(row int, name string, v Value) error {
	col, ok := t.Column(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, name)
	}

	col.Set(row, v)

	return nil
}

// Slice returns a deep copy of rows [lo, hi).
func (t *Table) Slice(lo, hi int) *Table {
	out := &Table{index: make(map[string]int, len(t.columns))}

	for _, col := range t.columns {
		out.index[col.Name()] = len(out.columns)
		out.columns = append(out.columns, col.slice(lo, hi))
	}

	return out
}

// Partition splits the rows into n contiguous shards whose sizes differ by at most one.
func (t *Table) Partition(n int) []*Table {
	if n < 1 {
		n = 1
	}

	rows := t.NumRows()
	shards := make([]*Table, 0, n)
	lo := 0

	for i := range n {
		size := rows / n
		if i < rows%n {
			size++
		}

		shards = append(shards, t.Slice(lo, lo+size))
		lo += size
	}

	return shards
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	return t.Slice(0, t.NumRows())
}
