package table_test

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

func TestCompare(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b table.Value
		want int
	}{
		{"numbers", table.Num(1), table.Num(2), -1},
		{"equal numbers", table.Num(3), table.Num(3), 0},
		{"number before text", table.Num(100), table.Text("a"), -1},
		{"texts", table.Text("b"), table.Text("a"), 1},
		{"nan last", table.Num(math.NaN()), table.Num(math.Inf(1)), 1},
		{"nan equals nan", table.Num(math.NaN()), table.Num(math.NaN()), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, table.Compare(tt.a, tt.b))
		})
	}
}

func TestValue_MapKey(t *testing.T) {
	t.Parallel()

	counts := map[table.Value]int{}
	counts[table.Num(math.NaN())]++
	counts[table.Num(math.NaN())]++
	counts[table.Num(0)]++
	counts[table.Value{}]++
	counts[table.Text("0")]++

	assert.Equal(t, 2, counts[table.Num(math.NaN())])
	assert.Equal(t, 2, counts[table.Num(0)])
	assert.Equal(t, 1, counts[table.Text("0")])
	assert.True(t, math.IsNaN(table.Num(math.NaN()).Float()))
}

func TestValue_Conversions(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2.5", table.Num(2.5).String())
	assert.InDelta(t, 7.0, table.Text("7").Float(), 0)
	assert.True(t, math.IsNaN(table.Text("x").Float()))
	assert.True(t, table.Text("").IsText())
	assert.True(t, table.Value{}.IsNumeric())
}

func TestNew_LengthMismatch(t *testing.T) {
	t.Parallel()

	_, err := table.New(table.NewNumeric("a", 1, 2), table.NewNumeric("b", 1))
	require.ErrorIs(t, err, table.ErrLengthMismatch)

	_, err = table.New(table.NewNumeric("a", 1), table.NewNumeric("a", 2))
	require.ErrorIs(t, err, table.ErrDuplicateColumn)
}

func TestTable_AppendRowAndGet(t *testing.T) {
	t.Parallel()

	tbl := table.MustNew(table.NewText("k"), table.NewNumeric("v"), table.NewVariant("x"))

	require.NoError(t, tbl.AppendRow(table.Text("a"), table.Num(1), table.Num(2)))
	require.NoError(t, tbl.AppendRow(table.Text("b"), table.Text("3"), table.Text("c")))
	require.ErrorIs(t, tbl.AppendRow(table.Num(1)), table.ErrRowWidth)

	assert.Equal(t, 2, tbl.NumRows())

	v, err := tbl.Get(1, "v")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, v.Float(), 0)

	x, err := tbl.Get(1, "x")
	require.NoError(t, err)
	assert.True(t, x.IsText())

	_, err = tbl.Get(0, "missing")
	require.ErrorIs(t, err, table.ErrUnknownColumn)
}

func TestTable_Partition(t *testing.T) {
	t.Parallel()

	tbl := table.MustNew(table.NewNumeric("a", 1, 2, 3, 4, 5, 6, 7))
	shards := tbl.Partition(3)

	require.Len(t, shards, 3)
	assert.Equal(t, 3, shards[0].NumRows())
	assert.Equal(t, 2, shards[1].NumRows())
	assert.Equal(t, 2, shards[2].NumRows())

	col, ok := shards[2].Column("a")
	require.True(t, ok)
	assert.Equal(t, []float64{6, 7}, col.Floats())

	// Shards are copies.
	col.SetFloat(0, 100)

	orig, _ := tbl.Column("a")
	assert.InDelta(t, 6.0, orig.Float(5), 0)
}

func TestColumn_Resize(t *testing.T) {
	t.Parallel()

	col := table.NewNumeric("a", 1)
	col.Resize(3)

	assert.Equal(t, 3, col.Len())
	assert.True(t, math.IsNaN(col.Float(2)))

	col.Resize(1)
	assert.Equal(t, 1, col.Len())
}

func TestReadCSV_InfersKinds(t *testing.T) {
	t.Parallel()

	in := "A, B ,C\n1,x,2.5\n2,y,\n"

	tbl, err := table.ReadCSV(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, tbl.ColumnNames())

	a, _ := tbl.Column("A")
	b, _ := tbl.Column("B")
	c, _ := tbl.Column("C")

	assert.Equal(t, table.KindNumeric, a.Kind())
	assert.Equal(t, table.KindText, b.Kind())
	assert.Equal(t, table.KindNumeric, c.Kind())
	assert.True(t, math.IsNaN(c.Float(1)))

	var buf bytes.Buffer
	require.NoError(t, table.WriteCSV(&buf, tbl))
	assert.Equal(t, "A,B,C\n1,x,2.5\n2,y,NaN\n", buf.String())
}

func TestReadCSV_Empty(t *testing.T) {
	t.Parallel()

	_, err := table.ReadCSV(strings.NewReader(""))
	require.ErrorIs(t, err, table.ErrEmptyCSV)
}
