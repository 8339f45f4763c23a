package multicorrelative_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/parstat/pkg/model"
	"github.com/Sumatoshi-tech/parstat/pkg/stats"
	"github.com/Sumatoshi-tech/parstat/pkg/stats/multicorrelative"
	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

func sample() *table.Table {
	return table.MustNew(
		table.NewNumeric("x", 1, 2, 3, 4, 5),
		table.NewNumeric("y", 2, 4, 5, 4, 5),
		table.NewText("label", "a", "b", "c", "d", "e"),
	)
}

func floats(t *testing.T, block *table.Table, name string) []float64 {
	t.Helper()

	col, ok := block.Column(name)
	require.True(t, ok, name)

	return col.Floats()
}

func TestMulticorrelative_LearnLayout(t *testing.T) {
	t.Parallel()

	m, err := multicorrelative.New().Learn(sample(), []stats.Request{{"y", "x"}, {"x"}})
	require.NoError(t, err)
	assert.Equal(t, []string{multicorrelative.BlockCovariance, multicorrelative.BlockRequests}, m.Names())

	cov, _ := m.Block(multicorrelative.BlockCovariance)
	c1, _ := cov.Column("Column1")
	c2, _ := cov.Column("Column2")

	assert.Equal(t, []string{"Cardinality", "x", "y", "x", "x", "y"}, c1.Texts())
	assert.Equal(t, []string{"", "", "", "x", "y", "y"}, c2.Texts())
	assert.InDeltaSlice(t, []float64{5, 3, 4, 10, 6, 6}, floats(t, cov, "Entries"), 1e-12)
}

func TestMulticorrelative_Derive(t *testing.T) {
	t.Parallel()

	est := multicorrelative.New()

	m, err := est.Learn(sample(), []stats.Request{{"x", "y"}, {"x"}})
	require.NoError(t, err)
	require.NoError(t, est.Derive(m))

	assert.Equal(t, []string{
		multicorrelative.BlockCovariance, multicorrelative.BlockRequests, "Cov(x)", "Cov(x,y)",
	}, m.Names())

	block, err := m.MustBlock("Cov(x,y)")
	require.NoError(t, err)

	names, _ := block.Column("Column")
	assert.Equal(t, []string{"x", "y", "Cholesky"}, names.Texts())
	assert.Equal(t, []float64{3, 4, 5}, floats(t, block, "Mean"))

	l11 := math.Sqrt(2.5)
	l21 := 1.5 / l11
	l22 := math.Sqrt(1.5 - l21*l21)

	assert.InDeltaSlice(t, []float64{2.5, l11, l21}, floats(t, block, "x"), 1e-12)
	assert.InDeltaSlice(t, []float64{1.5, 1.5, l22}, floats(t, block, "y"), 1e-12)

	c, err := multicorrelative.ReadCovariance(block)
	require.NoError(t, err)
	require.NotNil(t, c.Factor)
	assert.InDelta(t, 1.5, c.Matrix.At(1, 0), 1e-12)
	assert.InDelta(t, 5.0, c.N, 0)

	require.NoError(t, est.Derive(m))
	assert.Equal(t, 4, m.NumBlocks())
}

func TestMulticorrelative_NotPositiveDefinite(t *testing.T) {
	t.Parallel()

	est := multicorrelative.New()
	data := table.MustNew(table.NewNumeric("x", 1, 2, 3), table.NewNumeric("y", 7, 7, 7))

	m, err := est.Learn(data, []stats.Request{{"x", "y"}})
	require.NoError(t, err)

	err = est.Derive(m)
	require.ErrorIs(t, err, stats.ErrNotPositiveDefinite)

	block, err := m.MustBlock("Cov(x,y)")
	require.NoError(t, err)

	y := floats(t, block, "y")
	assert.InDelta(t, 0.0, y[1], 0)
	assert.True(t, math.IsNaN(y[2]))

	_, err = est.SelectAssessFunctor(data, m, stats.Request{"x", "y"})
	require.ErrorIs(t, err, stats.ErrNotPositiveDefinite)
}

func TestMulticorrelative_AggregateMatchesSerial(t *testing.T) {
	t.Parallel()

	est := multicorrelative.New()
	data := sample()
	reqs := []stats.Request{{"x", "y"}}

	serial, err := est.Learn(data, reqs)
	require.NoError(t, err)

	shards := data.Partition(3)
	models := make([]*model.Model, 0, len(shards))

	for _, shard := range shards {
		m, learnErr := est.Learn(shard, reqs)
		require.NoError(t, learnErr)

		models = append(models, m)
	}

	merged, err := est.Aggregate(models)
	require.NoError(t, err)

	want, _ := serial.Block(multicorrelative.BlockCovariance)
	got, _ := merged.Block(multicorrelative.BlockCovariance)
	assert.InDeltaSlice(t, floats(t, want, "Entries"), floats(t, got, "Entries"), 1e-9)

	reversed, err := est.Aggregate([]*model.Model{models[2], models[0], models[1]})
	require.NoError(t, err)

	rev, _ := reversed.Block(multicorrelative.BlockCovariance)
	assert.InDeltaSlice(t, floats(t, got, "Entries"), floats(t, rev, "Entries"), 1e-9)
}

func TestMulticorrelative_AggregateShapeMismatch(t *testing.T) {
	t.Parallel()

	est := multicorrelative.New()

	a, err := est.Learn(sample(), []stats.Request{{"x", "y"}})
	require.NoError(t, err)

	b, err := est.Learn(sample(), []stats.Request{{"x"}})
	require.NoError(t, err)

	_, err = est.Aggregate([]*model.Model{a, b})
	require.ErrorIs(t, err, stats.ErrShapeMismatch)
}

func TestMulticorrelative_LearnSkipsBadRequests(t *testing.T) {
	t.Parallel()

	m, err := multicorrelative.New().Learn(sample(), []stats.Request{{"x", "label"}, {"missing"}, {"y"}})
	require.ErrorIs(t, err, stats.ErrBadRequest)
	require.ErrorIs(t, err, stats.ErrUnknownColumn)

	reqs, _ := m.Block(multicorrelative.BlockRequests)
	assert.Equal(t, 1, reqs.NumRows())
}

func TestMulticorrelative_Mahalanobis(t *testing.T) {
	t.Parallel()

	est := multicorrelative.New()
	data := sample()

	m, err := est.Learn(data, []stats.Request{{"x", "y"}})
	require.NoError(t, err)
	require.NoError(t, est.Derive(m))

	out, err := stats.Assess(data, m, est, []stats.Request{{"y", "x"}})
	require.NoError(t, err)

	d2, ok := out.Column("d^2(x,y)")
	require.True(t, ok)

	// The inverse covariance is [[1, -1], [-1, 5/3]].
	assert.InDelta(t, 8.0/3, d2.Float(0), 1e-9)
	assert.InDelta(t, 5.0/3, d2.Float(2), 1e-9)
	assert.InDelta(t, 5.0/3, d2.Float(4), 1e-9)
}

func TestMulticorrelative_NoTest(t *testing.T) {
	t.Parallel()

	_, err := multicorrelative.New().Test(sample(), model.New(multicorrelative.Name), nil, nil)
	require.ErrorIs(t, err, stats.ErrNotSupported)
}
