package autocorrelative_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/parstat/pkg/model"
	"github.com/Sumatoshi-tech/parstat/pkg/pipeline"
	"github.com/Sumatoshi-tech/parstat/pkg/stats"
	"github.com/Sumatoshi-tech/parstat/pkg/stats/autocorrelative"
	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

// series holds three slices of three rows each.
func series() *table.Table {
	return table.MustNew(
		table.NewNumeric("x", 1, 2, 3, 2, 4, 6, 3, 5, 7),
		table.NewNumeric("y", 1, 2, 3, 3, 1, 2, 5, 5, 5),
	)
}

func estimator(lags ...int) *autocorrelative.Estimator {
	est := autocorrelative.New()
	est.SliceCardinality = 3
	est.TimeLags = lags

	return est
}

func column(t *testing.T, tbl *table.Table, name string) []float64 {
	t.Helper()

	col, ok := tbl.Column(name)
	require.True(t, ok, name)

	return col.Floats()
}

func TestAutocorrelative_Learn(t *testing.T) {
	t.Parallel()

	m, err := estimator(0, 1, 2).Learn(series(), []stats.Request{{"x"}, {"y"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, m.Names())

	x, _ := m.Block("x")
	assert.Equal(t, []float64{0, 1, 2}, column(t, x, "Time Lag"))
	assert.Equal(t, []float64{3, 3, 3}, column(t, x, "Cardinality"))
	assert.InDeltaSlice(t, []float64{2, 2, 2}, column(t, x, "Mean Xs"), 1e-12)
	assert.InDeltaSlice(t, []float64{2, 4, 5}, column(t, x, "Mean Xt"), 1e-12)
	assert.InDeltaSlice(t, []float64{2, 2, 2}, column(t, x, "M2 Xs"), 1e-12)
	assert.InDeltaSlice(t, []float64{2, 8, 8}, column(t, x, "M2 Xt"), 1e-12)
	assert.InDeltaSlice(t, []float64{2, 4, 4}, column(t, x, "M XsXt"), 1e-12)

	y, _ := m.Block("y")
	assert.InDeltaSlice(t, []float64{2, 2, 5}, column(t, y, "Mean Xt"), 1e-12)
	assert.InDeltaSlice(t, []float64{2, -1, 0}, column(t, y, "M XsXt"), 1e-12)
}

func TestAutocorrelative_Derive(t *testing.T) {
	t.Parallel()

	est := estimator(0, 1, 2)

	m, err := est.Learn(series(), []stats.Request{{"x", "y"}})
	require.NoError(t, err)
	require.NoError(t, est.Derive(m))
	assert.Equal(t, []string{"x", "y", autocorrelative.BlockFFT}, m.Names())

	x, _ := m.Block("x")
	assert.InDeltaSlice(t, []float64{1, 1, 1}, column(t, x, "Variance Xs"), 1e-12)
	assert.InDeltaSlice(t, []float64{1, 4, 4}, column(t, x, "Variance Xt"), 1e-12)
	assert.InDeltaSlice(t, []float64{1, 2, 2}, column(t, x, "Covariance"), 1e-12)
	assert.InDeltaSlice(t, []float64{0, 0, 0}, column(t, x, "Determinant"), 1e-12)
	assert.InDeltaSlice(t, []float64{1, 2, 2}, column(t, x, "Slope Xt/Xs"), 1e-12)
	assert.InDeltaSlice(t, []float64{0, 0, 1}, column(t, x, "Intercept Xt/Xs"), 1e-12)
	assert.InDeltaSlice(t, []float64{1, 0.5, 0.5}, column(t, x, "Slope Xs/Xt"), 1e-12)
	assert.InDeltaSlice(t, []float64{0, 0, -0.5}, column(t, x, "Intercept Xs/Xt"), 1e-12)
	assert.InDeltaSlice(t, []float64{1, 1, 1}, column(t, x, "Autocorrelation"), 1e-12)

	y, _ := m.Block("y")
	autocorr := column(t, y, "Autocorrelation")
	assert.InDelta(t, -0.5, autocorr[1], 1e-12)
	assert.True(t, math.IsNaN(autocorr[2]), "constant lagged slice")
	assert.True(t, math.IsNaN(column(t, y, "Slope Xs/Xt")[2]))
	assert.InDelta(t, 0.0, column(t, y, "Slope Xt/Xs")[2], 1e-12)

	fft, _ := m.Block(autocorrelative.BlockFFT)
	assert.Equal(t, []string{"x", "y"}, fft.ColumnNames())
	assert.InDeltaSlice(t, []float64{3, 0, 0}, column(t, fft, "x"), 1e-12)

	// Derive again replaces its own output.
	require.NoError(t, est.Derive(m))
	assert.Equal(t, []string{"x", "y", autocorrelative.BlockFFT}, m.Names())
	assert.Equal(t, 16, x.NumColumns())
}

func TestAutocorrelative_LearnErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		slice int
		lags  []int
		want  error
	}{
		{"no slice cardinality", 0, []int{1}, autocorrelative.ErrNoSliceCardinality},
		{"partial slice", 4, []int{1}, autocorrelative.ErrSliceMismatch},
		{"lag past data", 3, []int{3}, autocorrelative.ErrSliceMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			est := autocorrelative.New()
			est.SliceCardinality, est.TimeLags = tt.slice, tt.lags

			m, err := est.Learn(series(), []stats.Request{{"x"}})
			require.ErrorIs(t, err, tt.want)
			require.NotNil(t, m)
			assert.True(t, m.Empty())
		})
	}
}

func TestAutocorrelative_SkipsText(t *testing.T) {
	t.Parallel()

	data := series()
	require.NoError(t, data.AddColumn(table.NewText("s", "a", "b", "c", "d", "e", "f", "g", "h", "i")))

	m, err := estimator(1).Learn(data, []stats.Request{{"s"}, {"x"}, {"missing"}})
	require.ErrorIs(t, err, stats.ErrBadRequest)
	require.ErrorIs(t, err, stats.ErrUnknownColumn)
	assert.Equal(t, []string{"x"}, m.Names())
}

// pooled returns the mean, M2 and co-moment of the concatenated pairs.
func pooled(xs, xt []float64) (float64, float64, float64, float64, float64) {
	n := float64(len(xs))

	var ms, mt float64

	for i := range xs {
		ms += xs[i] / n
		mt += xt[i] / n
	}

	var m2s, m2t, mst float64

	for i := range xs {
		m2s += (xs[i] - ms) * (xs[i] - ms)
		m2t += (xt[i] - mt) * (xt[i] - mt)
		mst += (xs[i] - ms) * (xt[i] - mt)
	}

	return ms, mt, m2s, m2t, mst
}

func TestAutocorrelative_Aggregate(t *testing.T) {
	t.Parallel()

	est := estimator(1)
	first := table.MustNew(table.NewNumeric("x", 1, 2, 3, 2, 4, 6))
	second := table.MustNew(table.NewNumeric("x", 9, 7, 8, 1, 1, 4))

	m1, err := est.Learn(first, []stats.Request{{"x"}})
	require.NoError(t, err)

	m2, err := est.Learn(second, []stats.Request{{"x"}})
	require.NoError(t, err)

	merged, err := est.Aggregate([]*model.Model{m1, m2})
	require.NoError(t, err)

	ms, mt, m2s, m2t, mst := pooled([]float64{1, 2, 3, 9, 7, 8}, []float64{2, 4, 6, 1, 1, 4})

	x, _ := merged.Block("x")
	assert.InDelta(t, 6.0, column(t, x, "Cardinality")[0], 0)
	assert.InDelta(t, ms, column(t, x, "Mean Xs")[0], 1e-12)
	assert.InDelta(t, mt, column(t, x, "Mean Xt")[0], 1e-12)
	assert.InDelta(t, m2s, column(t, x, "M2 Xs")[0], 1e-12)
	assert.InDelta(t, m2t, column(t, x, "M2 Xt")[0], 1e-12)
	assert.InDelta(t, mst, column(t, x, "M XsXt")[0], 1e-12)

	reversed, err := est.Aggregate([]*model.Model{m2, m1})
	require.NoError(t, err)

	r, _ := reversed.Block("x")
	assert.InDelta(t, column(t, x, "M XsXt")[0], column(t, r, "M XsXt")[0], 1e-12)
}

func TestAutocorrelative_AggregateShapeMismatch(t *testing.T) {
	t.Parallel()

	a, err := estimator(1).Learn(series(), []stats.Request{{"x"}})
	require.NoError(t, err)

	b, err := estimator(2).Learn(series(), []stats.Request{{"x"}})
	require.NoError(t, err)

	c, err := estimator(1).Learn(series(), []stats.Request{{"y"}})
	require.NoError(t, err)

	_, err = estimator(1).Aggregate([]*model.Model{a, b})
	require.ErrorIs(t, err, stats.ErrShapeMismatch)

	_, err = estimator(1).Aggregate([]*model.Model{a, c})
	require.ErrorIs(t, err, stats.ErrShapeMismatch)

	_, err = estimator(1).Aggregate([]*model.Model{a, model.New(autocorrelative.Name)})
	require.ErrorIs(t, err, stats.ErrShapeMismatch)
}

func TestAutocorrelative_FFTFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	est := estimator(1)
	est.FFT = func(*table.Table) (*table.Table, error) { return nil, boom }

	m, err := est.Learn(series(), []stats.Request{{"x"}})
	require.NoError(t, err)
	require.ErrorIs(t, est.Derive(m), boom)

	_, ok := m.Block(autocorrelative.BlockFFT)
	assert.False(t, ok)

	x, _ := m.Block("x")
	assert.InDeltaSlice(t, []float64{1}, column(t, x, "Autocorrelation"), 1e-12)
}

func TestAutocorrelative_NoAssessOrTest(t *testing.T) {
	t.Parallel()

	est := estimator(1)

	_, err := est.SelectAssessFunctor(series(), model.New(autocorrelative.Name), stats.Request{"x"})
	require.ErrorIs(t, err, stats.ErrNotSupported)

	_, err = est.Test(series(), model.New(autocorrelative.Name), nil, nil)
	require.ErrorIs(t, err, stats.ErrNotSupported)
}

func TestAutocorrelative_Configure(t *testing.T) {
	t.Parallel()

	est := autocorrelative.New()
	require.NoError(t, est.Configure(pipeline.Facts{
		autocorrelative.ConfigSliceCardinality: 5,
		autocorrelative.ConfigTimeLags:         []any{2, -1, 4},
	}))

	assert.Equal(t, 5, est.SliceCardinality)
	assert.Equal(t, []int{2, 4}, est.TimeLags)

	require.NoError(t, est.Configure(pipeline.Facts{autocorrelative.ConfigTimeLags: []int{-3}}))
	assert.Equal(t, []int{1}, est.TimeLags)
}

func TestGonumFFT(t *testing.T) {
	t.Parallel()

	in := table.MustNew(
		table.NewNumeric("impulse", 1, 0, 0, 0),
		table.NewNumeric("constant", 1, 1, 1, 1),
	)

	out, err := autocorrelative.GonumFFT(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"impulse", "constant"}, out.ColumnNames())
	assert.InDeltaSlice(t, []float64{1, 1, 1, 1}, column(t, out, "impulse"), 1e-12)
	assert.InDeltaSlice(t, []float64{4, 0, 0, 0}, column(t, out, "constant"), 1e-12)

	_, err = autocorrelative.GonumFFT(table.MustNew(table.NewText("s", "a")))
	require.ErrorIs(t, err, stats.ErrBadRequest)

	empty, err := autocorrelative.GonumFFT(table.MustNew(table.NewNumeric("e")))
	require.NoError(t, err)
	assert.Equal(t, 0, empty.NumRows())
}
