package pca_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/parstat/pkg/model"
	"github.com/Sumatoshi-tech/parstat/pkg/pipeline"
	"github.com/Sumatoshi-tech/parstat/pkg/stats"
	"github.com/Sumatoshi-tech/parstat/pkg/stats/multicorrelative"
	"github.com/Sumatoshi-tech/parstat/pkg/stats/pca"
	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

func sample() *table.Table {
	return table.MustNew(
		table.NewNumeric("x", 1, 2, 3, 4, 5),
		table.NewNumeric("y", 2, 4, 5, 4, 5),
	)
}

func derived(t *testing.T, est *pca.Estimator, data *table.Table, req stats.Request) *model.Model {
	t.Helper()

	m, err := est.Learn(data, []stats.Request{req})
	require.NoError(t, err)
	require.NoError(t, est.Derive(m))

	return m
}

// rowValues returns the Mean entry and the variable entries of block row r.
func rowValues(block *table.Table, r int) (string, float64, []float64) {
	names, _ := block.Column(multicorrelative.ColColumn)
	means, _ := block.Column(multicorrelative.ColMean)

	vals := make([]float64, block.NumColumns()-2)
	for j := range vals {
		vals[j] = block.ColumnAt(j + 2).Float(r)
	}

	return names.Text(r), means.Float(r), vals
}

func unit(v ...float64) []float64 {
	n := 0.0
	for _, x := range v {
		n += x * x
	}

	n = math.Sqrt(n)
	for i := range v {
		v[i] /= n
	}

	return v
}

func TestPCA_DeriveComponents(t *testing.T) {
	t.Parallel()

	m := derived(t, pca.New(), sample(), stats.Request{"x", "y"})

	block, err := m.MustBlock("Cov(x,y)")
	require.NoError(t, err)
	require.Equal(t, 5, block.NumRows())

	l1 := 2 + math.Sqrt(2.5)
	l2 := 2 - math.Sqrt(2.5)

	name, value, vec := rowValues(block, 3)
	assert.Equal(t, "PCA 0", name)
	assert.InDelta(t, l1, value, 1e-12)
	assert.InDeltaSlice(t, unit(1.5, l1-2.5), vec, 1e-9)

	name, value, vec = rowValues(block, 4)
	assert.Equal(t, "PCA 1", name)
	assert.InDelta(t, l2, value, 1e-12)
	assert.InDeltaSlice(t, unit(1.5, l2-2.5), vec, 1e-9)
}

func TestPCA_EigenInvariants(t *testing.T) {
	t.Parallel()

	data := table.MustNew(
		table.NewNumeric("a", 2.1, 3.4, 1.9, 5.6, 4.4, 3.3, 2.8, 6.1),
		table.NewNumeric("b", 1.0, 0.4, 2.2, 1.7, 3.9, 2.5, 0.8, 1.1),
		table.NewNumeric("c", 7.5, 6.1, 8.8, 5.0, 6.6, 7.7, 9.1, 4.2),
	)

	m := derived(t, pca.New(), data, stats.Request{"a", "b", "c"})
	block, err := m.MustBlock("Cov(a,b,c)")
	require.NoError(t, err)

	vectors := make([][]float64, 3)
	prev := math.Inf(1)

	for i := range 3 {
		_, value, vec := rowValues(block, 4+i)
		assert.LessOrEqual(t, value, prev)

		prev = value
		vectors[i] = vec
	}

	for i := range 3 {
		for j := range 3 {
			dot := 0.0
			for k := range 3 {
				dot += vectors[i][k] * vectors[j][k]
			}

			want := 0.0
			if i == j {
				want = 1
			}

			assert.InDelta(t, want, dot, 1e-9, "v%d.v%d", i, j)
		}
	}
}

func TestPCA_DiagonalVariance(t *testing.T) {
	t.Parallel()

	est := pca.New()
	est.Normalization = pca.DiagonalVariance

	m := derived(t, est, sample(), stats.Request{"x", "y"})
	block, _ := m.Block("Cov(x,y)")
	require.Equal(t, 6, block.NumRows())

	r := 1.5 / math.Sqrt(2.5*1.5)

	_, value, vec := rowValues(block, 3)
	assert.InDelta(t, 1+r, value, 1e-12)
	assert.InDeltaSlice(t, unit(1, 1), vec, 1e-9)

	_, value, vec = rowValues(block, 4)
	assert.InDelta(t, 1-r, value, 1e-12)
	assert.InDelta(t, -vec[0], vec[1], 1e-9)

	name, value, vec := rowValues(block, 5)
	assert.Equal(t, "PCA Cov Norm", name)
	assert.InDelta(t, 0.0, value, 0)
	assert.InDeltaSlice(t, []float64{2.5, 1.5}, vec, 1e-12)
}

func normalization(rows ...[3]any) *table.Table {
	tbl := table.MustNew(table.NewText("A"), table.NewText("B"), table.NewNumeric("Factor"))
	for _, r := range rows {
		_ = tbl.AppendRow(table.Text(r[0].(string)), table.Text(r[1].(string)), table.Num(r[2].(float64)))
	}

	return tbl
}

func TestPCA_DiagonalSpecifiedMissingFactor(t *testing.T) {
	t.Parallel()

	est := pca.New()
	est.Normalization = pca.DiagonalSpecified
	est.SpecifiedNormalization = normalization([3]any{"x", "x", 4.0})

	m := derived(t, est, sample(), stats.Request{"x", "y"})

	block, _ := m.Block("Cov(x,y)")
	name, _, vec := rowValues(block, 5)
	assert.Equal(t, "PCA Cov Norm", name)
	assert.InDeltaSlice(t, []float64{4, 1}, vec, 0)

	// Normalized matrix [[2.5/4, 1.5/2], [1.5/2, 1.5]].
	a, b, d := 0.625, 0.75, 1.5
	tr, det := a+d, a*d-b*b

	_, value, _ := rowValues(block, 3)
	assert.InDelta(t, tr/2+math.Sqrt(tr*tr/4-det), value, 1e-12)

	missing, err := m.MustBlock(pca.BlockMissingNormalization)
	require.NoError(t, err)
	require.Equal(t, 1, missing.NumRows())

	v, err := missing.Get(0, "Column1")
	require.NoError(t, err)
	assert.Equal(t, "y", v.String())

	v, err = missing.Get(0, "Block")
	require.NoError(t, err)
	assert.Equal(t, "Cov(x,y)", v.String())
}

func TestPCA_TriangleSpecified(t *testing.T) {
	t.Parallel()

	est := pca.New()
	est.Normalization = pca.TriangleSpecified
	est.SpecifiedNormalization = normalization(
		[3]any{"x", "x", 2.0},
		[3]any{"y", "x", 3.0},
		[3]any{"y", "y", 1.5},
	)

	m := derived(t, est, sample(), stats.Request{"x", "y"})
	_, ok := m.Block(pca.BlockMissingNormalization)
	assert.False(t, ok)

	block, _ := m.Block("Cov(x,y)")
	require.Equal(t, 7, block.NumRows())

	name, _, vec := rowValues(block, 5)
	assert.Equal(t, "PCA Cov Norm 0", name)
	assert.InDeltaSlice(t, []float64{2, 3}, vec, 0)

	name, _, vec = rowValues(block, 6)
	assert.Equal(t, "PCA Cov Norm 1", name)
	assert.InDeltaSlice(t, []float64{0, 1.5}, vec, 0)

	_, value, _ := rowValues(block, 3)
	assert.InDelta(t, 1.125+math.Sqrt(1.125*1.125-1), value, 1e-12)
}

func TestPCA_Assess(t *testing.T) {
	t.Parallel()

	l1 := 2 + math.Sqrt(2.5)
	l2 := 2 - math.Sqrt(2.5)
	v1 := unit(1.5, l1-2.5)
	v2 := unit(1.5, l2-2.5)

	tests := []struct {
		name    string
		scheme  pca.BasisScheme
		size    int
		energy  float64
		columns []string
	}{
		{"full", pca.FullBasis, 0, 1, []string{"PCA(x,y){0}", "PCA(x,y){1}"}},
		{"fixed size", pca.FixedBasisSize, 1, 1, []string{"PCA(x,y){0}"}},
		{"oversized", pca.FixedBasisSize, 7, 1, []string{"PCA(x,y){0}", "PCA(x,y){1}"}},
		{"low energy", pca.FixedBasisEnergy, 0, 0.5, []string{"PCA(x,y){0}"}},
		{"high energy", pca.FixedBasisEnergy, 0, 0.95, []string{"PCA(x,y){0}", "PCA(x,y){1}"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			est := pca.New()
			est.Basis, est.FixedBasisSize, est.FixedBasisEnergy = tt.scheme, tt.size, tt.energy

			data := sample()
			m := derived(t, est, data, stats.Request{"x", "y"})

			fn, err := est.SelectAssessFunctor(data, m, stats.Request{"y", "x"})
			require.NoError(t, err)
			assert.Equal(t, tt.columns, fn.Columns())

			dst := make([]float64, len(tt.columns))
			fn.Assess(0, dst)

			// Row 0 centred is (-2, -2).
			assert.InDelta(t, -2*(v1[0]+v1[1]), dst[0], 1e-9)

			if len(dst) > 1 {
				assert.InDelta(t, -2*(v2[0]+v2[1]), dst[1], 1e-9)
			}
		})
	}
}

func TestPCA_AggregateMatchesSerial(t *testing.T) {
	t.Parallel()

	est := pca.New()
	data := sample()
	req := []stats.Request{{"x", "y"}}

	var parts []*model.Model

	for _, shard := range data.Partition(3) {
		m, err := est.Learn(shard, req)
		require.NoError(t, err)

		parts = append(parts, m)
	}

	merged, err := est.Aggregate(parts)
	require.NoError(t, err)
	assert.Equal(t, pca.Name, merged.Estimator())
	require.NoError(t, est.Derive(merged))

	serial := derived(t, est, data, req[0])

	got, _ := merged.Block("Cov(x,y)")
	want, _ := serial.Block("Cov(x,y)")

	for r := range want.NumRows() {
		_, wm, wv := rowValues(want, r)
		_, gm, gv := rowValues(got, r)
		assert.InDelta(t, wm, gm, 1e-9)
		assert.InDeltaSlice(t, wv, gv, 1e-9)
	}
}

func TestPCA_Test(t *testing.T) {
	t.Parallel()

	est := pca.New()
	data := sample()
	m := derived(t, est, data, stats.Request{"x", "y"})

	out, err := est.Test(data, m, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, out.NumRows())

	block, _ := m.Block("Cov(x,y)")
	_, w1, p1 := rowValues(block, 3)
	_, w2, p2 := rowValues(block, 4)

	xs, _ := data.Column("x")
	ys, _ := data.Column("y")

	var s3, s4 [2]float64

	for r := range 5 {
		cx, cy := xs.Float(r)-3, ys.Float(r)-4

		for i, p := range [][]float64{p1, p2} {
			tv := p[0]*cx + p[1]*cy
			s3[i] += tv * tv * tv
			s4[i] += tv * tv * tv * tv
		}
	}

	bS1 := (s3[0]*s3[0]/(w1*w1*w1) + s3[1]*s3[1]/(w2*w2*w2)) / (25 * 2)
	bS2 := (s4[0]/(w1*w1) + s4[1]/(w2*w2)) / (5 * 2)
	jbs := 10 * (bS1/6 + (bS2-3)*(bS2-3)/24)

	row := out.Row(0)
	assert.Equal(t, "Cov(x,y)", row[0].String())
	assert.InDelta(t, bS1, row[1].Float(), 1e-9)
	assert.InDelta(t, bS2, row[2].Float(), 1e-9)
	assert.InDelta(t, jbs, row[3].Float(), 1e-9)
	assert.InDelta(t, 3.0, row[4].Float(), 0)
	assert.InDelta(t, stats.NoPValue, row[5].Float(), 0)
}

func TestPCA_TestMomentsSumAcrossShards(t *testing.T) {
	t.Parallel()

	est := pca.New()
	data := sample()
	m := derived(t, est, data, stats.Request{"x", "y"})

	serial, err := est.Test(data, m, nil, nil)
	require.NoError(t, err)

	var sum []float64

	for _, shard := range data.Partition(2) {
		mom, momErr := est.TestMoments(shard, m, nil)
		require.NoError(t, momErr)

		if sum == nil {
			sum = make([]float64, len(mom))
		}

		for i := range mom {
			sum[i] += mom[i]
		}
	}

	combined, err := est.TestFromMoments(m, nil, sum, nil)
	require.NoError(t, err)

	want := serial.Row(0)
	got := combined.Row(0)

	for i := 1; i < len(want); i++ {
		assert.InDelta(t, want[i].Float(), got[i].Float(), 1e-9)
	}

	// A single shard does not match the model cardinality.
	shard := data.Partition(2)[0]
	out, err := est.Test(shard, m, nil, nil)
	require.ErrorIs(t, err, stats.ErrInconsistentModel)
	assert.Equal(t, 0, out.NumRows())

	_, err = est.TestFromMoments(m, nil, sum[:2], nil)
	require.ErrorIs(t, err, stats.ErrShapeMismatch)
}

func TestPCA_SingularCovariance(t *testing.T) {
	t.Parallel()

	data := table.MustNew(
		table.NewNumeric("x", 1, 2, 3, 4, 5),
		table.NewNumeric("y", 1, 1, 1, 1, 1),
	)

	est := pca.New()

	m, err := est.Learn(data, []stats.Request{{"x", "y"}})
	require.NoError(t, err)
	require.ErrorIs(t, est.Derive(m), stats.ErrNotPositiveDefinite)

	block, _ := m.Block("Cov(x,y)")
	_, value, vec := rowValues(block, 3)
	assert.InDelta(t, 2.5, value, 1e-12)
	assert.InDeltaSlice(t, []float64{1, 0}, vec, 1e-12)

	_, value, _ = rowValues(block, 4)
	assert.InDelta(t, 0.0, value, 1e-12)

	out, err := est.Test(data, m, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, out.NumRows())
}

func TestPCA_ZeroVarianceNormalization(t *testing.T) {
	t.Parallel()

	data := table.MustNew(
		table.NewNumeric("x", 1, 2, 3, 4, 5),
		table.NewNumeric("y", 1, 1, 1, 1, 1),
	)

	est := pca.New()
	est.Normalization = pca.DiagonalVariance

	m, err := est.Learn(data, []stats.Request{{"x", "y"}})
	require.NoError(t, err)
	require.ErrorIs(t, est.Derive(m), pca.ErrNoEigenbasis)

	_, err = est.SelectAssessFunctor(data, m, stats.Request{"x", "y"})
	require.ErrorIs(t, err, pca.ErrNoEigenbasis)
}

func TestPCA_DeriveWithoutPrimary(t *testing.T) {
	t.Parallel()

	m := model.New(pca.Name)
	require.NoError(t, pca.New().Derive(m))
	assert.True(t, m.Empty())
}

func TestPCA_Configure(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "norm.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b,factor\nx,x,4\ny,y,9\n"), 0o600))

	est := pca.New()
	err := est.Configure(pipeline.Facts{
		pca.ConfigNormalizationScheme:    "DiagonalSpecified",
		pca.ConfigSpecifiedNormalization: path,
		pca.ConfigBasisScheme:            "Sideways",
		pca.ConfigFixedBasisSize:         -3,
		pca.ConfigFixedBasisEnergy:       2.0,
	})
	require.NoError(t, err)

	assert.Equal(t, pca.DiagonalSpecified, est.Normalization)
	assert.Equal(t, pca.FullBasis, est.Basis)
	assert.Equal(t, 0, est.FixedBasisSize)
	assert.InDelta(t, pca.DefaultFixedBasisEnergy, est.FixedBasisEnergy, 0)
	require.NotNil(t, est.SpecifiedNormalization)
	assert.Equal(t, 2, est.SpecifiedNormalization.NumRows())

	bad := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("a,b\nx,y\n"), 0o600))

	err = pca.New().Configure(pipeline.Facts{pca.ConfigSpecifiedNormalization: bad})
	require.ErrorIs(t, err, pca.ErrBadNormalization)
}

func TestSchemes_String(t *testing.T) {
	t.Parallel()

	for _, s := range []pca.NormalizationScheme{pca.None, pca.TriangleSpecified, pca.DiagonalSpecified, pca.DiagonalVariance} {
		got, ok := pca.ParseNormalizationScheme(s.String())
		require.True(t, ok)
		assert.Equal(t, s, got)
	}

	for _, s := range []pca.BasisScheme{pca.FullBasis, pca.FixedBasisSize, pca.FixedBasisEnergy} {
		got, ok := pca.ParseBasisScheme(s.String())
		require.True(t, ok)
		assert.Equal(t, s, got)
	}

	assert.Equal(t, "BasisScheme(9)", pca.BasisScheme(9).String())
}
