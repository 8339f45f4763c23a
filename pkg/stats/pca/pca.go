// Package pca implements principal component analysis on top of the
// multi-correlative covariance model: optional normalization, a symmetric
// eigendecomposition per request, projections onto a truncated basis and the
// Jarque-Bera-Srivastava multivariate normality test.
package pca

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"slices"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/Sumatoshi-tech/parstat/pkg/model"
	"github.com/Sumatoshi-tech/parstat/pkg/pipeline"
	"github.com/Sumatoshi-tech/parstat/pkg/stats"
	"github.com/Sumatoshi-tech/parstat/pkg/stats/multicorrelative"
	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

// Name identifies the estimator in models.
const Name = "pca"

// BlockMissingNormalization lists the specified factors Derive had to replace by 1.
const BlockMissingNormalization = "Missing Normalization"

// Configuration keys.
const (
	ConfigNormalizationScheme    = "PCA.NormalizationScheme"
	ConfigSpecifiedNormalization = "PCA.SpecifiedNormalization"
	ConfigBasisScheme            = "PCA.BasisScheme"
	ConfigFixedBasisSize         = "PCA.FixedBasisSize"
	ConfigFixedBasisEnergy       = "PCA.FixedBasisEnergy"
)

// DefaultFixedBasisEnergy keeps every component.
const DefaultFixedBasisEnergy = 1.0

const (
	rowComponent = "PCA"
	rowNorm      = "PCA Cov Norm"

	colBlock    = "Block"
	colSkewness = "Srivastava Skewness"
	colKurtosis = "Srivastava Kurtosis"
	colJBS      = "Jarque-Bera-Srivastava"
	colDOF      = "d"
	colP        = "P"

	normalizationColumns = 3
)

var (
	// ErrNoEigenbasis marks a covariance matrix whose eigendecomposition failed.
	ErrNoEigenbasis = errors.New("covariance has no eigendecomposition")
	// ErrBadNormalization marks an unusable specified-normalization table.
	ErrBadNormalization = errors.New("invalid normalization table")
)

var _ stats.PartialTester = (*Estimator)(nil)

// Estimator computes principal components.
type Estimator struct {
	Normalization NormalizationScheme
	// SpecifiedNormalization holds (column, column, factor) rows for the
	// TriangleSpecified and DiagonalSpecified schemes.
	SpecifiedNormalization *table.Table

	Basis            BasisScheme
	FixedBasisSize   int
	FixedBasisEnergy float64

	Logger *slog.Logger
}

// New returns an estimator with the default options.
func New() *Estimator {
	return &Estimator{FixedBasisEnergy: DefaultFixedBasisEnergy}
}

// Name implements stats.Estimator.
func (e *Estimator) Name() string { return Name }

// ListConfigurationOptions implements stats.Configurable.
func (e *Estimator) ListConfigurationOptions() []pipeline.ConfigurationOption {
	return []pipeline.ConfigurationOption{
		{
			Name: ConfigNormalizationScheme,
			Description: "Covariance normalization: None, TriangleSpecified, DiagonalSpecified " +
				"or DiagonalVariance.",
			Flag:    "pca-normalization",
			Type:    pipeline.StringConfigurationOption,
			Default: None.String(),
		},
		{
			Name:        ConfigSpecifiedNormalization,
			Description: "CSV file of (column, column, factor) rows for the specified schemes.",
			Flag:        "pca-normalization-file",
			Type:        pipeline.StringConfigurationOption,
			Default:     "",
		},
		{
			Name:        ConfigBasisScheme,
			Description: "Projection basis: FullBasis, FixedBasisSize or FixedBasisEnergy.",
			Flag:        "pca-basis",
			Type:        pipeline.StringConfigurationOption,
			Default:     FullBasis.String(),
		},
		{
			Name:        ConfigFixedBasisSize,
			Description: "Number of components kept by FixedBasisSize.",
			Flag:        "pca-basis-size",
			Type:        pipeline.IntConfigurationOption,
			Default:     0,
		},
		{
			Name:        ConfigFixedBasisEnergy,
			Description: "Fraction of the eigenvalue sum kept by FixedBasisEnergy.",
			Flag:        "pca-basis-energy",
			Type:        pipeline.FloatConfigurationOption,
			Default:     DefaultFixedBasisEnergy,
		},
	}
}

// Configure implements stats.Configurable.
func (e *Estimator) Configure(facts pipeline.Facts) error {
	logger := stats.Logger(e.Logger)

	if v, ok := facts.String(ConfigNormalizationScheme); ok {
		scheme, valid := ParseNormalizationScheme(v)
		if !valid {
			logger.Warn("unknown normalization scheme, keeping default", "value", v)
		}

		e.Normalization = scheme
	}

	if path, ok := facts.String(ConfigSpecifiedNormalization); ok && path != "" {
		tbl, err := ReadNormalization(path)
		if err != nil {
			return err
		}

		e.SpecifiedNormalization = tbl
	}

	if v, ok := facts.String(ConfigBasisScheme); ok {
		scheme, valid := ParseBasisScheme(v)
		if !valid {
			logger.Warn("unknown basis scheme, keeping default", "value", v)
		}

		e.Basis = scheme
	}

	if v, ok := facts.Int(ConfigFixedBasisSize); ok {
		e.FixedBasisSize = v
	}

	if v, ok := facts.Float(ConfigFixedBasisEnergy); ok {
		e.FixedBasisEnergy = v
	}

	e.validate()

	return nil
}

func (e *Estimator) validate() {
	if e.FixedBasisSize < 0 {
		e.FixedBasisSize = 0
	}

	if !(e.FixedBasisEnergy > 0 && e.FixedBasisEnergy <= 1) {
		e.FixedBasisEnergy = DefaultFixedBasisEnergy
	}
}

// ReadNormalization loads a specified-normalization table from a CSV file whose
// first two columns name variables and whose third column holds the factor.
func ReadNormalization(path string) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open normalization: %w", err)
	}
	defer f.Close()

	tbl, err := table.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadNormalization, err)
	}

	if tbl.NumColumns() < normalizationColumns || tbl.ColumnAt(2).Kind() != table.KindNumeric {
		return nil, fmt.Errorf("%w: %s needs two name columns and a numeric factor column", ErrBadNormalization, path)
	}

	return tbl, nil
}

// Learn implements stats.Estimator.
func (e *Estimator) Learn(data *table.Table, reqs []stats.Request) (*model.Model, error) {
	return multicorrelative.LearnModel(Name, data, reqs, e.Logger)
}

// Aggregate implements stats.Estimator.
func (e *Estimator) Aggregate(models []*model.Model) (*model.Model, error) {
	return multicorrelative.AggregateModels(Name, models)
}

// Derive computes the covariance blocks, then appends to each the principal
// components sorted by descending eigenvalue and the normalization factors used.
func (e *Estimator) Derive(m *model.Model) error {
	err := multicorrelative.DeriveModel(m, e.Logger)
	if err != nil && !errors.Is(err, stats.ErrNotPositiveDefinite) {
		return err
	}

	e.validate()

	logger := stats.Logger(e.Logger)
	errs := []error{err}
	factors := e.specifiedFactors()
	missing := table.MustNew(
		table.NewText(colBlock),
		table.NewText(multicorrelative.ColColumn1),
		table.NewText(multicorrelative.ColColumn2),
	)

	for _, b := range multicorrelative.Requests(m) {
		pairs, blockErr := e.deriveBlock(b.Table, factors)
		if blockErr != nil {
			logger.Warn("principal components unavailable", "block", b.Name, "error", blockErr)
			errs = append(errs, fmt.Errorf("block %q: %w", b.Name, blockErr))
		}

		if len(pairs) > 0 {
			logger.Warn("normalization factors missing, using 1", "block", b.Name, "pairs", pairs)
		}

		for _, p := range pairs {
			_ = missing.AppendRow(table.Text(b.Name), table.Text(p[0]), table.Text(p[1]))
		}
	}

	if missing.NumRows() > 0 {
		m.Append(BlockMissingNormalization, missing)
	}

	return errors.Join(errs...)
}

func pairKey(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}

	return [2]string{a, b}
}

func (e *Estimator) specifiedFactors() map[[2]string]float64 {
	factors := make(map[[2]string]float64)

	given := e.SpecifiedNormalization
	if !e.Normalization.specified() || given == nil || given.NumColumns() < normalizationColumns {
		return factors
	}

	first, second, value := given.ColumnAt(0), given.ColumnAt(1), given.ColumnAt(2)
	for r := range given.NumRows() {
		factors[pairKey(first.Text(r), second.Text(r))] = value.Float(r)
	}

	return factors
}

type normRow struct {
	name   string
	values []float64
}

// deriveBlock appends the component and normalization rows to one Cov block and
// returns the variable pairs whose specified factor was missing.
func (e *Estimator) deriveBlock(block *table.Table, factors map[[2]string]float64) ([][2]string, error) {
	c, err := multicorrelative.ReadCovariance(block)
	if err != nil {
		return nil, err
	}

	dim := len(c.Variables)
	cov := mat.NewSymDense(dim, nil)
	cov.CopySym(c.Matrix)

	norms, missing := e.normalize(cov, c.Variables, factors)
	values, vectors, err := decompose(cov)

	row := make([]table.Value, dim+2)

	for i := range dim {
		row[0], row[1] = table.Text(componentName(i)), table.Num(values[i])
		for j := range dim {
			row[j+2] = table.Num(vectors[i][j])
		}

		_ = block.AppendRow(row...)
	}

	for _, nr := range norms {
		row[0], row[1] = table.Text(nr.name), table.Num(0)
		for j := range dim {
			row[j+2] = table.Num(nr.values[j])
		}

		_ = block.AppendRow(row...)
	}

	return missing, err
}

func componentName(i int) string {
	return rowComponent + " " + strconv.Itoa(i)
}

// normalize scales cov in place according to the scheme and returns the factor
// rows to record.
func (e *Estimator) normalize(cov *mat.SymDense, vars []string, factors map[[2]string]float64) ([]normRow, [][2]string) {
	dim := len(vars)

	var missing [][2]string

	lookup := func(a, b string) float64 {
		f, ok := factors[pairKey(a, b)]
		if !ok {
			missing = append(missing, [2]string{a, b})

			return 1
		}

		return f
	}

	switch e.Normalization {
	case TriangleSpecified:
		rows := make([]normRow, dim)

		for i := range dim {
			vals := make([]float64, dim)
			for j := i; j < dim; j++ {
				vals[j] = lookup(vars[i], vars[j])
				cov.SetSym(i, j, cov.At(i, j)/vals[j])
			}

			rows[i] = normRow{name: rowNorm + " " + strconv.Itoa(i), values: vals}
		}

		return rows, missing
	case DiagonalSpecified:
		vsq := make([]float64, dim)
		for i, v := range vars {
			vsq[i] = lookup(v, v)
		}

		scaleDiagonal(cov, vsq)

		return []normRow{{name: rowNorm, values: vsq}}, missing
	case DiagonalVariance:
		vsq := make([]float64, dim)
		for i := range dim {
			vsq[i] = cov.At(i, i)
		}

		scaleDiagonal(cov, vsq)

		for i := range dim {
			cov.SetSym(i, i, 1)
		}

		return []normRow{{name: rowNorm, values: vsq}}, nil
	}

	return nil, nil
}

// scaleDiagonal divides entry (i,j) by sqrt(vsq_i)*sqrt(vsq_j).
func scaleDiagonal(cov *mat.SymDense, vsq []float64) {
	for i := range vsq {
		cov.SetSym(i, i, cov.At(i, i)/vsq[i])

		for j := i + 1; j < len(vsq); j++ {
			cov.SetSym(i, j, cov.At(i, j)/(math.Sqrt(vsq[i])*math.Sqrt(vsq[j])))
		}
	}
}

// decompose returns the eigenvalues of cov in descending order and the matching
// unit eigenvectors, each signed so that its largest component is positive.
func decompose(cov *mat.SymDense) ([]float64, [][]float64, error) {
	dim := cov.SymmetricDim()
	values := make([]float64, dim)
	vectors := make([][]float64, dim)

	for i := range vectors {
		vectors[i] = make([]float64, dim)
	}

	var eig mat.EigenSym

	if !finite(cov) || !eig.Factorize(cov, true) {
		for i := range dim {
			values[i] = math.NaN()
			for j := range dim {
				vectors[i][j] = math.NaN()
			}
		}

		return values, vectors, ErrNoEigenbasis
	}

	ascending := eig.Values(nil)

	var u mat.Dense

	eig.VectorsTo(&u)

	for i := range dim {
		k := dim - 1 - i
		values[i] = ascending[k]

		sign, largest := 1.0, 0.0

		for j := range dim {
			if a := math.Abs(u.At(j, k)); a > largest {
				largest = a
				sign = math.Copysign(1, u.At(j, k))
			}
		}

		for j := range dim {
			vectors[i][j] = sign * u.At(j, k)
		}
	}

	return values, vectors, nil
}

func finite(s *mat.SymDense) bool {
	n := s.SymmetricDim()
	for i := range n {
		for j := i; j < n; j++ {
			v := s.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}

	return true
}

// basis is a decoded Cov block with its principal components.
type basis struct {
	*multicorrelative.Covariance

	values  []float64
	vectors [][]float64
}

func readBasis(block *table.Table) (*basis, error) {
	c, err := multicorrelative.ReadCovariance(block)
	if err != nil {
		return nil, err
	}

	p := len(c.Variables)
	if block.NumRows() < 2*p+1 {
		return nil, fmt.Errorf("%w: covariance block has no principal components", stats.ErrIncompleteModel)
	}

	names, _ := block.Column(multicorrelative.ColColumn)
	means, _ := block.Column(multicorrelative.ColMean)
	b := &basis{Covariance: c, values: make([]float64, p), vectors: make([][]float64, p)}

	for i := range p {
		r := p + 1 + i
		if names.Text(r) != componentName(i) {
			return nil, fmt.Errorf("%w: row %d is %q, want %q", stats.ErrInconsistentModel, r, names.Text(r), componentName(i))
		}

		b.values[i] = means.Float(r)
		b.vectors[i] = make([]float64, p)

		for j := range p {
			b.vectors[i][j] = block.ColumnAt(j + 2).Float(r)
		}
	}

	return b, nil
}

// size returns the number of components kept by the basis scheme.
func (e *Estimator) size(values []float64) int {
	m := len(values)

	switch e.Basis {
	case FixedBasisSize:
		if e.FixedBasisSize >= 1 && e.FixedBasisSize < m {
			return e.FixedBasisSize
		}
	case FixedBasisEnergy:
		total := floats.Sum(values)
		frac := 0.0

		for i, v := range values {
			frac += v / total
			if frac > e.FixedBasisEnergy {
				return i + 1
			}
		}
	case FullBasis:
	}

	return m
}

// SelectAssessFunctor returns the projections PCA(a,b){i} of each centred row onto
// the retained components.
func (e *Estimator) SelectAssessFunctor(data *table.Table, m *model.Model, req stats.Request) (stats.AssessFunctor, error) {
	req = stats.NewRequest(req...)

	block, err := m.MustBlock(multicorrelative.BlockName(req))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", stats.ErrIncompleteModel, err)
	}

	b, err := readBasis(block)
	if err != nil {
		return nil, err
	}

	if slices.ContainsFunc(b.values, math.IsNaN) {
		return nil, fmt.Errorf("%w: %s", ErrNoEigenbasis, multicorrelative.BlockName(req))
	}

	cols, err := multicorrelative.NumericColumns(data, b.Variables)
	if err != nil {
		return nil, err
	}

	size := e.size(b.values)
	names := make([]string, size)

	for i := range size {
		names[i] = rowComponent + "(" + req.Name() + "){" + strconv.Itoa(i) + "}"
	}

	return &projectionFunctor{
		cols:    cols,
		mean:    b.Mean,
		vectors: b.vectors[:size],
		centred: make([]float64, len(cols)),
		names:   names,
	}, nil
}

type projectionFunctor struct {
	cols    [][]float64
	mean    []float64
	vectors [][]float64
	centred []float64
	names   []string
}

func (f *projectionFunctor) Columns() []string { return f.names }

func (f *projectionFunctor) Assess(row int, dst []float64) {
	for j, col := range f.cols {
		f.centred[j] = col[row] - f.mean[j]
	}

	for i, v := range f.vectors {
		dst[i] = floats.Dot(v, f.centred)
	}
}

// Test computes the Jarque-Bera-Srivastava statistic of every Cov block from the
// local data.
func (e *Estimator) Test(data *table.Table, m *model.Model, reqs []stats.Request, backend stats.PValueBackend) (*table.Table, error) {
	moments, err := e.TestMoments(data, m, reqs)
	if moments == nil {
		return nil, err
	}

	out, testErr := e.TestFromMoments(m, reqs, moments, backend)

	return out, errors.Join(err, testErr)
}

func momentWidth(block *table.Table) int {
	return 1 + 2*max(block.NumColumns()-2, 0)
}

// TestMoments returns, for every Cov block, the row count followed by the sums of
// the third and fourth powers of each principal coordinate.
func (e *Estimator) TestMoments(data *table.Table, m *model.Model, _ []stats.Request) ([]float64, error) {
	blocks := multicorrelative.Requests(m)
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: no covariance blocks to test", stats.ErrIncompleteModel)
	}

	var (
		moments []float64
		errs    []error
	)

	for _, b := range blocks {
		off := len(moments)
		moments = append(moments, make([]float64, momentWidth(b.Table))...)

		err := projectionSums(data, b.Table, moments[off:])
		if err != nil {
			stats.Logger(e.Logger).Warn("skipping block", "estimator", Name, "block", b.Name, "error", err)
			errs = append(errs, fmt.Errorf("block %q: %w", b.Name, err))
		}
	}

	return moments, errors.Join(errs...)
}

func projectionSums(data *table.Table, block *table.Table, dst []float64) error {
	b, err := readBasis(block)
	if err != nil {
		return err
	}

	cols, err := multicorrelative.NumericColumns(data, b.Variables)
	if err != nil {
		return err
	}

	p := len(cols)
	sum3, sum4 := dst[1:1+p], dst[1+p:]
	x := make([]float64, p)

	for r := range data.NumRows() {
		for j, col := range cols {
			x[j] = col[r] - b.Mean[j]
		}

		for i, v := range b.vectors {
			t := floats.Dot(v, x)
			t2 := t * t
			sum3[i] += t2 * t
			sum4[i] += t2 * t2
		}
	}

	dst[0] = float64(data.NumRows())

	return nil
}

// TestFromMoments turns summed projection moments into one test row per Cov block.
// Blocks whose summed row count differs from the model cardinality are skipped.
func (e *Estimator) TestFromMoments(m *model.Model, _ []stats.Request, moments []float64, backend stats.PValueBackend) (*table.Table, error) {
	out := table.MustNew(
		table.NewText(colBlock),
		table.NewNumeric(colSkewness),
		table.NewNumeric(colKurtosis),
		table.NewNumeric(colJBS),
		table.NewNumeric(colDOF),
		table.NewNumeric(colP),
	)

	var (
		errs []error
		off  int
	)

	logger := stats.Logger(e.Logger)

	for _, blk := range multicorrelative.Requests(m) {
		width := momentWidth(blk.Table)
		if off+width > len(moments) {
			return nil, fmt.Errorf("%w: %d moments do not cover the model", stats.ErrShapeMismatch, len(moments))
		}

		mom := moments[off : off+width]
		off += width

		b, err := readBasis(blk.Table)
		if err != nil {
			errs = append(errs, fmt.Errorf("block %q: %w", blk.Name, err))

			continue
		}

		n := mom[0]
		if n != b.N {
			err = fmt.Errorf("%w: %s tested on %v rows but learned on %v", stats.ErrInconsistentModel, blk.Name, n, b.N)
			logger.Warn("skipping block", "estimator", Name, "error", err)
			errs = append(errs, err)

			continue
		}

		p := len(b.values)
		bS1, bS2 := srivastava(b.values, mom[1:1+p], mom[1+p:], n)
		kurt := bS2 - 3
		jbs := n * float64(p) * (bS1/6 + kurt*kurt/24)
		dof := float64(p + 1)

		_ = out.AppendRow(
			table.Text(blk.Name),
			table.Num(bS1),
			table.Num(bS2),
			table.Num(jbs),
			table.Num(dof),
			table.Num(stats.ChiSquaredP(backend, jbs, dof)),
		)
	}

	if off != len(moments) {
		return nil, fmt.Errorf("%w: %d moments for %d expected", stats.ErrShapeMismatch, len(moments), off)
	}

	return out, errors.Join(errs...)
}

// srivastava returns the multivariate skewness and kurtosis of the principal
// coordinates. Components with a zero eigenvalue are ignored.
func srivastava(values, sum3, sum4 []float64, n float64) (float64, float64) {
	var bS1, bS2 float64

	for i, w := range values {
		w2 := w * w
		if w2 == 0 {
			continue
		}

		bS1 += sum3[i] * sum3[i] / (w2 * w)
		bS2 += sum4[i] / w2
	}

	p := float64(len(values))

	return bS1 / (n * n * p), bS2 / (n * p)
}
