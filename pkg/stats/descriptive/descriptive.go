// Package descriptive implements univariate descriptive statistics: extrema, mean,
// central moments up to order four, and the derived variance, skewness and kurtosis.
package descriptive

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/Sumatoshi-tech/parstat/pkg/model"
	"github.com/Sumatoshi-tech/parstat/pkg/pipeline"
	"github.com/Sumatoshi-tech/parstat/pkg/stats"
	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

// Name identifies the estimator in models.
const Name = "descriptive"

// Block names.
const (
	BlockPrimary = "Primary Statistics"
	BlockDerived = "Derived Statistics"
)

// Configuration keys.
const (
	ConfigUnbiased         = "Descriptive.Unbiased"
	ConfigG1Skewness       = "Descriptive.G1Skewness"
	ConfigG2Kurtosis       = "Descriptive.G2Kurtosis"
	ConfigSignedDeviations = "Descriptive.SignedDeviations"
)

const (
	colVariable    = "Variable"
	colCardinality = "Cardinality"
	colMinimum     = "Minimum"
	colMaximum     = "Maximum"
	colMean        = "Mean"
	colM2          = "M2"
	colM3          = "M3"
	colM4          = "M4"
	colStdev       = "Standard Deviation"
	colVariance    = "Variance"
	colSkewness    = "Skewness"
	colKurtosis    = "Kurtosis"
	colSum         = "Sum"
	colJarqueBera  = "Jarque-Bera"
	colP           = "P"

	// jarqueBeraDOF is the chi-square degrees of freedom of the Jarque-Bera statistic.
	jarqueBeraDOF = 2
)

var _ stats.ModelTester = (*Estimator)(nil)

// Estimator computes descriptive statistics.
type Estimator struct {
	// Unbiased selects the n-1 variance denominator.
	Unbiased bool
	// G1Skewness selects the sample-size corrected skewness.
	G1Skewness bool
	// G2Kurtosis selects the sample-size corrected kurtosis.
	G2Kurtosis bool
	// SignedDeviations keeps the sign of assessed deviations.
	SignedDeviations bool

	Logger *slog.Logger
}

// New returns an estimator with the default options.
func New() *Estimator {
	return &Estimator{Unbiased: true}
}

// Name implements stats.Estimator.
func (e *Estimator) Name() string { return Name }

// ListConfigurationOptions implements stats.Configurable.
func (e *Estimator) ListConfigurationOptions() []pipeline.ConfigurationOption {
	return []pipeline.ConfigurationOption{
		{
			Name:        ConfigUnbiased,
			Description: "Use the unbiased (n-1) variance estimator.",
			Flag:        "descriptive-unbiased",
			Type:        pipeline.BoolConfigurationOption,
			Default:     true,
		},
		{
			Name:        ConfigG1Skewness,
			Description: "Report the G1 sample skewness instead of g1.",
			Flag:        "descriptive-g1",
			Type:        pipeline.BoolConfigurationOption,
			Default:     false,
		},
		{
			Name:        ConfigG2Kurtosis,
			Description: "Report the G2 sample excess kurtosis instead of g2.",
			Flag:        "descriptive-g2",
			Type:        pipeline.BoolConfigurationOption,
			Default:     false,
		},
		{
			Name:        ConfigSignedDeviations,
			Description: "Keep the sign of assessed relative deviations.",
			Flag:        "descriptive-signed",
			Type:        pipeline.BoolConfigurationOption,
			Default:     false,
		},
	}
}

// Configure implements stats.Configurable.
func (e *Estimator) Configure(facts pipeline.Facts) error {
	if v, ok := facts.Bool(ConfigUnbiased); ok {
		e.Unbiased = v
	}

	if v, ok := facts.Bool(ConfigG1Skewness); ok {
		e.G1Skewness = v
	}

	if v, ok := facts.Bool(ConfigG2Kurtosis); ok {
		e.G2Kurtosis = v
	}

	if v, ok := facts.Bool(ConfigSignedDeviations); ok {
		e.SignedDeviations = v
	}

	return nil
}

// Learn computes the primary statistics of every requested numeric column. NaN
// cells are not counted.
func (e *Estimator) Learn(data *table.Table, reqs []stats.Request) (*model.Model, error) {
	logger := stats.Logger(e.Logger)
	vars, err := stats.Variables(data, reqs, logger)
	errs := []error{err}

	names := make([]string, 0, len(vars))
	mom := make([]moments, 0, len(vars))

	for _, v := range vars {
		col, _ := data.Column(v)
		if col.Kind() != table.KindNumeric {
			skipErr := fmt.Errorf("%w: %q is not numeric", stats.ErrBadRequest, v)
			logger.Warn("skipping variable", "estimator", Name, "error", skipErr)
			errs = append(errs, skipErr)

			continue
		}

		acc := newMoments()

		for _, x := range col.Floats() {
			if !math.IsNaN(x) {
				acc.add(x)
			}
		}

		names = append(names, v)
		mom = append(mom, acc)
	}

	m := model.New(Name)
	m.Append(BlockPrimary, primaryTable(names, mom))

	return m, errors.Join(errs...)
}

// Aggregate merges primary models over the same variables.
func (e *Estimator) Aggregate(models []*model.Model) (*model.Model, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("%w: no models", stats.ErrShapeMismatch)
	}

	names, acc, err := readPrimary(models[0])
	if err != nil {
		return nil, err
	}

	for i, m := range models[1:] {
		other, mom, readErr := readPrimary(m)
		if readErr != nil {
			return nil, readErr
		}

		if !slices.Equal(names, other) {
			return nil, fmt.Errorf("%w: model %d has variables %v, want %v", stats.ErrShapeMismatch, i+1, other, names)
		}

		for j := range acc {
			acc[j].merge(mom[j])
		}
	}

	out := model.New(Name)
	out.Append(BlockPrimary, primaryTable(names, acc))

	return out, nil
}

// Derive replaces any previous derived block with the variance, standard deviation,
// skewness, kurtosis and sum of each variable.
func (e *Estimator) Derive(m *model.Model) error {
	if _, ok := m.Block(BlockPrimary); !ok {
		return nil
	}

	names, mom, err := readPrimary(m)
	if err != nil {
		return err
	}

	m.Truncate(1)

	out := table.MustNew(
		table.NewText(colVariable),
		table.NewNumeric(colStdev),
		table.NewNumeric(colVariance),
		table.NewNumeric(colSkewness),
		table.NewNumeric(colKurtosis),
		table.NewNumeric(colSum),
	)

	for i, name := range names {
		d := mom[i].derive(e.Unbiased, e.G1Skewness, e.G2Kurtosis)
		_ = out.AppendRow(table.Text(name), table.Num(d.stdev), table.Num(d.variance),
			table.Num(d.skewness), table.Num(d.kurtosis), table.Num(d.sum))
	}

	m.Append(BlockDerived, out)

	return nil
}

// SelectAssessFunctor returns the relative deviation d(a) = |x - mean| / stdev.
func (e *Estimator) SelectAssessFunctor(data *table.Table, m *model.Model, req stats.Request) (stats.AssessFunctor, error) {
	kind, err := stats.KindOf(data, req)
	if err != nil {
		return nil, err
	}

	if kind != stats.NumericScalar {
		return nil, fmt.Errorf("%w: %s request %q", stats.ErrBadRequest, kind, req.Name())
	}

	mean, stdev, err := lookupMeanStdev(m, req[0])
	if err != nil {
		return nil, err
	}

	col, _ := data.Column(req[0])

	return &deviationFunctor{
		col:    col,
		name:   "d(" + req[0] + ")",
		mean:   mean,
		stdev:  stdev,
		signed: e.SignedDeviations,
	}, nil
}

type deviationFunctor struct {
	col         *table.Column
	name        string
	mean, stdev float64
	signed      bool
}

func (f *deviationFunctor) Columns() []string { return []string{f.name} }

func (f *deviationFunctor) Assess(row int, dst []float64) {
	dev := f.col.Float(row) - f.mean
	if !f.signed {
		dev = math.Abs(dev)
	}

	switch {
	case f.stdev > 0:
		dst[0] = dev / f.stdev
	case dev == 0:
		dst[0] = 0
	default:
		dst[0] = math.Copysign(math.Inf(1), dev)
	}
}

// TestsModelOnly implements stats.ModelTester.
func (e *Estimator) TestsModelOnly() {}

// Test computes the Jarque-Bera normality statistic of every requested variable
// from the derived skewness and kurtosis.
func (e *Estimator) Test(
	data *table.Table, m *model.Model, reqs []stats.Request, backend stats.PValueBackend,
) (*table.Table, error) {
	derivedBlock, err := m.MustBlock(BlockDerived)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", stats.ErrIncompleteModel, err)
	}

	names, mom, err := readPrimary(m)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(names))
	for i, n := range names {
		index[n] = i
	}

	vars, varErr := stats.Variables(data, reqs, e.Logger)
	errs := []error{varErr}

	out := table.MustNew(table.NewText(colVariable), table.NewNumeric(colJarqueBera), table.NewNumeric(colP))
	skew, _ := derivedBlock.Column(colSkewness)
	kurt, _ := derivedBlock.Column(colKurtosis)

	for _, v := range vars {
		i, ok := index[v]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %q not in model", stats.ErrIncompleteModel, v))

			continue
		}

		s, k := skew.Float(i), kurt.Float(i)
		jb := mom[i].n * (s*s/6 + k*k/24)
		_ = out.AppendRow(table.Text(v), table.Num(jb), table.Num(stats.ChiSquaredP(backend, jb, jarqueBeraDOF)))
	}

	return out, errors.Join(errs...)
}

func primaryTable(names []string, mom []moments) *table.Table {
	out := table.MustNew(
		table.NewText(colVariable),
		table.NewNumeric(colCardinality),
		table.NewNumeric(colMinimum),
		table.NewNumeric(colMaximum),
		table.NewNumeric(colMean),
		table.NewNumeric(colM2),
		table.NewNumeric(colM3),
		table.NewNumeric(colM4),
	)

	for i, acc := range mom {
		lo, hi := acc.min, acc.max
		if acc.n == 0 {
			lo, hi = math.NaN(), math.NaN()
		}

		_ = out.AppendRow(table.Text(names[i]), table.Num(acc.n), table.Num(lo), table.Num(hi),
			table.Num(acc.mean), table.Num(acc.m2), table.Num(acc.m3), table.Num(acc.m4))
	}

	return out
}

func readPrimary(m *model.Model) ([]string, []moments, error) {
	block, err := m.MustBlock(BlockPrimary)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", stats.ErrIncompleteModel, err)
	}

	cols := make([]*table.Column, 0, 8)

	for _, name := range []string{colVariable, colCardinality, colMinimum, colMaximum, colMean, colM2, colM3, colM4} {
		col, ok := block.Column(name)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s lacks column %q", stats.ErrIncompleteModel, BlockPrimary, name)
		}

		cols = append(cols, col)
	}

	rows := block.NumRows()
	names := make([]string, rows)
	mom := make([]moments, rows)

	for i := range rows {
		names[i] = cols[0].Text(i)
		mom[i] = moments{
			n: cols[1].Float(i), min: cols[2].Float(i), max: cols[3].Float(i), mean: cols[4].Float(i),
			m2: cols[5].Float(i), m3: cols[6].Float(i), m4: cols[7].Float(i),
		}

		if mom[i].n == 0 {
			mom[i].min, mom[i].max = math.Inf(1), math.Inf(-1)
		}
	}

	return names, mom, nil
}

func lookupMeanStdev(m *model.Model, variable string) (mean, stdev float64, err error) {
	primary, err := m.MustBlock(BlockPrimary)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", stats.ErrIncompleteModel, err)
	}

	derivedBlock, err := m.MustBlock(BlockDerived)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", stats.ErrIncompleteModel, err)
	}

	vars, _ := primary.Column(colVariable)
	means, _ := primary.Column(colMean)
	stdevs, _ := derivedBlock.Column(colStdev)

	for i := range vars.Len() {
		if vars.Text(i) == variable {
			return means.Float(i), stdevs.Float(i), nil
		}
	}

	return 0, 0, fmt.Errorf("%w: %q not in model", stats.ErrIncompleteModel, variable)
}
