// Package autocorrelative implements auto-correlative statistics of time series
// laid out as consecutive slices of equal cardinality: lagged means and moments,
// the regression lines between a slice and its lagged counterpart, and the Fourier
// transform of the autocorrelation across lags.
package autocorrelative

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
const Name = "autocorrelative"

// BlockFFT holds the transformed autocorrelation series of every variable.
const BlockFFT = "Autocorrelation FFT"

// Configuration keys.
const (
	ConfigSliceCardinality = "AutoCorrelative.SliceCardinality"
	ConfigTimeLags         = "AutoCorrelative.TimeLags"
)

const (
	colTimeLag     = "Time Lag"
	colCardinality = "Cardinality"
	colMeanXs      = "Mean Xs"
	colMeanXt      = "Mean Xt"
	colM2Xs        = "M2 Xs"
	colM2Xt        = "M2 Xt"
	colMXsXt       = "M XsXt"

	// minNormal is the smallest normal float64; smaller variances are degenerate.
	minNormal = 0x1p-1022
)

var derivedColumns = []string{
	"Variance Xs", "Variance Xt", "Covariance", "Determinant",
	"Slope Xt/Xs", "Intercept Xt/Xs", "Slope Xs/Xt", "Intercept Xs/Xt", "Autocorrelation",
}

var (
	// ErrNoSliceCardinality marks a Learn call without a slice cardinality.
	ErrNoSliceCardinality = errors.New("slice cardinality not set")
	// ErrSliceMismatch marks data that is not a whole number of slices covering every lag.
	ErrSliceMismatch = errors.New("data does not fit slice cardinality and lags")
)

// Estimator computes auto-correlative statistics.
type Estimator struct {
	// SliceCardinality is the number of rows in one time slice.
	SliceCardinality int
	// TimeLags are the lags, in slices, compared with slice 0.
	TimeLags []int
	// FFT transforms the autocorrelation series; GonumFFT when nil.
	FFT FFT

	Logger *slog.Logger
}

// New returns an estimator with lag 1 and no slice cardinality.
func New() *Estimator {
	return &Estimator{TimeLags: []int{1}}
}

// Name implements stats.Estimator.
func (e *Estimator) Name() string { return Name }

// ListConfigurationOptions implements stats.Configurable.
func (e *Estimator) ListConfigurationOptions() []pipeline.ConfigurationOption {
	return []pipeline.ConfigurationOption{
		{
			Name:        ConfigSliceCardinality,
			Description: "Number of rows in one time slice.",
			Flag:        "autocorrelative-slice",
			Type:        pipeline.IntConfigurationOption,
			Default:     0,
		},
		{
			Name:        ConfigTimeLags,
			Description: "Time lags, in slices, to correlate with the first slice.",
			Flag:        "autocorrelative-lags",
			Type:        pipeline.IntsConfigurationOption,
			Default:     []int{1},
		},
	}
}

// Configure implements stats.Configurable.
func (e *Estimator) Configure(facts pipeline.Facts) error {
	if v, ok := facts.Int(ConfigSliceCardinality); ok {
		e.SliceCardinality = v
	}

	if v, ok := facts.Ints(ConfigTimeLags); ok {
		e.TimeLags = v
	}

	e.validate()

	return nil
}

func (e *Estimator) validate() {
	lags := slices.DeleteFunc(slices.Clone(e.TimeLags), func(l int) bool { return l < 0 })
	if len(lags) != len(e.TimeLags) {
		stats.Logger(e.Logger).Warn("dropping negative time lags", "lags", e.TimeLags)
	}

	if len(lags) == 0 {
		lags = []int{1}
	}

	e.TimeLags = lags
}

// Learn builds one block of lagged moments per requested variable. Data that does
// not split into slices covering the largest lag yields an empty model.
func (e *Estimator) Learn(data *table.Table, reqs []stats.Request) (*model.Model, error) {
	e.validate()

	m := model.New(Name)
	logger := stats.Logger(e.Logger)

	if e.SliceCardinality <= 0 {
		return m, ErrNoSliceCardinality
	}

	rows := data.NumRows()
	quo := rows / e.SliceCardinality

	if slices.Max(e.TimeLags) >= quo || rows != quo*e.SliceCardinality {
		err := fmt.Errorf("%w: %d rows, slice cardinality %d, maximum lag %d",
			ErrSliceMismatch, rows, e.SliceCardinality, slices.Max(e.TimeLags))
		logger.Warn("cannot learn", "estimator", Name, "error", err)

		return m, err
	}

	vars, err := stats.Variables(data, reqs, logger)
	errs := []error{err}

	for _, v := range vars {
		col, _ := data.Column(v)
		if v == BlockFFT || col.Kind() != table.KindNumeric {
			skipErr := fmt.Errorf("%w: %q is not a numeric series", stats.ErrBadRequest, v)
			logger.Warn("skipping variable", "estimator", Name, "error", skipErr)
			errs = append(errs, skipErr)

			continue
		}

		m.Append(v, e.lagTable(col.Floats()))
	}

	return m, errors.Join(errs...)
}

// lagged holds the moments of one lag.
type lagged struct {
	lag    float64
	n      float64
	meanXs float64
	meanXt float64
	m2Xs   float64
	m2Xt   float64
	mXsXt  float64
}

func (e *Estimator) lagTable(xs []float64) *table.Table {
	out := make([]lagged, len(e.TimeLags))

	for p, lag := range e.TimeLags {
		acc := lagged{lag: float64(lag), n: float64(e.SliceCardinality)}
		offset := lag * e.SliceCardinality

		for r := range e.SliceCardinality {
			invN := 1 / float64(r+1)

			x := xs[r]
			delta := x - acc.meanXs
			acc.meanXs += delta * invN
			deltaXsN := x - acc.meanXs
			acc.m2Xs += delta * deltaXsN

			y := xs[r+offset]
			delta = y - acc.meanXt
			acc.meanXt += delta * invN
			acc.m2Xt += delta * (y - acc.meanXt)
			acc.mXsXt += delta * deltaXsN
		}

		out[p] = acc
	}

	return primaryTable(out)
}

func primaryTable(rows []lagged) *table.Table {
	cols := [7][]float64{}
	for _, r := range rows {
		for i, v := range [7]float64{r.lag, r.n, r.meanXs, r.meanXt, r.m2Xs, r.m2Xt, r.mXsXt} {
			cols[i] = append(cols[i], v)
		}
	}

	return table.MustNew(
		table.NewNumeric(colTimeLag, cols[0]...),
		table.NewNumeric(colCardinality, cols[1]...),
		table.NewNumeric(colMeanXs, cols[2]...),
		table.NewNumeric(colMeanXt, cols[3]...),
		table.NewNumeric(colM2Xs, cols[4]...),
		table.NewNumeric(colM2Xt, cols[5]...),
		table.NewNumeric(colMXsXt, cols[6]...),
	)
}

func readLagged(tbl *table.Table) ([]lagged, error) {
	names := []string{colTimeLag, colCardinality, colMeanXs, colMeanXt, colM2Xs, colM2Xt, colMXsXt}
	cols := make([]*table.Column, len(names))

	for i, name := range names {
		col, ok := tbl.Column(name)
		if !ok {
			return nil, fmt.Errorf("%w: lag table lacks %q", stats.ErrIncompleteModel, name)
		}

		cols[i] = col
	}

	out := make([]lagged, tbl.NumRows())
	for r := range out {
		out[r] = lagged{
			lag:    cols[0].Float(r),
			n:      cols[1].Float(r),
			meanXs: cols[2].Float(r),
			meanXt: cols[3].Float(r),
			m2Xs:   cols[4].Float(r),
			m2Xt:   cols[5].Float(r),
			mXsXt:  cols[6].Float(r),
		}
	}

	return out, nil
}

// merge folds o into l with the pairwise update.
func (l *lagged) merge(o lagged) {
	total := l.n + o.n
	if o.n == 0 {
		return
	}

	if l.n == 0 {
		*l = o

		return
	}

	dXs := o.meanXs - l.meanXs
	dXt := o.meanXt - l.meanXt
	prod := l.n * o.n / total

	l.m2Xs += o.m2Xs + prod*dXs*dXs
	l.m2Xt += o.m2Xt + prod*dXt*dXt
	l.mXsXt += o.mXsXt + prod*dXs*dXt
	l.meanXs += o.n * dXs / total
	l.meanXt += o.n * dXt / total
	l.n = total
}

func variableBlocks(m *model.Model) []model.Block {
	return slices.DeleteFunc(slices.Clone(m.Blocks()), func(b model.Block) bool { return b.Name == BlockFFT })
}

// Aggregate merges lag tables variable by variable. Every model must hold the same
// variables with the same lags.
func (e *Estimator) Aggregate(models []*model.Model) (*model.Model, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("%w: no models", stats.ErrShapeMismatch)
	}

	first := variableBlocks(models[0])
	acc := make([][]lagged, len(first))

	for i, b := range first {
		rows, err := readLagged(b.Table)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", b.Name, err)
		}

		acc[i] = rows
	}

	for k, m := range models[1:] {
		blocks := variableBlocks(m)
		if len(blocks) != len(first) {
			return nil, fmt.Errorf("%w: model %d has %d variables, want %d", stats.ErrShapeMismatch, k+1, len(blocks), len(first))
		}

		for i, b := range blocks {
			rows, err := readLagged(b.Table)
			if err != nil {
				return nil, fmt.Errorf("variable %q: %w", b.Name, err)
			}

			if b.Name != first[i].Name || len(rows) != len(acc[i]) {
				return nil, fmt.Errorf("%w: model %d block %q does not match %q", stats.ErrShapeMismatch, k+1, b.Name, first[i].Name)
			}

			for r := range rows {
				if rows[r].lag != acc[i][r].lag {
					return nil, fmt.Errorf("%w: model %d variable %q has lag %v, want %v",
						stats.ErrShapeMismatch, k+1, b.Name, rows[r].lag, acc[i][r].lag)
				}

				acc[i][r].merge(rows[r])
			}
		}
	}

	out := model.New(Name)
	for i, b := range first {
		out.Append(b.Name, primaryTable(acc[i]))
	}

	return out, nil
}

// Derive adds the regression and autocorrelation columns to every lag table and
// appends the Fourier transform of the autocorrelation series.
func (e *Estimator) Derive(m *model.Model) error {
	blocks := variableBlocks(m)
	if len(blocks) == 0 {
		return nil
	}

	series := &table.Table{}
	nLags := -1

	for _, b := range blocks {
		rows, err := readLagged(b.Table)
		if err != nil {
			return fmt.Errorf("variable %q: %w", b.Name, err)
		}

		if nLags >= 0 && len(rows) != nLags {
			return fmt.Errorf("%w: variable %q has %d lags, want %d", stats.ErrInconsistentModel, b.Name, len(rows), nLags)
		}

		nLags = len(rows)

		derived := make([][]float64, len(derivedColumns))

		for _, r := range rows {
			for i, v := range r.derive() {
				derived[i] = append(derived[i], v)
			}
		}

		for i, name := range derivedColumns {
			setColumn(b.Table, name, derived[i])
		}

		_ = series.AddColumn(table.NewNumeric(b.Name, derived[len(derived)-1]...))
	}

	m.Truncate(len(blocks))

	fft := e.FFT
	if fft == nil {
		fft = GonumFFT
	}

	transformed, err := fft(series)
	if err != nil {
		stats.Logger(e.Logger).Warn("autocorrelation transform failed", "error", err)

		return fmt.Errorf("fft: %w", err)
	}

	m.Append(BlockFFT, transformed)

	return nil
}

func setColumn(t *table.Table, name string, vals []float64) {
	if col, ok := t.Column(name); ok && col.Kind() == table.KindNumeric && col.Len() == len(vals) {
		for i, v := range vals {
			col.SetFloat(i, v)
		}

		return
	}

	_ = t.AddColumn(table.NewNumeric(name, vals...))
}

// derive returns the values of derivedColumns for one lag.
func (l lagged) derive() []float64 {
	var varXs, varXt, cov float64

	if l.n > 1 {
		inv := 1 / (l.n - 1)
		varXs, varXt, cov = l.m2Xs*inv, l.m2Xt*inv, l.mXsXt*inv
	}

	slopeTS, slopeST, autocorr := math.NaN(), math.NaN(), math.NaN()

	if varXs >= minNormal {
		slopeTS = cov / varXs
	}

	if varXt >= minNormal {
		slopeST = cov / varXt
	}

	if varXs >= minNormal && varXt >= minNormal {
		autocorr = cov / math.Sqrt(varXs*varXt)
	}

	return []float64{
		varXs,
		varXt,
		cov,
		varXs*varXt - cov*cov,
		slopeTS,
		l.meanXt - slopeTS*l.meanXs,
		slopeST,
		l.meanXs - slopeST*l.meanXt,
		autocorr,
	}
}

// SelectAssessFunctor implements stats.Estimator; auto-correlative models have no
// assessment.
func (e *Estimator) SelectAssessFunctor(*table.Table, *model.Model, stats.Request) (stats.AssessFunctor, error) {
	return nil, fmt.Errorf("%w: %s has no assessment", stats.ErrNotSupported, Name)
}

// Test implements stats.Estimator; auto-correlative models have no test.
func (e *Estimator) Test(*table.Table, *model.Model, []stats.Request, stats.PValueBackend) (*table.Table, error) {
	return nil, fmt.Errorf("%w: %s has no statistical test", stats.ErrNotSupported, Name)
}
