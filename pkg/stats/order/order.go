// Package order implements order statistics: per-variable histograms, quantiles
// and a Kolmogorov-Smirnov goodness-of-fit test against the learned quantiles.
package order

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/Sumatoshi-tech/parstat/pkg/model"
	"github.com/Sumatoshi-tech/parstat/pkg/pipeline"
	"github.com/Sumatoshi-tech/parstat/pkg/stats"
	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

// Name identifies the estimator in models.
const Name = "order"

// Block names added by Derive. Every block before them is a histogram named after
// its variable.
const (
	BlockCardinalities = "Cardinalities"
	BlockQuantiles     = "Quantiles"
)

// Configuration keys.
const (
	ConfigNumberOfIntervals    = "Order.NumberOfIntervals"
	ConfigQuantileDefinition   = "Order.QuantileDefinition"
	ConfigQuantize             = "Order.Quantize"
	ConfigMaximumHistogramSize = "Order.MaximumHistogramSize"
)

// Default configuration values.
const (
	DefaultNumberOfIntervals    = 4
	DefaultMaximumHistogramSize = 1000

	minHistogramSize = 2
)

const (
	colValue       = "Value"
	colCardinality = "Cardinality"
	colP           = "P"
	colVariable    = "Variable"
	colQuantile    = "Quantile"
	colDistance    = "Maximum Distance"
	colKS          = "Kolmogorov-Smirnov"
)

// QuantileDefinition selects how interior quantiles are read from the histogram.
type QuantileDefinition int

const (
	// InverseCDF takes the value at the ceiling of the quantile rank.
	InverseCDF QuantileDefinition = iota
	// InverseCDFAveragedSteps averages the values at both sides of an exact rank.
	InverseCDFAveragedSteps
)

// String returns the definition name.
func (d QuantileDefinition) String() string {
	switch d {
	case InverseCDF:
		return "InverseCDF"
	case InverseCDFAveragedSteps:
		return "InverseCDFAveragedSteps"
	}

	return "QuantileDefinition(" + strconv.Itoa(int(d)) + ")"
}

// ParseQuantileDefinition is the inverse of QuantileDefinition.String.
func ParseQuantileDefinition(s string) (QuantileDefinition, bool) {
	switch s {
	case "InverseCDF":
		return InverseCDF, true
	case "InverseCDFAveragedSteps":
		return InverseCDFAveragedSteps, true
	}

	return 0, false
}

// Estimator computes order statistics.
type Estimator struct {
	NumberOfIntervals  int
	QuantileDefinition QuantileDefinition

	// Quantize caps numeric histograms at MaximumHistogramSize buckets.
	Quantize             bool
	MaximumHistogramSize int

	Logger *slog.Logger
}

// New returns an estimator with the default options.
func New() *Estimator {
	return &Estimator{
		NumberOfIntervals:    DefaultNumberOfIntervals,
		QuantileDefinition:   InverseCDFAveragedSteps,
		MaximumHistogramSize: DefaultMaximumHistogramSize,
	}
}

// Name implements stats.Estimator.
func (e *Estimator) Name() string { return Name }

// ListConfigurationOptions implements stats.Configurable.
func (e *Estimator) ListConfigurationOptions() []pipeline.ConfigurationOption {
	return []pipeline.ConfigurationOption{
		{
			Name:        ConfigNumberOfIntervals,
			Description: "Number of quantile intervals; 4 yields the five-number summary.",
			Flag:        "order-intervals",
			Type:        pipeline.IntConfigurationOption,
			Default:     DefaultNumberOfIntervals,
		},
		{
			Name:        ConfigQuantileDefinition,
			Description: "Quantile definition: InverseCDF or InverseCDFAveragedSteps.",
			Flag:        "order-quantile-definition",
			Type:        pipeline.StringConfigurationOption,
			Default:     InverseCDFAveragedSteps.String(),
		},
		{
			Name:        ConfigQuantize,
			Description: "Quantize numeric histograms larger than the maximum size.",
			Flag:        "order-quantize",
			Type:        pipeline.BoolConfigurationOption,
			Default:     false,
		},
		{
			Name:        ConfigMaximumHistogramSize,
			Description: "Maximum number of histogram buckets when quantizing.",
			Flag:        "order-max-histogram",
			Type:        pipeline.IntConfigurationOption,
			Default:     DefaultMaximumHistogramSize,
		},
	}
}

// Configure implements stats.Configurable.
func (e *Estimator) Configure(facts pipeline.Facts) error {
	if v, ok := facts.Int(ConfigNumberOfIntervals); ok {
		e.NumberOfIntervals = v
	}

	if v, ok := facts.String(ConfigQuantileDefinition); ok {
		def, valid := ParseQuantileDefinition(v)
		if !valid {
			stats.Logger(e.Logger).Warn("unknown quantile definition, keeping default", "value", v)

			def = InverseCDFAveragedSteps
		}

		e.QuantileDefinition = def
	}

	if v, ok := facts.Bool(ConfigQuantize); ok {
		e.Quantize = v
	}

	if v, ok := facts.Int(ConfigMaximumHistogramSize); ok {
		e.MaximumHistogramSize = v
	}

	e.validate()

	return nil
}

func (e *Estimator) validate() {
	if e.NumberOfIntervals < 1 {
		e.NumberOfIntervals = DefaultNumberOfIntervals
	}

	if e.MaximumHistogramSize < minHistogramSize {
		e.MaximumHistogramSize = DefaultMaximumHistogramSize
	}
}

func (e *Estimator) histogramLimit() int {
	if !e.Quantize {
		return 0
	}

	return e.MaximumHistogramSize
}

// Learn builds one histogram block per requested variable.
func (e *Estimator) Learn(data *table.Table, reqs []stats.Request) (*model.Model, error) {
	e.validate()

	logger := stats.Logger(e.Logger)
	vars, err := stats.Variables(data, reqs, logger)
	errs := []error{err}
	m := model.New(Name)

	for _, v := range vars {
		if v == BlockCardinalities || v == BlockQuantiles {
			reserved := fmt.Errorf("%w: variable name %q is reserved", stats.ErrBadRequest, v)
			logger.Warn("skipping variable", "estimator", Name, "error", reserved)
			errs = append(errs, reserved)

			continue
		}

		col, _ := data.Column(v)
		m.Append(v, handlerFor(col.Kind()).histogram(col, e.histogramLimit()))
	}

	return m, errors.Join(errs...)
}

// Aggregate sums the histograms of every model variable by variable.
func (e *Estimator) Aggregate(models []*model.Model) (*model.Model, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("%w: no models", stats.ErrShapeMismatch)
	}

	e.validate()

	first := histograms(models[0])
	out := model.New(Name)

	for i, m := range models[1:] {
		if len(histograms(m)) != len(first) {
			return nil, fmt.Errorf("%w: model %d has %d histograms, want %d",
				stats.ErrShapeMismatch, i+1, len(histograms(m)), len(first))
		}
	}

	for _, b := range first {
		blocks := make([]*table.Table, 0, len(models))

		for i, m := range models {
			block, ok := m.Block(b.Name)
			if !ok {
				return nil, fmt.Errorf("%w: model %d lacks variable %q", stats.ErrShapeMismatch, i, b.Name)
			}

			blocks = append(blocks, block)
		}

		values, ok := b.Table.Column(colValue)
		if !ok {
			return nil, fmt.Errorf("%w: histogram %q lacks %q", stats.ErrIncompleteModel, b.Name, colValue)
		}

		merged, err := handlerFor(values.Kind()).merge(blocks, e.histogramLimit())
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", b.Name, err)
		}

		out.Append(b.Name, merged)
	}

	return out, nil
}

// histograms returns the primary blocks of m.
func histograms(m *model.Model) []model.Block {
	blocks := m.Blocks()
	for i, b := range blocks {
		if b.Name == BlockCardinalities {
			return blocks[:i]
		}
	}

	return blocks
}

// Derive adds the probability column to every histogram and appends the
// cardinality and quantile blocks, replacing earlier ones.
func (e *Estimator) Derive(m *model.Model) error {
	e.validate()

	hists := histograms(m)
	if len(hists) == 0 {
		return nil
	}

	m.Truncate(len(hists))

	card := table.MustNew(table.NewText(colVariable), table.NewNumeric(colCardinality))
	quant := table.MustNew(table.NewText(colQuantile, quantileNames(e.NumberOfIntervals)...))

	var errs []error

	for _, b := range hists {
		values, ok := b.Table.Column(colValue)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: histogram %q lacks %q", stats.ErrIncompleteModel, b.Name, colValue))

			continue
		}

		n, qcol, err := handlerFor(values.Kind()).derive(b.Table, b.Name, e.NumberOfIntervals, e.QuantileDefinition)
		_ = card.AppendRow(table.Text(b.Name), table.Num(n))

		if err != nil {
			stats.Logger(e.Logger).Error("cannot derive quantiles", "variable", b.Name, "error", err)
			errs = append(errs, err)

			continue
		}

		_ = quant.AddColumn(qcol)
	}

	m.Append(BlockCardinalities, card)
	m.Append(BlockQuantiles, quant)

	return errors.Join(errs...)
}

// quantileNames labels the intervals+1 quantiles; multiples of a quarter get names.
func quantileNames(intervals int) []string {
	names := make([]string, 0, intervals+1)
	dq := 1 / float64(intervals)

	for i := range intervals + 1 {
		quarter, rem := (4*i)/intervals, (4*i)%intervals
		if rem != 0 {
			names = append(names, strconv.FormatFloat(float64(i)*dq, 'g', 6, 64)+"-quantile")

			continue
		}

		names = append(names, [...]string{"Minimum", "First Quartile", "Median", "Third Quartile", "Maximum"}[quarter])
	}

	return names
}

func quantileColumn(m *model.Model, variable string) (*table.Column, error) {
	quant, err := m.MustBlock(BlockQuantiles)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", stats.ErrIncompleteModel, err)
	}

	col, ok := quant.Column(variable)
	if !ok {
		return nil, fmt.Errorf("%w: no quantiles for %q", stats.ErrIncompleteModel, variable)
	}

	return col, nil
}

// SelectAssessFunctor returns the quantile interval index Quantile(a).
func (e *Estimator) SelectAssessFunctor(data *table.Table, m *model.Model, req stats.Request) (stats.AssessFunctor, error) {
	if len(req) != 1 {
		return nil, fmt.Errorf("%w: order assessment takes one variable, got %q", stats.ErrBadRequest, req.Name())
	}

	col, ok := data.Column(req[0])
	if !ok {
		return nil, fmt.Errorf("%w: %q", stats.ErrUnknownColumn, req[0])
	}

	quantiles, err := quantileColumn(m, req[0])
	if err != nil {
		return nil, err
	}

	return handlerForPair(col, quantiles).functor(col, quantiles, "Quantile("+req[0]+")"), nil
}

// Test runs the Kolmogorov-Smirnov test of the local data against the model quantiles.
func (e *Estimator) Test(
	data *table.Table, m *model.Model, reqs []stats.Request, backend stats.PValueBackend,
) (*table.Table, error) {
	if _, err := m.MustBlock(BlockQuantiles); err != nil {
		return nil, fmt.Errorf("%w: %w", stats.ErrIncompleteModel, err)
	}

	vars, err := stats.Variables(data, reqs, e.Logger)
	errs := []error{err}

	out := table.MustNew(
		table.NewText(colVariable),
		table.NewNumeric(colDistance),
		table.NewNumeric(colKS),
		table.NewNumeric(colP),
	)

	for _, v := range vars {
		quantiles, qErr := quantileColumn(m, v)
		if qErr != nil {
			errs = append(errs, qErr)

			continue
		}

		col, _ := data.Column(v)
		dmax, n := handlerForPair(col, quantiles).distance(col, quantiles)
		ks := math.Sqrt(n) * dmax

		_ = out.AppendRow(table.Text(v), table.Num(dmax), table.Num(ks), table.Num(stats.KolmogorovSmirnovP(backend, ks)))
	}

	return out, errors.Join(errs...)
}
