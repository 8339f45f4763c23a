// Package multicorrelative implements multivariate correlative statistics: means,
// the covariance matrix of every request with its Cholesky factor, and the squared
// Mahalanobis distance of observations.
package multicorrelative

import (
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"

	"github.com/Sumatoshi-tech/parstat/pkg/model"
	"github.com/Sumatoshi-tech/parstat/pkg/stats"
	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

// Name identifies the estimator in models.
const Name = "multicorrelative"

// Estimator computes multi-correlative statistics.
type Estimator struct {
	Logger *slog.Logger
}

// New returns a multi-correlative estimator.
func New() *Estimator {
	return &Estimator{}
}

// Name implements stats.Estimator.
func (e *Estimator) Name() string { return Name }

// Learn implements stats.Estimator.
func (e *Estimator) Learn(data *table.Table, reqs []stats.Request) (*model.Model, error) {
	return LearnModel(Name, data, reqs, e.Logger)
}

// Aggregate implements stats.Estimator.
func (e *Estimator) Aggregate(models []*model.Model) (*model.Model, error) {
	return AggregateModels(Name, models)
}

// Derive implements stats.Estimator.
func (e *Estimator) Derive(m *model.Model) error {
	return DeriveModel(m, e.Logger)
}

// SelectAssessFunctor returns the squared Mahalanobis distance d^2(a,b,...) of each
// row to the request mean.
func (e *Estimator) SelectAssessFunctor(data *table.Table, m *model.Model, req stats.Request) (stats.AssessFunctor, error) {
	req = stats.NewRequest(req...)

	block, err := m.MustBlock(BlockName(req))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", stats.ErrIncompleteModel, err)
	}

	c, err := ReadCovariance(block)
	if err != nil {
		return nil, err
	}

	if c.Factor == nil {
		return nil, fmt.Errorf("%w: no Cholesky factor for %s", stats.ErrNotPositiveDefinite, BlockName(req))
	}

	var inv mat.TriDense

	err = inv.InverseTri(c.Factor)
	if err != nil {
		return nil, fmt.Errorf("%w: invert Cholesky factor of %s: %w", stats.ErrNotPositiveDefinite, BlockName(req), err)
	}

	cols, err := NumericColumns(data, c.Variables)
	if err != nil {
		return nil, err
	}

	return &mahalanobisFunctor{
		cols:    cols,
		mean:    c.Mean,
		inverse: &inv,
		centred: mat.NewVecDense(len(cols), nil),
		scaled:  mat.NewVecDense(len(cols), nil),
		name:    "d^2(" + req.Name() + ")",
	}, nil
}

// NumericColumns returns the float slices of the named numeric columns of data.
func NumericColumns(data *table.Table, names []string) ([][]float64, error) {
	out := make([][]float64, len(names))

	for i, name := range names {
		col, ok := data.Column(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", stats.ErrUnknownColumn, name)
		}

		if col.Kind() != table.KindNumeric {
			return nil, fmt.Errorf("%w: %q is not numeric", stats.ErrBadRequest, name)
		}

		out[i] = col.Floats()
	}

	return out, nil
}

type mahalanobisFunctor struct {
	cols    [][]float64
	mean    []float64
	inverse *mat.TriDense
	centred *mat.VecDense
	scaled  *mat.VecDense
	name    string
}

func (f *mahalanobisFunctor) Columns() []string { return []string{f.name} }

func (f *mahalanobisFunctor) Assess(row int, dst []float64) {
	for j, col := range f.cols {
		f.centred.SetVec(j, col[row]-f.mean[j])
	}

	f.scaled.MulVec(f.inverse, f.centred)
	dst[0] = mat.Dot(f.scaled, f.scaled)
}

// Test implements stats.Estimator; multi-correlative models have no test.
func (e *Estimator) Test(*table.Table, *model.Model, []stats.Request, stats.PValueBackend) (*table.Table, error) {
	return nil, fmt.Errorf("%w: %s has no statistical test", stats.ErrNotSupported, Name)
}
