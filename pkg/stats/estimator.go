// Package stats defines the estimator contract shared by every statistical model and
// the engine that runs the Learn, Aggregate, Derive, Assess and Test phases.
package stats

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Sumatoshi-tech/parstat/pkg/model"
	"github.com/Sumatoshi-tech/parstat/pkg/pipeline"
	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

// Sentinel errors shared by the estimators.
var (
	// ErrUnknownColumn marks a request naming a column absent from the data.
	ErrUnknownColumn = errors.New("requested column not in data")
	// ErrShapeMismatch marks models that cannot be aggregated together.
	ErrShapeMismatch = errors.New("model shapes do not match")
	// ErrNotPositiveDefinite marks a covariance matrix without a Cholesky factor.
	ErrNotPositiveDefinite = errors.New("matrix is not positive definite")
	// ErrNotSupported marks a phase the estimator does not implement.
	ErrNotSupported = errors.New("operation not supported by estimator")
	// ErrIncompleteModel marks a model missing the blocks a phase needs.
	ErrIncompleteModel = errors.New("model lacks required blocks")
	// ErrInconsistentModel marks derived values that violate a model invariant.
	ErrInconsistentModel = errors.New("model is inconsistent")
	// ErrBadRequest marks a request with the wrong arity or value kinds.
	ErrBadRequest = errors.New("request not applicable")
)

// Estimator is one statistical model family.
//
// Learn, Derive and Test follow the io.Reader convention: they may return a usable
// result together with a non-nil error describing the requests they had to skip.
// A nil result with an error is a failure of the whole phase.
type Estimator interface {
	// Name identifies the estimator; it is stored in every model it produces.
	Name() string
	// Learn builds a primary model from one pass over data.
	Learn(data *table.Table, reqs []Request) (*model.Model, error)
	// Aggregate merges primary models learned on disjoint partitions.
	Aggregate(models []*model.Model) (*model.Model, error)
	// Derive extends a primary model in place with derived statistics.
	Derive(m *model.Model) error
	// SelectAssessFunctor returns the per-row evaluator for one request.
	SelectAssessFunctor(data *table.Table, m *model.Model, req Request) (AssessFunctor, error)
	// Test computes one row of statistics per request.
	Test(data *table.Table, m *model.Model, reqs []Request, backend PValueBackend) (*table.Table, error)
}

// PartialTester is implemented by estimators whose test statistic needs sums over
// the whole distributed data set. The engine all-reduces the moments between
// TestMoments and TestFromMoments.
//
// The length of the moments vector must depend on the model only, so that every
// worker contributes a vector of the same shape; TestMoments returns zeros with a
// non-nil error for the requests the local data cannot serve, and nil only when the
// model itself is unusable.
type PartialTester interface {
	TestMoments(data *table.Table, m *model.Model, reqs []Request) ([]float64, error)
	TestFromMoments(m *model.Model, reqs []Request, moments []float64, backend PValueBackend) (*table.Table, error)
}

// ModelTester marks estimators whose Test rows depend on the model and the requests
// alone, so workers holding the same model produce identical rows.
type ModelTester interface {
	TestsModelOnly()
}

// SharedTest reports whether every worker computes the same Test rows for est once
// the model has been exchanged.
func SharedTest(est Estimator) bool {
	switch est.(type) {
	case PartialTester, ModelTester:
		return true
	}

	return false
}

// Configurable estimators expose their options the way pipeline items do.
type Configurable interface {
	ListConfigurationOptions() []pipeline.ConfigurationOption
	Configure(facts pipeline.Facts) error
}

// AssessFunctor evaluates one request against one data row.
type AssessFunctor interface {
	// Columns names the output columns, one per value written by Assess.
	Columns() []string
	// Assess writes len(Columns()) values for data row into dst.
	Assess(row int, dst []float64)
}

// RequestKind classifies the value kind of a request.
type RequestKind int

const (
	// NumericScalar is a single numeric column.
	NumericScalar RequestKind = iota
	// NumericVector is several numeric columns.
	NumericVector
	// Text is any request with at least one text or variant column.
	Text
)

// String returns the kind name.
func (k RequestKind) String() string {
	switch k {
	case NumericScalar:
		return "numeric-scalar"
	case NumericVector:
		return "numeric-vector"
	case Text:
		return "text"
	}

	return fmt.Sprintf("RequestKind(%d)", int(k))
}

// KindOf returns the value kind of req over data.
func KindOf(data *table.Table, req Request) (RequestKind, error) {
	kind := NumericScalar
	if len(req) > 1 {
		kind = NumericVector
	}

	for _, name := range req {
		col, ok := data.Column(name)
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
		}

		if col.Kind() != table.KindNumeric {
			kind = Text
		}
	}

	return kind, nil
}

// CheckColumns returns an error wrapping ErrUnknownColumn when a column of req is
// missing from data.
func CheckColumns(data *table.Table, req Request) error {
	for _, name := range req {
		if _, ok := data.Column(name); !ok {
			return fmt.Errorf("%w: %q in request %q", ErrUnknownColumn, name, req.Name())
		}
	}

	return nil
}

// Variables returns the sorted union of the columns of reqs present in data. Missing
// columns are logged and reported in the joined error.
func Variables(data *table.Table, reqs []Request, logger *slog.Logger) ([]string, error) {
	seen := make(map[string]bool)

	var (
		vars []string
		errs []error
	)

	for _, req := range reqs {
		for _, name := range req {
			if seen[name] {
				continue
			}

			seen[name] = true

			if _, ok := data.Column(name); !ok {
				err := fmt.Errorf("%w: %q", ErrUnknownColumn, name)
				Logger(logger).Warn("skipping request column", "column", name, "error", err)
				errs = append(errs, err)

				continue
			}

			vars = append(vars, name)
		}
	}

	slices.Sort(vars)

	return vars, errors.Join(errs...)
}

// Logger returns l, or slog.Default() when l is nil.
func Logger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}

	return slog.Default()
}
