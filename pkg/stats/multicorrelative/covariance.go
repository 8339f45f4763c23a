package multicorrelative

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/Sumatoshi-tech/parstat/pkg/model"
	"github.com/Sumatoshi-tech/parstat/pkg/stats"
	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

// Primary block names shared with the PCA estimator.
const (
	BlockCovariance = "Raw Sparse Covariance Data"
	BlockRequests   = "Requests"
)

// Column and row names of the primary and per-request blocks.
const (
	ColColumn1     = "Column1"
	ColColumn2     = "Column2"
	ColEntries     = "Entries"
	ColRequest     = "Request"
	ColVariable    = "Variable"
	ColColumn      = "Column"
	ColMean        = "Mean"
	RowCardinality = "Cardinality"
	RowCholesky    = "Cholesky"

	primaryBlocks = 2
	blockPrefix   = "Cov("
)

// sparse is the decoded primary model: the cardinality, the means of every
// variable and the co-moment sums of the pairs needed by the requests.
type sparse struct {
	n        float64
	vars     []string
	means    []float64
	pairs    [][2]int
	comoment []float64
	requests []stats.Request
}

func (s *sparse) varIndex(name string) int {
	i, ok := slices.BinarySearch(s.vars, name)
	if !ok {
		return -1
	}

	return i
}

func (s *sparse) pairIndex(j, k int) int {
	if j > k {
		j, k = k, j
	}

	i, ok := slices.BinarySearchFunc(s.pairs, [2]int{j, k}, comparePair)
	if !ok {
		return -1
	}

	return i
}

func comparePair(a, b [2]int) int {
	if c := a[0] - b[0]; c != 0 {
		return c
	}

	return a[1] - b[1]
}

// BlockName returns the name of the derived block of req.
func BlockName(req stats.Request) string {
	return blockPrefix + strings.Join(req, ",") + ")"
}

func checkNumeric(data *table.Table, req stats.Request) error {
	err := stats.CheckColumns(data, req)
	if err != nil {
		return err
	}

	for _, name := range req {
		col, _ := data.Column(name)
		if col.Kind() != table.KindNumeric {
			return fmt.Errorf("%w: %q is not numeric", stats.ErrBadRequest, name)
		}
	}

	return nil
}

// LearnModel computes the sparse covariance model of reqs over data. Every row is
// counted; NaN cells propagate into the affected means and co-moments.
func LearnModel(estimator string, data *table.Table, reqs []stats.Request, logger *slog.Logger) (*model.Model, error) {
	logger = stats.Logger(logger)

	var (
		errs  []error
		valid []stats.Request
	)

	for _, req := range reqs {
		req = stats.NewRequest(req...)
		if len(req) == 0 {
			continue
		}

		err := checkNumeric(data, req)
		if err != nil {
			logger.Warn("skipping request", "estimator", estimator, "request", req.Name(), "error", err)
			errs = append(errs, err)

			continue
		}

		if !slices.ContainsFunc(valid, func(r stats.Request) bool { return slices.Equal(r, req) }) {
			valid = append(valid, req)
		}
	}

	slices.SortFunc(valid, func(a, b stats.Request) int { return slices.Compare(a, b) })

	s := &sparse{n: float64(data.NumRows()), requests: valid}

	for _, req := range valid {
		s.vars = append(s.vars, req...)
	}

	slices.Sort(s.vars)
	s.vars = slices.Compact(s.vars)

	for _, req := range valid {
		for a := range req {
			for b := a; b < len(req); b++ {
				p := [2]int{s.varIndex(req[a]), s.varIndex(req[b])}
				if !slices.Contains(s.pairs, p) {
					s.pairs = append(s.pairs, p)
				}
			}
		}
	}

	slices.SortFunc(s.pairs, comparePair)

	cols := make([][]float64, len(s.vars))
	for j, v := range s.vars {
		col, _ := data.Column(v)
		cols[j] = col.Floats()
	}

	s.means = make([]float64, len(s.vars))
	s.comoment = make([]float64, len(s.pairs))

	for i := range data.NumRows() {
		fi := float64(i)
		w := fi / (fi + 1)

		for p, pr := range s.pairs {
			s.comoment[p] += (cols[pr[0]][i] - s.means[pr[0]]) * (cols[pr[1]][i] - s.means[pr[1]]) * w
		}

		for j := range s.means {
			s.means[j] += (cols[j][i] - s.means[j]) / (fi + 1)
		}
	}

	return s.model(estimator), errors.Join(errs...)
}

func (s *sparse) model(estimator string) *model.Model {
	cov := table.MustNew(table.NewText(ColColumn1), table.NewText(ColColumn2), table.NewNumeric(ColEntries))
	_ = cov.AppendRow(table.Text(RowCardinality), table.Text(""), table.Num(s.n))

	for j, v := range s.vars {
		_ = cov.AppendRow(table.Text(v), table.Text(""), table.Num(s.means[j]))
	}

	for p, pr := range s.pairs {
		_ = cov.AppendRow(table.Text(s.vars[pr[0]]), table.Text(s.vars[pr[1]]), table.Num(s.comoment[p]))
	}

	reqs := table.MustNew(table.NewNumeric(ColRequest), table.NewText(ColVariable))

	for r, req := range s.requests {
		for _, v := range req {
			_ = reqs.AppendRow(table.Num(float64(r)), table.Text(v))
		}
	}

	m := model.New(estimator)
	m.Append(BlockCovariance, cov)
	m.Append(BlockRequests, reqs)

	return m
}

func readSparse(m *model.Model) (*sparse, error) {
	cov, err := m.MustBlock(BlockCovariance)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", stats.ErrIncompleteModel, err)
	}

	reqBlock, err := m.MustBlock(BlockRequests)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", stats.ErrIncompleteModel, err)
	}

	c1, ok1 := cov.Column(ColColumn1)
	c2, ok2 := cov.Column(ColColumn2)
	entries, ok3 := cov.Column(ColEntries)

	if !ok1 || !ok2 || !ok3 || cov.NumRows() == 0 || c1.Text(0) != RowCardinality {
		return nil, fmt.Errorf("%w: malformed %s", stats.ErrIncompleteModel, BlockCovariance)
	}

	s := &sparse{n: entries.Float(0)}

	r := 1
	for ; r < cov.NumRows() && c2.Text(r) == ""; r++ {
		s.vars = append(s.vars, c1.Text(r))
		s.means = append(s.means, entries.Float(r))
	}

	if !slices.IsSorted(s.vars) {
		return nil, fmt.Errorf("%w: variables of %s are not sorted", stats.ErrInconsistentModel, BlockCovariance)
	}

	for ; r < cov.NumRows(); r++ {
		j, k := s.varIndex(c1.Text(r)), s.varIndex(c2.Text(r))
		if j < 0 || k < 0 {
			return nil, fmt.Errorf("%w: pair (%s,%s) refers to an unknown variable",
				stats.ErrInconsistentModel, c1.Text(r), c2.Text(r))
		}

		s.pairs = append(s.pairs, [2]int{j, k})
		s.comoment = append(s.comoment, entries.Float(r))
	}

	idx, okIdx := reqBlock.Column(ColRequest)
	names, okNames := reqBlock.Column(ColVariable)

	if !okIdx || !okNames {
		return nil, fmt.Errorf("%w: malformed %s", stats.ErrIncompleteModel, BlockRequests)
	}

	for i := range reqBlock.NumRows() {
		r := int(idx.Float(i))

		switch {
		case r == len(s.requests):
			s.requests = append(s.requests, nil)
		case r < 0 || r != len(s.requests)-1:
			return nil, fmt.Errorf("%w: %s rows are not grouped", stats.ErrInconsistentModel, BlockRequests)
		}

		s.requests[r] = append(s.requests[r], names.Text(i))
	}

	err = s.validate()
	if err != nil {
		return nil, err
	}

	return s, nil
}

// validate checks that every pair needed by the requests is present.
func (s *sparse) validate() error {
	if !slices.IsSortedFunc(s.pairs, comparePair) {
		return fmt.Errorf("%w: pairs of %s are not sorted", stats.ErrInconsistentModel, BlockCovariance)
	}

	for _, req := range s.requests {
		for a := range req {
			for b := a; b < len(req); b++ {
				j, k := s.varIndex(req[a]), s.varIndex(req[b])
				if j < 0 || k < 0 || s.pairIndex(j, k) < 0 {
					return fmt.Errorf("%w: request %q lacks pair (%s,%s)",
						stats.ErrInconsistentModel, req.Name(), req[a], req[b])
				}
			}
		}
	}

	return nil
}

func (s *sparse) sameShape(o *sparse) bool {
	return slices.Equal(s.vars, o.vars) &&
		slices.Equal(s.pairs, o.pairs) &&
		slices.EqualFunc(s.requests, o.requests, func(a, b stats.Request) bool { return slices.Equal(a, b) })
}

// merge folds o into s with the pairwise update of means and co-moments.
func (s *sparse) merge(o *sparse) {
	total := s.n + o.n
	if o.n == 0 {
		return
	}

	if s.n == 0 {
		s.n, s.means, s.comoment = o.n, slices.Clone(o.means), slices.Clone(o.comoment)

		return
	}

	factor := s.n * o.n / total

	for p, pr := range s.pairs {
		dj := o.means[pr[0]] - s.means[pr[0]]
		dk := o.means[pr[1]] - s.means[pr[1]]
		s.comoment[p] += o.comoment[p] + dj*dk*factor
	}

	for j := range s.means {
		s.means[j] += (o.means[j] - s.means[j]) * o.n / total
	}

	s.n = total
}

// AggregateModels merges sparse covariance models computed over the same requests.
func AggregateModels(estimator string, models []*model.Model) (*model.Model, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("%w: no models", stats.ErrShapeMismatch)
	}

	acc, err := readSparse(models[0])
	if err != nil {
		return nil, err
	}

	for i, m := range models[1:] {
		s, readErr := readSparse(m)
		if readErr != nil {
			return nil, readErr
		}

		if !acc.sameShape(s) {
			return nil, fmt.Errorf("%w: model %d covers different requests", stats.ErrShapeMismatch, i+1)
		}

		acc.merge(s)
	}

	return acc.model(estimator), nil
}

// DeriveModel replaces the derived blocks of m with one Cov block per request.
// Blocks whose covariance is not positive definite carry a NaN factor and are
// reported with stats.ErrNotPositiveDefinite.
func DeriveModel(m *model.Model, logger *slog.Logger) error {
	if _, ok := m.Block(BlockCovariance); !ok {
		return nil
	}

	s, err := readSparse(m)
	if err != nil {
		return err
	}

	if s.n == 0 {
		return nil
	}

	m.Truncate(primaryBlocks)

	var errs []error

	for _, req := range s.requests {
		block, blockErr := s.covarianceBlock(req)
		if blockErr != nil {
			stats.Logger(logger).Warn("covariance factorization failed", "request", req.Name(), "error", blockErr)
			errs = append(errs, blockErr)
		}

		m.Append(BlockName(req), block)
	}

	return errors.Join(errs...)
}

// covarianceBlock lays out the unbiased covariance of req in the upper triangle,
// the means and cardinality in Mean, and the Cholesky factor in the lower triangle
// shifted one row down.
func (s *sparse) covarianceBlock(req stats.Request) (*table.Table, error) {
	dim := len(req)
	idx := make([]int, dim)

	for i, v := range req {
		idx[i] = s.varIndex(v)
	}

	scale := 1 / (s.n - 1)
	sym := mat.NewSymDense(dim, nil)
	finite := true

	for j := range dim {
		for k := j; k < dim; k++ {
			v := s.comoment[s.pairIndex(idx[j], idx[k])] * scale
			finite = finite && !math.IsNaN(v) && !math.IsInf(v, 0)
			sym.SetSym(j, k, v)
		}
	}

	names := append(slices.Clone([]string(req)), RowCholesky)
	means := make([]float64, dim+1)

	for j := range dim {
		means[j] = s.means[idx[j]]
	}

	means[dim] = s.n

	cols := make([][]float64, dim)
	for j := range dim {
		cols[j] = make([]float64, dim+1)
		for k := 0; k <= j; k++ {
			cols[j][k] = sym.At(k, j)
		}
	}

	var chol mat.Cholesky

	ok := finite && chol.Factorize(sym)

	var factorErr error

	if ok {
		var l mat.TriDense

		chol.LTo(&l)

		for j := range dim {
			for i := j; i < dim; i++ {
				cols[j][i+1] = l.At(i, j)
			}
		}
	} else {
		factorErr = fmt.Errorf("%w: covariance of %s", stats.ErrNotPositiveDefinite, BlockName(req))

		for j := range dim {
			for i := j; i < dim; i++ {
				cols[j][i+1] = math.NaN()
			}
		}
	}

	out := table.MustNew(table.NewText(ColColumn, names...), table.NewNumeric(ColMean, means...))
	for j, v := range req {
		_ = out.AddColumn(table.NewNumeric(v, cols[j]...))
	}

	return out, factorErr
}

// Covariance is the decoded derived block of one request.
type Covariance struct {
	Variables []string
	Mean      []float64
	N         float64
	// Matrix is the unbiased covariance matrix.
	Matrix *mat.SymDense
	// Factor is the lower Cholesky factor; nil when it holds NaN.
	Factor *mat.TriDense
}

// ReadCovariance decodes the first len(Variables)+1 rows of a Cov block.
func ReadCovariance(block *table.Table) (*Covariance, error) {
	names, okNames := block.Column(ColColumn)
	means, okMeans := block.Column(ColMean)

	if !okNames || !okMeans {
		return nil, fmt.Errorf("%w: covariance block lacks %q or %q", stats.ErrIncompleteModel, ColColumn, ColMean)
	}

	dim := block.NumColumns() - 2
	if dim <= 0 || block.NumRows() <= dim || names.Text(dim) != RowCholesky {
		return nil, fmt.Errorf("%w: malformed covariance block", stats.ErrIncompleteModel)
	}

	c := &Covariance{
		Variables: make([]string, dim),
		Mean:      make([]float64, dim),
		N:         means.Float(dim),
		Matrix:    mat.NewSymDense(dim, nil),
	}

	factor := mat.NewTriDense(dim, mat.Lower, nil)
	finite := true

	for j := range dim {
		c.Variables[j] = names.Text(j)
		c.Mean[j] = means.Float(j)

		col := block.ColumnAt(j + 2)
		if col.Name() != c.Variables[j] || col.Kind() != table.KindNumeric {
			return nil, fmt.Errorf("%w: covariance column %d is %q, want %q",
				stats.ErrInconsistentModel, j, col.Name(), c.Variables[j])
		}

		for k := 0; k <= j; k++ {
			c.Matrix.SetSym(k, j, col.Float(k))
		}

		for i := j; i < dim; i++ {
			v := col.Float(i + 1)
			finite = finite && !math.IsNaN(v)
			factor.SetTri(i, j, v)
		}
	}

	if finite {
		c.Factor = factor
	}

	return c, nil
}

// Requests returns the Cov blocks of m in request order.
func Requests(m *model.Model) []model.Block {
	var out []model.Block

	for _, b := range m.Blocks() {
		if strings.HasPrefix(b.Name, blockPrefix) {
			out = append(out, b)
		}
	}

	return out
}
