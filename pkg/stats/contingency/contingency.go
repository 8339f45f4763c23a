// Package contingency implements bivariate contingency statistics: joint counts of
// value pairs, marginal and conditional probabilities, pointwise mutual information,
// information entropies and the chi-square independence test.
package contingency

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/Sumatoshi-tech/parstat/pkg/model"
	"github.com/Sumatoshi-tech/parstat/pkg/stats"
	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

// Name identifies the estimator in models.
const Name = "contingency"

// Block names. Derive appends one marginal block per variable, named after it.
const (
	BlockSummary     = "Summary"
	BlockContingency = "Contingency Table"
)

const (
	colVariableX   = "Variable X"
	colVariableY   = "Variable Y"
	colKey         = "Key"
	colX           = "x"
	colY           = "y"
	colCardinality = "Cardinality"
	colP           = "P"
	colPYgivenX    = "Py|x"
	colPXgivenY    = "Px|y"
	colPMI         = "PMI"
	colHXY         = "H(X,Y)"
	colHYgivenX    = "H(Y|X)"
	colHXgivenY    = "H(X|Y)"
	colDOF         = "d"
	colChi2        = "Chi2"
	colChi2Yates   = "Chi2 Yates"
	colPYates      = "P Yates"

	// cardinalityKey marks row 0 of the contingency table.
	cardinalityKey = -1

	// cdfTolerance bounds the deviation of the joint probabilities from 1.
	cdfTolerance = 1e-6
	yatesOffset  = 0.5
)

var _ stats.ModelTester = (*Estimator)(nil)

// Estimator computes contingency statistics over column pairs.
type Estimator struct {
	Logger *slog.Logger
}

// New returns a contingency estimator.
func New() *Estimator {
	return &Estimator{}
}

// Name implements stats.Estimator.
func (e *Estimator) Name() string { return Name }

type pair struct {
	x, y string
}

func comparePairs(a, b pair) int {
	return cmp.Or(cmp.Compare(a.x, b.x), cmp.Compare(a.y, b.y))
}

type cell struct {
	x, y table.Value
}

func compareCells(a, b cell) int {
	return cmp.Or(table.Compare(a.x, b.x), table.Compare(a.y, b.y))
}

// counts is the decoded primary model: the pairs in key order and the joint counts
// of each pair.
type counts struct {
	n     float64
	pairs []pair
	joint []map[cell]float64
}

func (c *counts) index(p pair) int {
	return slices.Index(c.pairs, p)
}

// Learn counts the value pairs of every two-column request. Every row is counted,
// so all pairs share the cardinality stored in row 0 of the contingency table.
func (e *Estimator) Learn(data *table.Table, reqs []stats.Request) (*model.Model, error) {
	logger := stats.Logger(e.Logger)
	c := &counts{n: float64(data.NumRows())}

	var errs []error

	for _, req := range reqs {
		req = stats.NewRequest(req...)

		err := checkRequest(data, req)
		if err != nil {
			logger.Warn("skipping request", "estimator", Name, "request", req.Name(), "error", err)
			errs = append(errs, err)

			continue
		}

		p := pair{x: req[0], y: req[1]}
		if c.index(p) >= 0 {
			continue
		}

		colX, _ := data.Column(p.x)
		colY, _ := data.Column(p.y)
		joint := make(map[cell]float64)

		for i := range data.NumRows() {
			joint[cell{x: colX.Value(i), y: colY.Value(i)}]++
		}

		c.pairs = append(c.pairs, p)
		c.joint = append(c.joint, joint)
	}

	return c.model(), errors.Join(errs...)
}

func checkRequest(data *table.Table, req stats.Request) error {
	if len(req) != 2 {
		return fmt.Errorf("%w: contingency requests take two columns, got %q", stats.ErrBadRequest, req.Name())
	}

	for _, name := range req {
		if name == BlockSummary || name == BlockContingency {
			return fmt.Errorf("%w: variable name %q is reserved", stats.ErrBadRequest, name)
		}
	}

	return stats.CheckColumns(data, req)
}

// Aggregate sums the joint counts pair by pair. Keys are matched through the
// variable names and reassigned in sorted pair order.
func (e *Estimator) Aggregate(models []*model.Model) (*model.Model, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("%w: no models", stats.ErrShapeMismatch)
	}

	total, err := readCounts(models[0])
	if err != nil {
		return nil, err
	}

	for i, m := range models[1:] {
		c, readErr := readCounts(m)
		if readErr != nil {
			return nil, readErr
		}

		if len(c.pairs) != len(total.pairs) {
			return nil, fmt.Errorf("%w: model %d has %d pairs, want %d", stats.ErrShapeMismatch, i+1, len(c.pairs), len(total.pairs))
		}

		for k, p := range c.pairs {
			j := total.index(p)
			if j < 0 {
				return nil, fmt.Errorf("%w: model %d has pair (%s,%s) missing from model 0", stats.ErrShapeMismatch, i+1, p.x, p.y)
			}

			for key, n := range c.joint[k] {
				total.joint[j][key] += n
			}
		}

		total.n += c.n
	}

	order := make([]int, len(total.pairs))
	for i := range order {
		order[i] = i
	}

	slices.SortFunc(order, func(a, b int) int { return comparePairs(total.pairs[a], total.pairs[b]) })

	out := &counts{n: total.n}
	for _, i := range order {
		out.pairs = append(out.pairs, total.pairs[i])
		out.joint = append(out.joint, total.joint[i])
	}

	return out.model(), nil
}

func (c *counts) model() *model.Model {
	summary := table.MustNew(table.NewText(colVariableX), table.NewText(colVariableY))
	joint := table.MustNew(
		table.NewNumeric(colKey),
		table.NewVariant(colX),
		table.NewVariant(colY),
		table.NewNumeric(colCardinality),
	)

	_ = joint.AppendRow(table.Num(cardinalityKey), table.Text(""), table.Text(""), table.Num(c.n))

	for key, p := range c.pairs {
		_ = summary.AppendRow(table.Text(p.x), table.Text(p.y))

		cells := make([]cell, 0, len(c.joint[key]))
		for k := range c.joint[key] {
			cells = append(cells, k)
		}

		slices.SortFunc(cells, compareCells)

		for _, k := range cells {
			_ = joint.AppendRow(table.Num(float64(key)), k.x, k.y, table.Num(c.joint[key][k]))
		}
	}

	m := model.New(Name)
	m.Append(BlockSummary, summary)
	m.Append(BlockContingency, joint)

	return m
}

func requireColumns(t *table.Table, block string, names ...string) ([]*table.Column, error) {
	cols := make([]*table.Column, len(names))

	for i, name := range names {
		col, ok := t.Column(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s lacks column %q", stats.ErrIncompleteModel, block, name)
		}

		cols[i] = col
	}

	return cols, nil
}

func readCounts(m *model.Model) (*counts, error) {
	summary, err := m.MustBlock(BlockSummary)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", stats.ErrIncompleteModel, err)
	}

	joint, err := m.MustBlock(BlockContingency)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", stats.ErrIncompleteModel, err)
	}

	names, err := requireColumns(summary, BlockSummary, colVariableX, colVariableY)
	if err != nil {
		return nil, err
	}

	cols, err := requireColumns(joint, BlockContingency, colKey, colX, colY, colCardinality)
	if err != nil {
		return nil, err
	}

	if joint.NumRows() == 0 || cols[0].Float(0) != cardinalityKey {
		return nil, fmt.Errorf("%w: %s lacks the cardinality row", stats.ErrIncompleteModel, BlockContingency)
	}

	c := &counts{n: cols[3].Float(0)}

	for i := range summary.NumRows() {
		c.pairs = append(c.pairs, pair{x: names[0].Text(i), y: names[1].Text(i)})
		c.joint = append(c.joint, make(map[cell]float64))
	}

	for r := 1; r < joint.NumRows(); r++ {
		key := int(cols[0].Float(r))
		if key < 0 || key >= len(c.pairs) {
			return nil, fmt.Errorf("%w: row %d refers to key %d of %d", stats.ErrInconsistentModel, r, key, len(c.pairs))
		}

		c.joint[key][cell{x: cols[1].Value(r), y: cols[2].Value(r)}] += cols[3].Float(r)
	}

	return c, nil
}

// setColumn overwrites the numeric column name of t with vals, adding it if needed.
func setColumn(t *table.Table, name string, vals []float64) {
	if col, ok := t.Column(name); ok && col.Kind() == table.KindNumeric && col.Len() == len(vals) {
		for i, v := range vals {
			col.SetFloat(i, v)
		}

		return
	}

	_ = t.AddColumn(table.NewNumeric(name, vals...))
}

// Derive computes the joint and conditional probabilities, the pointwise mutual
// information and the entropies of every pair, and appends one marginal block per
// variable. Pairs whose counts do not add up to the cardinality get NaN.
func (e *Estimator) Derive(m *model.Model) error {
	summary, okSummary := m.Block(BlockSummary)
	joint, okJoint := m.Block(BlockContingency)

	if !okSummary || !okJoint {
		return nil
	}

	c, err := readCounts(m)
	if err != nil {
		return err
	}

	if c.n == 0 {
		return nil
	}

	m.Truncate(2)

	var errs []error

	consistent := make([]bool, len(c.pairs))

	for k, p := range c.pairs {
		sum := 0.0
		for _, n := range c.joint[k] {
			sum += n
		}

		consistent[k] = sum == c.n
		if !consistent[k] {
			err := fmt.Errorf("%w: counts of (%s,%s) sum to %g, cardinality is %g",
				stats.ErrInconsistentModel, p.x, p.y, sum, c.n)
			stats.Logger(e.Logger).Warn("inconsistent pair", "estimator", Name, "error", err)
			errs = append(errs, err)
		}
	}

	marginals := c.marginals()

	rows := joint.NumRows()
	probs := [4][]float64{}

	for j := range probs {
		probs[j] = make([]float64, rows)
		probs[j][0] = math.NaN()
	}

	entropies := [3][]float64{}
	for j := range entropies {
		entropies[j] = make([]float64, len(c.pairs))
	}

	cols, _ := requireColumns(joint, BlockContingency, colKey, colX, colY, colCardinality)

	for r := 1; r < rows; r++ {
		key := int(cols[0].Float(r))
		if !consistent[key] {
			for j := range probs {
				probs[j][r] = math.NaN()
			}

			for j := range entropies {
				entropies[j][key] = math.NaN()
			}

			continue
		}

		p := c.pairs[key]
		pxy := cols[3].Float(r) / c.n
		px := marginals[p.x][cols[1].Value(r)] / c.n
		py := marginals[p.y][cols[2].Value(r)] / c.n

		probs[0][r] = pxy
		probs[1][r] = pxy / px
		probs[2][r] = pxy / py
		probs[3][r] = math.Log(pxy / (px * py))

		for j := range entropies {
			entropies[j][key] -= pxy * math.Log(probs[j][r])
		}
	}

	for j, name := range []string{colP, colPYgivenX, colPXgivenY, colPMI} {
		setColumn(joint, name, probs[j])
	}

	for j, name := range []string{colHXY, colHYgivenX, colHXgivenY} {
		setColumn(summary, name, entropies[j])
	}

	variables := make([]string, 0, len(marginals))
	for v := range marginals {
		variables = append(variables, v)
	}

	slices.Sort(variables)

	for _, v := range variables {
		m.Append(v, marginalTable(v, marginals[v], c.n))
	}

	return errors.Join(errs...)
}

// marginals returns the value counts of every variable, taken from the first pair
// that contains it.
func (c *counts) marginals() map[string]map[table.Value]float64 {
	out := make(map[string]map[table.Value]float64)

	for k, p := range c.pairs {
		for side, v := range []string{p.x, p.y} {
			if _, done := out[v]; done {
				continue
			}

			marg := make(map[table.Value]float64)

			for key, n := range c.joint[k] {
				if side == 0 {
					marg[key.x] += n
				} else {
					marg[key.y] += n
				}
			}

			out[v] = marg
		}
	}

	return out
}

func marginalTable(variable string, marg map[table.Value]float64, n float64) *table.Table {
	vals := sortedKeys(marg)

	out := table.MustNew(table.NewVariant(variable), table.NewNumeric(colCardinality), table.NewNumeric(colP))
	for _, v := range vals {
		_ = out.AppendRow(v, table.Num(marg[v]), table.Num(marg[v]/n))
	}

	return out
}

// SelectAssessFunctor returns P(X,Y), Py|x(X,Y), Px|y(X,Y) and PMI(X,Y). It is
// refused when the joint probabilities of the pair do not sum to one.
func (e *Estimator) SelectAssessFunctor(data *table.Table, m *model.Model, req stats.Request) (stats.AssessFunctor, error) {
	req = stats.NewRequest(req...)

	err := checkRequest(data, req)
	if err != nil {
		return nil, err
	}

	c, err := readCounts(m)
	if err != nil {
		return nil, err
	}

	key := c.index(pair{x: req[0], y: req[1]})
	if key < 0 {
		return nil, fmt.Errorf("%w: no pair (%s,%s)", stats.ErrIncompleteModel, req[0], req[1])
	}

	joint, _ := m.Block(BlockContingency)

	cols, err := requireColumns(joint, BlockContingency, colKey, colX, colY, colP, colPYgivenX, colPXgivenY, colPMI)
	if err != nil {
		return nil, err
	}

	values := make(map[cell][4]float64)
	cdf := 0.0

	for r := 1; r < joint.NumRows(); r++ {
		if int(cols[0].Float(r)) != key {
			continue
		}

		v := [4]float64{cols[3].Float(r), cols[4].Float(r), cols[5].Float(r), cols[6].Float(r)}
		values[cell{x: cols[1].Value(r), y: cols[2].Value(r)}] = v
		cdf += v[0]
	}

	if !(math.Abs(cdf-1) <= cdfTolerance) {
		return nil, fmt.Errorf("%w: joint probabilities of (%s,%s) sum to %g", stats.ErrInconsistentModel, req[0], req[1], cdf)
	}

	colX, _ := data.Column(req[0])
	colY, _ := data.Column(req[1])
	suffix := "(" + req[0] + "," + req[1] + ")"

	return &pairFunctor{
		x:      colX,
		y:      colY,
		values: values,
		names: []string{
			colP + suffix, colPYgivenX + suffix, colPXgivenY + suffix, colPMI + suffix,
		},
	}, nil
}

// pairFunctor looks up the derived values of the (x, y) pair of a row. Pairs never
// seen at learn time have zero probability and an undefined PMI.
type pairFunctor struct {
	x, y   *table.Column
	values map[cell][4]float64
	names  []string
}

func (f *pairFunctor) Columns() []string { return f.names }

func (f *pairFunctor) Assess(row int, dst []float64) {
	v, ok := f.values[cell{x: f.x.Value(row), y: f.y.Value(row)}]
	if !ok {
		dst[0], dst[1], dst[2], dst[3] = 0, 0, 0, math.NaN()

		return
	}

	copy(dst, v[:])
}

// TestsModelOnly implements stats.ModelTester.
func (e *Estimator) TestsModelOnly() {}

// Test runs the chi-square independence test, with and without the Yates
// continuity correction, on every requested pair.
func (e *Estimator) Test(
	data *table.Table, m *model.Model, reqs []stats.Request, backend stats.PValueBackend,
) (*table.Table, error) {
	c, err := readCounts(m)
	if err != nil {
		return nil, err
	}

	out := table.MustNew(
		table.NewText(colVariableX),
		table.NewText(colVariableY),
		table.NewNumeric(colDOF),
		table.NewNumeric(colChi2),
		table.NewNumeric(colChi2Yates),
		table.NewNumeric(colP),
		table.NewNumeric(colPYates),
	)

	var errs []error

	for _, req := range reqs {
		req = stats.NewRequest(req...)

		row, testErr := c.chiSquare(data, m, req)
		if testErr != nil {
			stats.Logger(e.Logger).Warn("cannot test pair", "estimator", Name, "request", req.Name(), "error", testErr)
			errs = append(errs, testErr)

			continue
		}

		_ = out.AppendRow(table.Text(req[0]), table.Text(req[1]), table.Num(row.dof),
			table.Num(row.chi2), table.Num(row.chi2Yates),
			table.Num(stats.ChiSquaredP(backend, row.chi2, row.dof)),
			table.Num(stats.ChiSquaredP(backend, row.chi2Yates, row.dof)))
	}

	return out, errors.Join(errs...)
}

type chiSquareRow struct {
	dof, chi2, chi2Yates float64
}

func (c *counts) chiSquare(data *table.Table, m *model.Model, req stats.Request) (chiSquareRow, error) {
	err := checkRequest(data, req)
	if err != nil {
		return chiSquareRow{}, err
	}

	key := c.index(pair{x: req[0], y: req[1]})
	if key < 0 {
		return chiSquareRow{}, fmt.Errorf("%w: no pair (%s,%s)", stats.ErrIncompleteModel, req[0], req[1])
	}

	observed := c.joint[key]

	sum := 0.0
	for _, n := range observed {
		sum += n
	}

	if sum != c.n {
		return chiSquareRow{}, fmt.Errorf("%w: counts of (%s,%s) sum to %g, cardinality is %g",
			stats.ErrInconsistentModel, req[0], req[1], sum, c.n)
	}

	margX, err := readMarginal(m, req[0])
	if err != nil {
		return chiSquareRow{}, err
	}

	margY, err := readMarginal(m, req[1])
	if err != nil {
		return chiSquareRow{}, err
	}

	var row chiSquareRow

	xs, ys := sortedKeys(margX), sortedKeys(margY)

	for _, x := range xs {
		nx := margX[x]

		for _, y := range ys {
			ny := margY[y]
			expected := nx * ny / c.n
			delta := expected - observed[cell{x: x, y: y}]
			row.chi2 += delta * delta / expected

			delta = math.Abs(delta) - yatesOffset
			row.chi2Yates += delta * delta / expected
		}
	}

	row.dof = float64((len(margX) - 1) * (len(margY) - 1))

	return row, nil
}

func sortedKeys(marg map[table.Value]float64) []table.Value {
	vals := make([]table.Value, 0, len(marg))
	for v := range marg {
		vals = append(vals, v)
	}

	slices.SortFunc(vals, table.Compare)

	return vals
}

func readMarginal(m *model.Model, variable string) (map[table.Value]float64, error) {
	block, ok := m.Block(variable)
	if !ok {
		return nil, fmt.Errorf("%w: no marginal block for %q", stats.ErrIncompleteModel, variable)
	}

	cols, err := requireColumns(block, variable, variable, colCardinality)
	if err != nil {
		return nil, err
	}

	out := make(map[table.Value]float64, block.NumRows())
	for r := range block.NumRows() {
		out[cols[0].Value(r)] = cols[1].Float(r)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty marginal block for %q", stats.ErrIncompleteModel, variable)
	}

	return out, nil
}
