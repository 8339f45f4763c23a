package order

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/Sumatoshi-tech/parstat/pkg/stats"
	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

// bucket is one histogram entry.
type bucket[T comparable] struct {
	value T
	count float64
}

// kindOps implements the histogram, quantile and distance computations once for
// every value kind. T is float64 for numeric columns, string for text columns and
// table.Value for variant or mixed columns.
type kindOps[T comparable] struct {
	kind    table.Kind
	compare func(a, b T) int
	read    func(col *table.Column) []T
	wrap    func(v T) table.Value
	// missing reports values that are not counted, such as NaN.
	missing func(v T) bool
	// midpoint interpolates two quantile candidates; nil keeps the lower one.
	midpoint func(a, b T) T
	// quantize reduces an oversized histogram; nil leaves it exact.
	quantize func(exact []bucket[T], limit int) []bucket[T]
}

// handler is the kind-erased view of kindOps used by the estimator.
type handler interface {
	histogram(col *table.Column, limit int) *table.Table
	merge(blocks []*table.Table, limit int) (*table.Table, error)
	derive(block *table.Table, variable string, intervals int, def QuantileDefinition) (float64, *table.Column, error)
	functor(data, quantiles *table.Column, name string) stats.AssessFunctor
	distance(data, quantiles *table.Column) (dmax, n float64)
}

var (
	numericOps = kindOps[float64]{
		kind:     table.KindNumeric,
		compare:  cmp.Compare[float64],
		read:     func(col *table.Column) []float64 { return col.Floats() },
		wrap:     table.Num,
		missing:  math.IsNaN,
		midpoint: func(a, b float64) float64 { return 0.5 * (a + b) },
		quantize: quantize,
	}
	textOps = kindOps[string]{
		kind:    table.KindText,
		compare: cmp.Compare[string],
		read:    func(col *table.Column) []string { return col.Texts() },
		wrap:    table.Text,
		missing: func(string) bool { return false },
	}
	variantOps = kindOps[table.Value]{
		kind:    table.KindVariant,
		compare: table.Compare,
		read:    func(col *table.Column) []table.Value { return col.Values() },
		wrap:    func(v table.Value) table.Value { return v },
		missing: func(table.Value) bool { return false },
	}
)

// handlerFor returns the implementation for values of kind k.
func handlerFor(k table.Kind) handler {
	switch k {
	case table.KindNumeric:
		return numericOps
	case table.KindText:
		return textOps
	default:
		return variantOps
	}
}

// handlerForPair picks the typed implementation when both columns share a kind and
// falls back to variant comparison otherwise.
func handlerForPair(a, b *table.Column) handler {
	if a.Kind() == b.Kind() {
		return handlerFor(a.Kind())
	}

	return variantOps
}

func (o kindOps[T]) count(vals []T, weights []float64) []bucket[T] {
	return countBuckets(vals, weights, o.missing, o.compare)
}

// countBuckets sums weights (1 each when nil) per distinct value and sorts the result.
func countBuckets[T comparable](vals []T, weights []float64, missing func(T) bool, compare func(a, b T) int) []bucket[T] {
	counts := make(map[T]float64)

	for i, v := range vals {
		if missing(v) {
			continue
		}

		w := 1.0
		if weights != nil {
			w = weights[i]
		}

		counts[v] += w
	}

	out := make([]bucket[T], 0, len(counts))
	for v, c := range counts {
		out = append(out, bucket[T]{value: v, count: c})
	}

	slices.SortFunc(out, func(a, b bucket[T]) int { return compare(a.value, b.value) })

	return out
}

func (o kindOps[T]) limit(b []bucket[T], limit int) []bucket[T] {
	if o.quantize == nil || limit < minHistogramSize || len(b) <= limit {
		return b
	}

	return o.quantize(b, limit)
}

func (o kindOps[T]) table(b []bucket[T]) *table.Table {
	values := table.NewColumn(colValue, o.kind, len(b))
	counts := table.NewColumn(colCardinality, table.KindNumeric, len(b))

	for _, e := range b {
		values.Append(o.wrap(e.value))
		counts.AppendFloat(e.count)
	}

	return table.MustNew(values, counts)
}

func (o kindOps[T]) buckets(block *table.Table) ([]T, []float64, error) {
	values, ok := block.Column(colValue)
	if !ok {
		return nil, nil, fmt.Errorf("%w: histogram lacks %q", stats.ErrIncompleteModel, colValue)
	}

	counts, ok := block.Column(colCardinality)
	if !ok {
		return nil, nil, fmt.Errorf("%w: histogram lacks %q", stats.ErrIncompleteModel, colCardinality)
	}

	if values.Kind() != o.kind {
		return nil, nil, fmt.Errorf("%w: histogram values are %s, want %s", stats.ErrShapeMismatch, values.Kind(), o.kind)
	}

	return o.read(values), counts.Floats(), nil
}

func (o kindOps[T]) histogram(col *table.Column, limit int) *table.Table {
	return o.table(o.limit(o.count(o.read(col), nil), limit))
}

func (o kindOps[T]) merge(blocks []*table.Table, limit int) (*table.Table, error) {
	var (
		vals    []T
		weights []float64
	)

	for _, block := range blocks {
		v, w, err := o.buckets(block)
		if err != nil {
			return nil, err
		}

		vals = append(vals, v...)
		weights = append(weights, w...)
	}

	return o.table(o.limit(o.count(vals, weights), limit)), nil
}

// derive adds the P column to block and returns the cardinality and the quantile
// column of the variable.
func (o kindOps[T]) derive(block *table.Table, variable string, intervals int, def QuantileDefinition) (float64, *table.Column, error) {
	vals, counts, err := o.buckets(block)
	if err != nil {
		return 0, nil, err
	}

	cdf := make([]float64, len(counts))
	n := 0.0

	for i, c := range counts {
		n += c
		cdf[i] = n
	}

	probs := make([]float64, len(counts))
	for i, c := range counts {
		probs[i] = c / n
	}

	if p, ok := block.Column(colP); ok {
		for i, v := range probs {
			p.SetFloat(i, v)
		}
	} else {
		_ = block.AddColumn(table.NewNumeric(colP, probs...))
	}

	quant := table.NewColumn(variable, o.kind, intervals+1)
	if len(vals) == 0 {
		quant.Resize(intervals + 1)

		return n, quant, nil
	}

	ranks, err := quantileRanks(cdf, n, intervals, def)
	if err != nil {
		return n, nil, fmt.Errorf("variable %q: %w", variable, err)
	}

	for _, r := range ranks {
		q := vals[r[0]]
		if def == InverseCDFAveragedSteps && o.midpoint != nil {
			q = o.midpoint(vals[r[0]], vals[r[1]])
		}

		quant.Append(o.wrap(q))
	}

	return n, quant, nil
}

func (o kindOps[T]) functor(data, quantiles *table.Column, name string) stats.AssessFunctor {
	return &quantileFunctor[T]{
		data:      o.read(data),
		quantiles: o.read(quantiles),
		compare:   o.compare,
		missing:   o.missing,
		name:      name,
	}
}

// quantileFunctor maps a value to the index of the quantile interval holding it:
// 0 below the minimum, otherwise the smallest q >= 1 with x <= Q[q].
type quantileFunctor[T comparable] struct {
	data      []T
	quantiles []T
	compare   func(a, b T) int
	missing   func(v T) bool
	name      string
}

func (f *quantileFunctor[T]) Columns() []string { return []string{f.name} }

func (f *quantileFunctor[T]) Assess(row int, dst []float64) {
	x := f.data[row]

	switch {
	case f.missing(x):
		dst[0] = math.NaN()

		return
	case f.compare(x, f.quantiles[0]) < 0:
		dst[0] = 0

		return
	}

	q := 1
	for q < len(f.quantiles) && f.compare(x, f.quantiles[q]) > 0 {
		q++
	}

	dst[0] = float64(q)
}

// distance returns the largest vertical distance between the empirical CDF of data
// and the step CDF of the quantiles, and the number of values counted.
func (o kindOps[T]) distance(data, quantiles *table.Column) (float64, float64) {
	empirical := o.count(o.read(data), nil)
	qs := o.read(quantiles)

	n := 0.0
	for _, b := range empirical {
		n += b.count
	}

	if n == 0 || len(qs) == 0 {
		return math.NaN(), n
	}

	// Merge the quantile values into the empirical support; a quantile absent from
	// the data takes the ECDF of its predecessor.
	points := make([]bucket[T], 0, len(empirical)+len(qs))
	points = append(points, empirical...)

	for _, q := range qs {
		if o.missing(q) {
			continue
		}

		points = append(points, bucket[T]{value: q})
	}

	slices.SortStableFunc(points, func(a, b bucket[T]) int { return o.compare(a.value, b.value) })

	nq := float64(len(qs))
	cum, mcdf, dmax := 0.0, 0.0, 0.0
	current := 0

	for _, p := range points {
		cum += p.count / n

		if o.compare(p.value, qs[0]) >= 0 {
			for current < len(qs) && o.compare(p.value, qs[current]) >= 0 {
				current++
			}

			mcdf = float64(current) / nq
		}

		dmax = math.Max(dmax, math.Abs(cum-mcdf))
	}

	return dmax, n
}

// quantileRanks returns, for each of the intervals+1 quantiles, the pair of histogram
// rows whose values define it. The first and last quantiles are the extreme rows.
func quantileRanks(cdf []float64, n float64, intervals int, def QuantileDefinition) ([][2]int, error) {
	rows := len(cdf)
	ranks := make([][2]int, 0, intervals+1)
	ranks = append(ranks, [2]int{0, 0})

	rank := 0
	dh := n / float64(intervals)

	advance := func(target float64) error {
		for target > cdf[rank] {
			rank++

			if rank >= rows {
				return fmt.Errorf("%w: cdf ends at %g below quantile index %g", stats.ErrInconsistentModel, cdf[rows-1], target)
			}
		}

		return nil
	}

	for k := 1; k < intervals; k++ {
		np := float64(k) * dh

		idx1 := math.Ceil(np)
		if def == InverseCDFAveragedSteps {
			idx1 = math.Round(np)
		}

		err := advance(idx1)
		if err != nil {
			return nil, err
		}

		first := rank

		if def == InverseCDFAveragedSteps {
			idx2 := math.Floor(np + 1)
			if idx2 != idx1 {
				err = advance(idx2)
				if err != nil {
					return nil, err
				}
			}
		}

		ranks = append(ranks, [2]int{first, rank})
	}

	ranks = append(ranks, [2]int{rows - 1, rows - 1})

	return ranks, nil
}

// quantize coarsens a numeric histogram until it has at most limit buckets. Each
// round buckets finite values to multiples of a width measured from the finite
// minimum, doubling the width when a round fails to shrink the histogram. The finite
// minimum and maximum and any infinite values always keep their own buckets, so the
// histogram never shrinks below those.
func quantize(exact []bucket[float64], limit int) []bucket[float64] {
	first, last := finiteSpan(exact)
	if first > last {
		return exact
	}

	lo, hi := exact[first].value, exact[last].value
	floor := len(exact) - (last - first + 1) + min(2, last-first+1)
	current := exact

	for len(current) > max(limit, floor) {
		finite := len(current) - (len(exact) - (last - first + 1))
		width := (hi - lo) / math.Max(1, math.Round(float64(finite)/2))
		next := requantize(exact, lo, hi, width)

		for len(next) >= len(current) {
			width *= 2
			next = requantize(exact, lo, hi, width)
		}

		current = next
	}

	return current
}

// finiteSpan returns the indices of the first and last finite buckets of a sorted
// histogram, or first > last when none is finite.
func finiteSpan(exact []bucket[float64]) (first, last int) {
	first, last = 0, len(exact)-1

	for first <= last && math.IsInf(exact[first].value, 0) {
		first++
	}

	for last >= first && math.IsInf(exact[last].value, 0) {
		last--
	}

	return first, last
}

func requantize(exact []bucket[float64], lo, hi, width float64) []bucket[float64] {
	vals := make([]float64, len(exact))
	weights := make([]float64, len(exact))

	for i, b := range exact {
		v := b.value
		if v != lo && v != hi && !math.IsInf(v, 0) {
			v = math.Min(hi, math.Max(lo, lo+math.Round((v-lo)/width)*width))
		}

		vals[i] = v
		weights[i] = b.count
	}

	return countBuckets(vals, weights, math.IsNaN, cmp.Compare[float64])
}
