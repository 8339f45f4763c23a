package stats_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/parstat/pkg/model"
	"github.com/Sumatoshi-tech/parstat/pkg/stats"
	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

// sumEstimator learns the sum of every requested column.
type sumEstimator struct{}

func (sumEstimator) Name() string { return "sum" }

func (sumEstimator) Learn(data *table.Table, reqs []stats.Request) (*model.Model, error) {
	vars, err := stats.Variables(data, reqs, nil)
	out := table.MustNew(table.NewText("Variable"), table.NewNumeric("Sum"))

	for _, v := range vars {
		col, _ := data.Column(v)

		total := 0.0
		for i := range col.Len() {
			total += col.Float(i)
		}

		_ = out.AppendRow(table.Text(v), table.Num(total))
	}

	m := model.New("sum")
	m.Append("Sums", out)

	return m, err
}

func (sumEstimator) Aggregate(models []*model.Model) (*model.Model, error) {
	out := models[0].Clone()
	sums, _ := out.Block("Sums")
	col, _ := sums.Column("Sum")

	for _, m := range models[1:] {
		other, _ := m.Block("Sums")
		oc, _ := other.Column("Sum")

		for i := range col.Len() {
			col.SetFloat(i, col.Float(i)+oc.Float(i))
		}
	}

	return out, nil
}

func (sumEstimator) Derive(m *model.Model) error {
	m.Put("Derived", table.MustNew(table.NewNumeric("Blocks", float64(m.NumBlocks()))))

	return nil
}

type offsetFunctor struct {
	col   *table.Column
	total float64
	name  string
}

func (f offsetFunctor) Columns() []string { return []string{"share(" + f.name + ")"} }

func (f offsetFunctor) Assess(row int, dst []float64) { dst[0] = f.col.Float(row) / f.total }

func (sumEstimator) SelectAssessFunctor(data *table.Table, m *model.Model, req stats.Request) (stats.AssessFunctor, error) {
	col, ok := data.Column(req[0])
	if !ok {
		return nil, stats.ErrUnknownColumn
	}

	sums, _ := m.Block("Sums")

	return offsetFunctor{col: col, total: sums.ColumnAt(1).Float(0), name: req[0]}, nil
}

func (sumEstimator) Test(_ *table.Table, _ *model.Model, _ []stats.Request, _ stats.PValueBackend) (*table.Table, error) {
	return nil, stats.ErrNotSupported
}

func TestEngine_RunAllPhases(t *testing.T) {
	t.Parallel()

	data := table.MustNew(table.NewNumeric("a", 1, 3))
	engine := stats.NewEngine(sumEstimator{}, stats.EngineConfig{
		Options:  stats.AllPhases(),
		Requests: []stats.Request{{"a"}, {"missing"}},
	})

	res, err := engine.Run(context.Background(), data)
	require.NoError(t, err)

	// The missing column is reported by Learn and again by Assess.
	require.Len(t, res.Issues, 2)
	require.ErrorIs(t, res.Err(), stats.ErrUnknownColumn)

	sums, ok := res.Model.Block("Sums")
	require.True(t, ok)
	assert.InDelta(t, 4.0, sums.ColumnAt(1).Float(0), 0)
	assert.Equal(t, []string{"Sums", "Derived"}, res.Model.Names())

	share, ok := res.Assessed.Column("share(a)")
	require.True(t, ok)
	assert.Equal(t, []float64{0.25, 0.75}, share.Floats())
	assert.Nil(t, res.Tested)
}

func TestEngine_PriorModel(t *testing.T) {
	t.Parallel()

	prior := model.New("sum")
	prior.Append("Sums", table.MustNew(table.NewText("Variable", "a"), table.NewNumeric("Sum", 10)))

	engine := stats.NewEngine(sumEstimator{}, stats.EngineConfig{
		Options:  stats.Options{Assess: true},
		Requests: []stats.Request{{"a"}},
		Prior:    prior,
	})

	res, err := engine.Run(context.Background(), table.MustNew(table.NewNumeric("a", 5)))
	require.NoError(t, err)

	share, _ := res.Assessed.Column("share(a)")
	assert.Equal(t, []float64{0.5}, share.Floats())
	assert.Equal(t, 1, prior.NumBlocks())

	_, err = stats.NewEngine(sumEstimator{}, stats.EngineConfig{}).Run(context.Background(), table.MustNew())
	require.ErrorIs(t, err, stats.ErrNoModel)

	_, err = stats.NewEngine(sumEstimator{}, stats.EngineConfig{Prior: model.New("order")}).
		Run(context.Background(), table.MustNew())
	require.ErrorIs(t, err, stats.ErrShapeMismatch)
}

type failingExchanger struct{}

var errWire = errors.New("wire down")

func (failingExchanger) Size() int { return 2 }

func (failingExchanger) Exchange(context.Context, stats.Estimator, *model.Model) (*model.Model, error) {
	return nil, errWire
}

func (failingExchanger) AllReduceSum(context.Context, []float64) ([]float64, error) {
	return nil, errWire
}

func TestEngine_ExchangeFailureIsFatal(t *testing.T) {
	t.Parallel()

	engine := stats.NewEngine(sumEstimator{}, stats.EngineConfig{
		Options:   stats.AllPhases(),
		Requests:  []stats.Request{{"a"}},
		Exchanger: failingExchanger{},
	})

	res, err := engine.Run(context.Background(), table.MustNew(table.NewNumeric("a", 1)))
	require.ErrorIs(t, err, errWire)
	assert.Nil(t, res)
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	data := table.MustNew(table.NewNumeric("a", 1), table.NewNumeric("b", 2), table.NewText("c", "x"))

	tests := []struct {
		name string
		req  stats.Request
		want stats.RequestKind
	}{
		{"scalar", stats.Request{"a"}, stats.NumericScalar},
		{"vector", stats.Request{"a", "b"}, stats.NumericVector},
		{"text", stats.Request{"a", "c"}, stats.Text},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := stats.KindOf(data, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := stats.KindOf(data, stats.Request{"zz"})
	require.ErrorIs(t, err, stats.ErrUnknownColumn)
}

type modelOnlyEstimator struct{ sumEstimator }

func (modelOnlyEstimator) TestsModelOnly() {}

func TestSharedTest(t *testing.T) {
	t.Parallel()

	assert.False(t, stats.SharedTest(sumEstimator{}))
	assert.True(t, stats.SharedTest(modelOnlyEstimator{}))
}
