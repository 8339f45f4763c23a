package stats

import (
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/parstat/pkg/model"
	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

// Assess returns a copy of data with the assessment columns of every request
// appended. Requests whose functor cannot be built are skipped and reported.
// When the estimator has no assessment at all, Assess returns nil and no error.
func Assess(data *table.Table, m *model.Model, est Estimator, reqs []Request) (*table.Table, error) {
	out := data.Clone()
	rows := data.NumRows()

	var errs []error

	for _, req := range reqs {
		fn, err := est.SelectAssessFunctor(data, m, req)
		if errors.Is(err, ErrNotSupported) {
			return nil, nil
		}

		if err != nil {
			errs = append(errs, fmt.Errorf("assess %q: %w", req.Name(), err))

			continue
		}

		names := fn.Columns()
		cols := make([]*table.Column, len(names))

		for i, name := range names {
			cols[i] = table.NewColumn(name, table.KindNumeric, rows)
		}

		dst := make([]float64, len(names))

		for r := range rows {
			fn.Assess(r, dst)

			for i, col := range cols {
				col.AppendFloat(dst[i])
			}
		}

		for _, col := range cols {
			err = out.AddColumn(col)
			if err != nil {
				errs = append(errs, fmt.Errorf("assess %q: %w", req.Name(), err))
			}
		}
	}

	return out, errors.Join(errs...)
}
