package autocorrelative

import (
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/Sumatoshi-tech/parstat/pkg/stats"
	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

// FFT transforms every numeric column of series into a column with the same name
// and length.
type FFT func(series *table.Table) (*table.Table, error)

// GonumFFT returns the modulus of the discrete Fourier transform of each column.
func GonumFFT(series *table.Table) (*table.Table, error) {
	n := series.NumRows()
	out := &table.Table{}

	var fft *fourier.CmplxFFT
	if n > 0 {
		fft = fourier.NewCmplxFFT(n)
	}

	seq := make([]complex128, n)
	coeff := make([]complex128, n)

	for _, col := range series.Columns() {
		if col.Kind() != table.KindNumeric {
			return nil, fmt.Errorf("%w: series %q is not numeric", stats.ErrBadRequest, col.Name())
		}

		for i, x := range col.Floats() {
			seq[i] = complex(x, 0)
		}

		mod := make([]float64, n)

		if fft != nil {
			fft.Coefficients(coeff, seq)

			for i, c := range coeff {
				mod[i] = cmplx.Abs(c)
			}
		}

		err := out.AddColumn(table.NewNumeric(col.Name(), mod...))
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}
