package descriptive

import "math"

// moments are the running central moments of one variable.
type moments struct {
	n, min, max, mean, m2, m3, m4 float64
}

func newMoments() moments {
	return moments{min: math.Inf(1), max: math.Inf(-1)}
}

// add folds x into the moments with the one-pass update extended to M3 and M4.
func (m *moments) add(x float64) {
	m.min = math.Min(m.min, x)
	m.max = math.Max(m.max, x)

	n1 := m.n
	m.n++
	n := m.n

	delta := x - m.mean
	dn := delta / n
	dn2 := dn * dn
	term1 := delta * dn * n1

	m.mean += dn
	m.m4 += term1*dn2*(n*n-3*n+3) + 6*dn2*m.m2 - 4*dn*m.m3
	m.m3 += term1*dn*(n-2) - 3*dn*m.m2
	m.m2 += term1
}

// merge folds o into m with the pairwise update.
func (m *moments) merge(o moments) {
	switch {
	case o.n == 0:
		return
	case m.n == 0:
		*m = o

		return
	}

	n1, n2 := m.n, o.n
	n := n1 + n2
	delta := o.mean - m.mean
	delta2 := delta * delta
	n1n2 := n1 * n2

	m4 := m.m4 + o.m4 +
		delta2*delta2*n1n2*(n1*n1-n1n2+n2*n2)/(n*n*n) +
		6*delta2*(n1*n1*o.m2+n2*n2*m.m2)/(n*n) +
		4*delta*(n1*o.m3-n2*m.m3)/n
	m3 := m.m3 + o.m3 +
		delta*delta2*n1n2*(n1-n2)/(n*n) +
		3*delta*(n1*o.m2-n2*m.m2)/n
	m2 := m.m2 + o.m2 + n1n2*delta2/n

	m.mean += n2 * delta / n
	m.m2, m.m3, m.m4 = m2, m3, m4
	m.n = n
	m.min = math.Min(m.min, o.min)
	m.max = math.Max(m.max, o.max)
}

// derived statistics of one variable.
type derived struct {
	stdev, variance, skewness, kurtosis, sum float64
}

func (m moments) derive(unbiased, g1, g2 bool) derived {
	n := m.n
	if n == 0 {
		nan := math.NaN()

		return derived{stdev: nan, variance: nan, skewness: nan, kurtosis: nan, sum: 0}
	}

	d := derived{sum: m.mean * n, skewness: math.NaN(), kurtosis: math.NaN()}

	if n == 1 {
		return d
	}

	if unbiased {
		d.variance = m.m2 / (n - 1)
	} else {
		d.variance = m.m2 / n
	}

	d.stdev = math.Sqrt(d.variance)

	varPrime := m.m2 / (n - 1)
	if varPrime <= 0 {
		return d
	}

	d.skewness = m.m3 / (n * math.Pow(varPrime, 1.5))
	d.kurtosis = m.m4/(n*varPrime*varPrime) - 3

	if g1 && n > 2 {
		d.skewness *= n * n / ((n - 1) * (n - 2))
	}

	if g2 && n > 3 {
		d.kurtosis = ((n+1)*d.kurtosis + 6) * (n - 1) / ((n - 2) * (n - 3))
	}

	return d
}
