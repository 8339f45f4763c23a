// Package pvalue provides p-value backends for the statistical tests.
package pvalue

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// kolmogorovTerms bounds the alternating series; terms past it are below 1e-300
// for every argument where the series is evaluated.
const kolmogorovTerms = 100

// kolmogorovSmall is the argument below which the survival function is 1 to double
// precision.
const kolmogorovSmall = 0.18

// Gonum computes p-values with gonum distributions.
type Gonum struct{}

// ChiSquaredSurvival returns the upper tail of the chi-square distribution. A
// non-positive dof yields NaN.
func (Gonum) ChiSquaredSurvival(stat, dof float64) float64 {
	if dof <= 0 || math.IsNaN(stat) || math.IsNaN(dof) {
		return math.NaN()
	}

	if stat <= 0 {
		return 1
	}

	return distuv.ChiSquared{K: dof}.Survival(stat)
}

// KolmogorovSmirnovSurvival returns Q(x) = 2 * sum_{k>=1} (-1)^(k-1) exp(-2 k^2 x^2).
func (Gonum) KolmogorovSmirnovSurvival(stat float64) float64 {
	switch {
	case math.IsNaN(stat):
		return math.NaN()
	case stat < kolmogorovSmall:
		return 1
	}

	sum := 0.0
	sign := 1.0

	for k := 1; k <= kolmogorovTerms; k++ {
		term := math.Exp(-2 * float64(k*k) * stat * stat)
		sum += sign * term

		if term < 1e-300 {
			break
		}

		sign = -sign
	}

	return math.Min(1, math.Max(0, 2*sum))
}
