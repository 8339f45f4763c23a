package stats

// NoPValue fills P columns when no p-value backend is configured.
const NoPValue = -1.0

// PValueBackend turns test statistics into p-values.
type PValueBackend interface {
	// ChiSquaredSurvival returns P(X > stat) for a chi-square variable with dof degrees of freedom.
	ChiSquaredSurvival(stat, dof float64) float64
	// KolmogorovSmirnovSurvival returns the asymptotic P(K > stat) of the Kolmogorov distribution.
	KolmogorovSmirnovSurvival(stat float64) float64
}

// ChiSquaredP returns the chi-square p-value, or NoPValue when backend is nil.
func ChiSquaredP(backend PValueBackend, stat, dof float64) float64 {
	if backend == nil {
		return NoPValue
	}

	return backend.ChiSquaredSurvival(stat, dof)
}

// KolmogorovSmirnovP returns the Kolmogorov-Smirnov p-value, or NoPValue when backend is nil.
func KolmogorovSmirnovP(backend PValueBackend, stat float64) float64 {
	if backend == nil {
		return NoPValue
	}

	return backend.KolmogorovSmirnovSurvival(stat)
}
