package pca

import "strconv"

// NormalizationScheme selects how the covariance matrix is scaled before its
// eigendecomposition.
type NormalizationScheme int

const (
	// None decomposes the covariance matrix as is.
	None NormalizationScheme = iota
	// TriangleSpecified divides every upper-triangle entry by a user factor.
	TriangleSpecified
	// DiagonalSpecified divides entry (i,j) by sqrt(f_i*f_j) for user factors f.
	DiagonalSpecified
	// DiagonalVariance turns the covariance matrix into the correlation matrix.
	DiagonalVariance
)

var normalizationNames = [...]string{"None", "TriangleSpecified", "DiagonalSpecified", "DiagonalVariance"}

// String returns the scheme name.
func (s NormalizationScheme) String() string {
	if s >= 0 && int(s) < len(normalizationNames) {
		return normalizationNames[s]
	}

	return "NormalizationScheme(" + strconv.Itoa(int(s)) + ")"
}

// ParseNormalizationScheme is the inverse of NormalizationScheme.String.
func ParseNormalizationScheme(name string) (NormalizationScheme, bool) {
	for i, n := range normalizationNames {
		if n == name {
			return NormalizationScheme(i), true
		}
	}

	return None, false
}

func (s NormalizationScheme) specified() bool {
	return s == TriangleSpecified || s == DiagonalSpecified
}

// BasisScheme selects how many principal components Assess projects onto.
type BasisScheme int

const (
	// FullBasis keeps every component.
	FullBasis BasisScheme = iota
	// FixedBasisSize keeps the first FixedBasisSize components.
	FixedBasisSize
	// FixedBasisEnergy keeps the fewest components whose eigenvalues exceed the
	// FixedBasisEnergy fraction of the total.
	FixedBasisEnergy
)

var basisNames = [...]string{"FullBasis", "FixedBasisSize", "FixedBasisEnergy"}

// String returns the scheme name.
func (s BasisScheme) String() string {
	if s >= 0 && int(s) < len(basisNames) {
		return basisNames[s]
	}

	return "BasisScheme(" + strconv.Itoa(int(s)) + ")"
}

// ParseBasisScheme is the inverse of BasisScheme.String.
func ParseBasisScheme(name string) (BasisScheme, bool) {
	for i, n := range basisNames {
		if n == name {
			return BasisScheme(i), true
		}
	}

	return FullBasis, false
}
