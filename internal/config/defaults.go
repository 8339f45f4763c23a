package config

import (
	"github.com/Sumatoshi-tech/parstat/pkg/stats/order"
	"github.com/Sumatoshi-tech/parstat/pkg/stats/pca"
)

// Run defaults.
const (
	DefaultWorkers   = 1
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
	DefaultStoreDir  = ""
)

// Descriptive estimator defaults.
const (
	DefaultDescriptiveUnbiased         = true
	DefaultDescriptiveG1Skewness       = false
	DefaultDescriptiveG2Kurtosis       = false
	DefaultDescriptiveSignedDeviations = false
)

// Order estimator defaults.
const (
	DefaultOrderNumberOfIntervals    = order.DefaultNumberOfIntervals
	DefaultOrderQuantize             = false
	DefaultOrderMaximumHistogramSize = order.DefaultMaximumHistogramSize
)

// DefaultOrderQuantileDefinition is the quantile definition used when none is set.
var DefaultOrderQuantileDefinition = order.InverseCDFAveragedSteps.String()

// PCA estimator defaults.
const (
	DefaultPCAFixedBasisSize   = 0
	DefaultPCAFixedBasisEnergy = pca.DefaultFixedBasisEnergy
)

// PCA scheme defaults.
var (
	DefaultPCANormalizationScheme = pca.None.String()
	DefaultPCABasisScheme         = pca.FullBasis.String()
)

// Auto-correlative estimator defaults.
const DefaultAutoCorrelativeSliceCardinality = 0

// DefaultAutoCorrelativeTimeLags is the lag list used when none is set.
var DefaultAutoCorrelativeTimeLags = []int{1}
