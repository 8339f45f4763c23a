// Package config loads the parstat configuration file and maps it onto estimator
// facts.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Sumatoshi-tech/parstat/pkg/stats/catalog"
)

// Config is the top-level configuration struct for parstat.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Estimator string     `mapstructure:"estimator"`
	Requests  [][]string `mapstructure:"requests"`
	Workers   int        `mapstructure:"workers"`

	Phases    PhasesConfig    `mapstructure:"phases"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Store     StoreConfig     `mapstructure:"store"`

	Descriptive     DescriptiveConfig     `mapstructure:"descriptive"`
	Order           OrderConfig           `mapstructure:"order"`
	PCA             PCAConfig             `mapstructure:"pca"`
	AutoCorrelative AutoCorrelativeConfig `mapstructure:"autocorrelative"`
}

// PhasesConfig switches engine phases.
type PhasesConfig struct {
	Learn  bool `mapstructure:"learn"`
	Derive bool `mapstructure:"derive"`
	Assess bool `mapstructure:"assess"`
	Test   bool `mapstructure:"test"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	MetricsAddr  string  `mapstructure:"metrics_addr"`
}

// StoreConfig locates the named model store.
type StoreConfig struct {
	Dir string `mapstructure:"dir"`
}

// DescriptiveConfig holds descriptive estimator settings.
type DescriptiveConfig struct {
	Unbiased         bool `mapstructure:"unbiased"`
	G1Skewness       bool `mapstructure:"g1_skewness"`
	G2Kurtosis       bool `mapstructure:"g2_kurtosis"`
	SignedDeviations bool `mapstructure:"signed_deviations"`
}

// OrderConfig holds order estimator settings.
type OrderConfig struct {
	NumberOfIntervals    int    `mapstructure:"number_of_intervals"`
	QuantileDefinition   string `mapstructure:"quantile_definition"`
	Quantize             bool   `mapstructure:"quantize"`
	MaximumHistogramSize int    `mapstructure:"maximum_histogram_size"`
}

// PCAConfig holds PCA estimator settings.
type PCAConfig struct {
	NormalizationScheme    string  `mapstructure:"normalization_scheme"`
	SpecifiedNormalization string  `mapstructure:"specified_normalization"`
	BasisScheme            string  `mapstructure:"basis_scheme"`
	FixedBasisSize         int     `mapstructure:"fixed_basis_size"`
	FixedBasisEnergy       float64 `mapstructure:"fixed_basis_energy"`
}

// AutoCorrelativeConfig holds auto-correlative estimator settings.
type AutoCorrelativeConfig struct {
	SliceCardinality int   `mapstructure:"slice_cardinality"`
	TimeLags         []int `mapstructure:"time_lags"`
}

const maxSampleRatio = 1.0

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"json", "text"}
)

// Sentinel errors for configuration validation.
var (
	// ErrInvalidWorkers indicates the workers value is not positive.
	ErrInvalidWorkers = errors.New("workers must be positive")
	// ErrUnknownEstimator indicates an estimator name absent from the catalog.
	ErrUnknownEstimator = errors.New("estimator is not known")
	// ErrInvalidLogLevel indicates an unsupported logging.level.
	ErrInvalidLogLevel = errors.New("logging.level must be debug, info, warn or error")
	// ErrInvalidLogFormat indicates an unsupported logging.format.
	ErrInvalidLogFormat = errors.New("logging.format must be json or text")
	// ErrInvalidSampleRatio indicates a sampling ratio outside [0, 1].
	ErrInvalidSampleRatio = errors.New("telemetry.sample_ratio must be between 0 and 1")
	// ErrEmptyRequest indicates a request without columns.
	ErrEmptyRequest = errors.New("requests must name at least one column")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, c.Workers)
	}

	if c.Estimator != "" {
		if _, ok := catalog.Lookup(c.Estimator); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownEstimator, c.Estimator)
		}
	}

	if !slices.Contains(logLevels, strings.ToLower(c.Logging.Level)) {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level)
	}

	if !slices.Contains(logFormats, strings.ToLower(c.Logging.Format)) {
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Logging.Format)
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > maxSampleRatio {
		return fmt.Errorf("%w: %v", ErrInvalidSampleRatio, c.Telemetry.SampleRatio)
	}

	for i, req := range c.Requests {
		if len(req) == 0 {
			return fmt.Errorf("%w: request %d", ErrEmptyRequest, i)
		}
	}

	return nil
}
