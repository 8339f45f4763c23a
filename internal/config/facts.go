package config

import (
	"github.com/Sumatoshi-tech/parstat/pkg/pipeline"
	"github.com/Sumatoshi-tech/parstat/pkg/stats/autocorrelative"
	"github.com/Sumatoshi-tech/parstat/pkg/stats/descriptive"
	"github.com/Sumatoshi-tech/parstat/pkg/stats/order"
	"github.com/Sumatoshi-tech/parstat/pkg/stats/pca"
)

// positive constrains types eligible for skip-on-zero fact application.
type positive interface {
	~int | ~float64
}

// applyPositive sets facts[key] = value when value is positive.
// Zero values are skipped, allowing the estimator to use its built-in default.
func applyPositive[T positive](facts pipeline.Facts, key string, value T) {
	if value > 0 {
		facts[key] = value
	}
}

// applyNonEmpty sets facts[key] = value when value is non-empty.
func applyNonEmpty(facts pipeline.Facts, key, value string) {
	if value != "" {
		facts[key] = value
	}
}

// applyInts sets facts[key] = values when the list is non-empty.
func applyInts(facts pipeline.Facts, key string, values []int) {
	if len(values) > 0 {
		facts[key] = values
	}
}

// applyBool sets facts[key] = value unconditionally.
// Boolean config fields are always applied because false is a meaningful override.
func applyBool(facts pipeline.Facts, key string, value bool) {
	facts[key] = value
}

// Facts maps the estimator sections onto facts keyed by configuration option name.
func (c *Config) Facts() pipeline.Facts {
	facts := pipeline.Facts{}
	c.ApplyToFacts(facts)

	return facts
}

// ApplyToFacts merges config values into facts.
// Only non-zero config values override existing facts; zero values
// indicate "use estimator default" and are skipped.
// Boolean fields are always applied because false is a meaningful value.
func (c *Config) ApplyToFacts(facts pipeline.Facts) {
	ds := c.Descriptive

	applyBool(facts, descriptive.ConfigUnbiased, ds.Unbiased)
	applyBool(facts, descriptive.ConfigG1Skewness, ds.G1Skewness)
	applyBool(facts, descriptive.ConfigG2Kurtosis, ds.G2Kurtosis)
	applyBool(facts, descriptive.ConfigSignedDeviations, ds.SignedDeviations)

	od := c.Order

	applyPositive(facts, order.ConfigNumberOfIntervals, od.NumberOfIntervals)
	applyNonEmpty(facts, order.ConfigQuantileDefinition, od.QuantileDefinition)
	applyBool(facts, order.ConfigQuantize, od.Quantize)
	applyPositive(facts, order.ConfigMaximumHistogramSize, od.MaximumHistogramSize)

	pc := c.PCA

	applyNonEmpty(facts, pca.ConfigNormalizationScheme, pc.NormalizationScheme)
	applyNonEmpty(facts, pca.ConfigSpecifiedNormalization, pc.SpecifiedNormalization)
	applyNonEmpty(facts, pca.ConfigBasisScheme, pc.BasisScheme)
	applyPositive(facts, pca.ConfigFixedBasisSize, pc.FixedBasisSize)
	applyPositive(facts, pca.ConfigFixedBasisEnergy, pc.FixedBasisEnergy)

	ac := c.AutoCorrelative

	applyPositive(facts, autocorrelative.ConfigSliceCardinality, ac.SliceCardinality)
	applyInts(facts, autocorrelative.ConfigTimeLags, ac.TimeLags)
}
