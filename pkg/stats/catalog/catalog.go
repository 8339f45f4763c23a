// Package catalog lists the available estimators and builds them by name.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Sumatoshi-tech/parstat/pkg/pipeline"
	"github.com/Sumatoshi-tech/parstat/pkg/stats"
	"github.com/Sumatoshi-tech/parstat/pkg/stats/autocorrelative"
	"github.com/Sumatoshi-tech/parstat/pkg/stats/contingency"
	"github.com/Sumatoshi-tech/parstat/pkg/stats/descriptive"
	"github.com/Sumatoshi-tech/parstat/pkg/stats/multicorrelative"
	"github.com/Sumatoshi-tech/parstat/pkg/stats/order"
	"github.com/Sumatoshi-tech/parstat/pkg/stats/pca"
)

// ErrUnknownEstimator is returned when a lookup fails.
var ErrUnknownEstimator = errors.New("unknown estimator")

// Descriptor contains stable estimator metadata.
type Descriptor struct {
	Name        string
	Description string
	// Arity is the number of columns per request, or 0 when any number is accepted.
	Arity int
}

type entry struct {
	Descriptor

	build func(logger *slog.Logger) stats.Estimator
}

var entries = []entry{
	{
		Descriptor: Descriptor{descriptive.Name, "Extrema, moments, variance, skewness and kurtosis.", 1},
		build: func(l *slog.Logger) stats.Estimator {
			e := descriptive.New()
			e.Logger = l

			return e
		},
	},
	{
		Descriptor: Descriptor{order.Name, "Histograms, quantiles and the Kolmogorov-Smirnov test.", 1},
		build: func(l *slog.Logger) stats.Estimator {
			e := order.New()
			e.Logger = l

			return e
		},
	},
	{
		Descriptor: Descriptor{contingency.Name, "Contingency tables, information entropies and chi-square tests.", 2},
		build: func(l *slog.Logger) stats.Estimator {
			e := contingency.New()
			e.Logger = l

			return e
		},
	},
	{
		Descriptor: Descriptor{multicorrelative.Name, "Covariance matrices and Mahalanobis distances.", 0},
		build: func(l *slog.Logger) stats.Estimator {
			e := multicorrelative.New()
			e.Logger = l

			return e
		},
	},
	{
		Descriptor: Descriptor{pca.Name, "Principal components, projections and the Jarque-Bera-Srivastava test.", 0},
		build: func(l *slog.Logger) stats.Estimator {
			e := pca.New()
			e.Logger = l

			return e
		},
	},
	{
		Descriptor: Descriptor{autocorrelative.Name, "Lagged moments, autocorrelation and its Fourier transform.", 1},
		build: func(l *slog.Logger) stats.Estimator {
			e := autocorrelative.New()
			e.Logger = l

			return e
		},
	},
}

// All returns every descriptor in stable order.
func All() []Descriptor {
	out := make([]Descriptor, len(entries))
	for i, e := range entries {
		out[i] = e.Descriptor
	}

	return out
}

// Names returns the estimator names in stable order.
func Names() []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}

	return out
}

// Lookup returns the descriptor of the named estimator.
func Lookup(name string) (Descriptor, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e.Descriptor, true
		}
	}

	return Descriptor{}, false
}

// New builds the named estimator with its default options.
func New(name string, logger *slog.Logger) (stats.Estimator, error) {
	for _, e := range entries {
		if e.Name == name {
			return e.build(logger), nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEstimator, name)
}

// Configured builds the named estimator and applies facts when it is configurable.
func Configured(name string, facts pipeline.Facts, logger *slog.Logger) (stats.Estimator, error) {
	est, err := New(name, logger)
	if err != nil {
		return nil, err
	}

	if c, ok := est.(stats.Configurable); ok {
		err = c.Configure(facts)
		if err != nil {
			return nil, fmt.Errorf("configure %s: %w", name, err)
		}
	}

	return est, nil
}

// Options returns the configuration options of every configurable estimator.
func Options() []pipeline.ConfigurationOption {
	var out []pipeline.ConfigurationOption

	for _, e := range entries {
		if c, ok := e.build(nil).(stats.Configurable); ok {
			out = append(out, c.ListConfigurationOptions()...)
		}
	}

	return out
}
