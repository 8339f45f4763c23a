package pvalue_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sumatoshi-tech/parstat/pkg/stats"
	"github.com/Sumatoshi-tech/parstat/pkg/stats/pvalue"
)

var _ stats.PValueBackend = pvalue.Gonum{}

func TestGonum_ChiSquared(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		stat, dof float64
		want      float64
	}{
		{"two dof closed form", 3, 2, math.Exp(-1.5)},
		{"zero statistic", 0, 4, 1},
		{"critical value", 3.841458820694124, 1, 0.05},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.InDelta(t, tt.want, pvalue.Gonum{}.ChiSquaredSurvival(tt.stat, tt.dof), 1e-9)
		})
	}

	assert.True(t, math.IsNaN(pvalue.Gonum{}.ChiSquaredSurvival(1, 0)))
}

func TestGonum_KolmogorovSmirnov(t *testing.T) {
	t.Parallel()

	b := pvalue.Gonum{}

	assert.InDelta(t, 1.0, b.KolmogorovSmirnovSurvival(0), 0)
	assert.InDelta(t, 0.05, b.KolmogorovSmirnovSurvival(1.3581), 1e-4)
	assert.InDelta(t, 0.01, b.KolmogorovSmirnovSurvival(1.6276), 1e-4)
	assert.Less(t, b.KolmogorovSmirnovSurvival(3), 1e-6)
}

func TestNoBackend(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, stats.NoPValue, stats.ChiSquaredP(nil, 1, 1), 0)
	assert.InDelta(t, stats.NoPValue, stats.KolmogorovSmirnovP(nil, 1), 0)
}
