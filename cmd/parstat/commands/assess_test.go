package commands

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/parstat/pkg/stats"
)

func TestAssess_SavedModel(t *testing.T) {
	t.Parallel()

	input := writeInput(t)
	saved := filepath.Join(t.TempDir(), "baseline.json")

	_, err := execute(t, "learn", "-e", "descriptive", "-i", input, "-r", "x", "--save", saved)
	require.NoError(t, err)

	out, err := execute(t, "assess", "-e", "descriptive", "-i", input, "-r", "x", "-m", saved, "-w", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Assessed")
	assert.Contains(t, out, "D(X)")
	assert.Contains(t, out, "10 rows")
}

func TestAssess_RequiresModel(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "assess", "-e", "descriptive", "-i", writeInput(t))
	require.ErrorIs(t, err, ErrNoModel)
}

func TestAssess_EstimatorMismatch(t *testing.T) {
	t.Parallel()

	input := writeInput(t)
	saved := filepath.Join(t.TempDir(), "baseline.json")

	_, err := execute(t, "learn", "-e", "descriptive", "-i", input, "-r", "x", "--save", saved)
	require.NoError(t, err)

	_, err = execute(t, "assess", "-e", "order", "-i", input, "-r", "x", "-m", saved)
	require.ErrorIs(t, err, stats.ErrShapeMismatch)
}
