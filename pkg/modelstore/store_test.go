package modelstore_test

import (
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/parstat/pkg/model"
	"github.com/Sumatoshi-tech/parstat/pkg/modelstore"
	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

func sampleModel(mean float64) *model.Model {
	m := model.New("descriptive")
	m.Append("Primary Statistics", table.MustNew(
		table.NewText("Variable", "x"),
		table.NewNumeric("Mean", mean),
		table.NewNumeric("M3", math.NaN()),
	))

	return m
}

func openMemory(t *testing.T) *modelstore.Store {
	t.Helper()

	s, err := modelstore.Open(modelstore.Config{InMemory: true})
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func mean(t *testing.T, m *model.Model) float64 {
	t.Helper()

	v, err := m.BlockAt(0).Table.Get(0, "Mean")
	require.NoError(t, err)

	return v.Float()
}

func TestStore_PutGet(t *testing.T) {
	t.Parallel()

	s := openMemory(t)

	require.NoError(t, s.Put("baseline", sampleModel(4.5)))

	got, err := s.Get("baseline")
	require.NoError(t, err)
	assert.Equal(t, "descriptive", got.Estimator())
	assert.Equal(t, []string{"Primary Statistics"}, got.Names())
	assert.InDelta(t, 4.5, mean(t, got), 0)

	m3, err := got.BlockAt(0).Table.Get(0, "M3")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(m3.Float()))

	require.NoError(t, s.Put("baseline", sampleModel(7)))

	got, err = s.Get("baseline")
	require.NoError(t, err)
	assert.InDelta(t, 7.0, mean(t, got), 0)
}

func TestStore_NamesAndDelete(t *testing.T) {
	t.Parallel()

	s := openMemory(t)

	for _, name := range []string{"weekly", "daily", "hourly"} {
		require.NoError(t, s.Put(name, sampleModel(1)))
	}

	names, err := s.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"daily", "hourly", "weekly"}, names)

	require.NoError(t, s.Delete("hourly"))
	require.NoError(t, s.Delete("never-stored"))

	names, err = s.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"daily", "weekly"}, names)

	_, err = s.Get("hourly")
	require.ErrorIs(t, err, modelstore.ErrNotFound)
}

func TestStore_BadName(t *testing.T) {
	t.Parallel()

	s := openMemory(t)

	require.ErrorIs(t, s.Put("", sampleModel(1)), modelstore.ErrBadName)

	_, err := s.Get("")
	require.ErrorIs(t, err, modelstore.ErrBadName)
	require.ErrorIs(t, s.Delete(""), modelstore.ErrBadName)
}

func TestStore_Persistent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	s, err := modelstore.Open(modelstore.Config{Path: dir, SyncWrites: true, Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, err)
	require.NoError(t, s.Put("kept", sampleModel(2.5)))
	require.NoError(t, s.Close())

	s, err = modelstore.Open(modelstore.Config{Path: dir})
	require.NoError(t, err)

	defer s.Close()

	got, err := s.Get("kept")
	require.NoError(t, err)
	assert.InDelta(t, 2.5, mean(t, got), 0)
}

func TestOpen_NoPath(t *testing.T) {
	t.Parallel()

	_, err := modelstore.Open(modelstore.Config{})
	require.ErrorIs(t, err, modelstore.ErrNoPath)
}
