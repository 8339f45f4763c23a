package parallel_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/parstat/pkg/parallel"
)

// runRanks calls fn once per member of a new group of size n, concurrently.
func runRanks(t *testing.T, n int, fn func(g *parallel.LocalGroup) error) {
	t.Helper()

	var eg errgroup.Group

	for _, g := range parallel.NewLocalGroup(n) {
		eg.Go(func() error { return fn(g) })
	}

	require.NoError(t, eg.Wait())
}

func TestLocalGroup_Collectives(t *testing.T) {
	t.Parallel()

	const n = 3

	gathered := make([][]int64, n)
	gatheredV := make([][]byte, n)
	allV := make([][]byte, n)
	broadcast := make([][]byte, n)
	sums := make([][]float64, n)
	maxima := make([][]float64, n)

	runRanks(t, n, func(g *parallel.LocalGroup) error {
		ctx := context.Background()
		r := g.Rank()

		var err error

		gathered[r], err = g.AllGather(ctx, []int64{int64(r), int64(10 * r)})
		if err != nil {
			return err
		}

		send := make([]byte, r+1)
		for i := range send {
			send[i] = byte('a' + r)
		}

		lengths := []int{1, 2, 3}

		gatheredV[r], err = g.GatherV(ctx, send, lengths, 1)
		if err != nil {
			return err
		}

		allV[r], err = g.AllGatherV(ctx, send, lengths)
		if err != nil {
			return err
		}

		buf := make([]byte, 4)
		if r == 2 {
			copy(buf, "root")
		}

		err = g.Broadcast(ctx, buf, 2)
		if err != nil {
			return err
		}

		broadcast[r] = buf

		sums[r], err = g.AllReduce(ctx, []float64{float64(r), 1}, parallel.Sum)
		if err != nil {
			return err
		}

		maxima[r], err = g.AllReduce(ctx, []float64{float64(r), -float64(r)}, parallel.Max)

		return err
	})

	for r := range n {
		assert.Equal(t, []int64{0, 0, 1, 10, 2, 20}, gathered[r])
		assert.Equal(t, "abbccc", string(allV[r]))
		assert.Equal(t, "root", string(broadcast[r]))
		assert.Equal(t, []float64{3, 3}, sums[r])
		assert.Equal(t, []float64{2, 0}, maxima[r])
	}

	assert.Nil(t, gatheredV[0])
	assert.Equal(t, "abbccc", string(gatheredV[1]))
	assert.Nil(t, gatheredV[2])
}

func TestLocalGroup_ResultsAreCopies(t *testing.T) {
	t.Parallel()

	outs := make([][]float64, 2)
	sends := [][]float64{{1, 2}, {3, 4}}

	runRanks(t, 2, func(g *parallel.LocalGroup) error {
		var err error

		outs[g.Rank()], err = g.AllReduce(context.Background(), sends[g.Rank()], parallel.Sum)

		return err
	})

	outs[0][0] = 100

	assert.Equal(t, []float64{4, 6}, outs[1])
	assert.Equal(t, []float64{1, 2}, sends[0])
}

func TestLocalGroup_SizeMismatch(t *testing.T) {
	t.Parallel()

	errs := make([]error, 2)

	runRanks(t, 2, func(g *parallel.LocalGroup) error {
		_, errs[g.Rank()] = g.AllReduce(context.Background(), make([]float64, g.Rank()+1), parallel.Sum)

		return nil
	})

	for _, err := range errs {
		require.ErrorIs(t, err, parallel.ErrBadBuffer)
	}
}

func TestLocalGroup_GatherMismatchFailsEveryRank(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		send    func(rank int) []byte
		lengths func(rank int) []int
	}{
		{
			name:    "short buffer",
			send:    func(int) []byte { return make([]byte, 1) },
			lengths: func(int) []int { return []int{1, 2, 1} },
		},
		{
			name:    "disagreeing lengths",
			send:    func(int) []byte { return make([]byte, 1) },
			lengths: func(rank int) []int { return []int{1, 1, rank + 1} },
		},
		{
			name:    "too few lengths",
			send:    func(int) []byte { return make([]byte, 1) },
			lengths: func(rank int) []int { return []int{1, 1, 1}[:3-rank%2] },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			errs := make([]error, 3)

			runRanks(t, 3, func(g *parallel.LocalGroup) error {
				_, errs[g.Rank()] = g.GatherV(context.Background(), tt.send(g.Rank()), tt.lengths(g.Rank()), 0)

				return nil
			})

			for rank, err := range errs {
				require.ErrorIs(t, err, parallel.ErrBadBuffer, "rank %d", rank)
			}
		})
	}
}

func TestLocalGroup_BadRoot(t *testing.T) {
	t.Parallel()

	g := parallel.NewLocalGroup(2)[0]

	_, err := g.GatherV(context.Background(), nil, []int{0, 0}, 2)
	require.ErrorIs(t, err, parallel.ErrBadRoot)

	err = g.Broadcast(context.Background(), nil, -1)
	require.ErrorIs(t, err, parallel.ErrBadRoot)
}

func TestLocalGroup_CancelBreaksGroup(t *testing.T) {
	t.Parallel()

	members := parallel.NewLocalGroup(2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := members[0].AllGather(ctx, []int64{1})
	require.ErrorIs(t, err, parallel.ErrGroupBroken)
	require.ErrorIs(t, err, context.Canceled)

	_, err = members[1].AllGather(context.Background(), []int64{1})
	require.ErrorIs(t, err, parallel.ErrGroupBroken)
}

func TestOffsets(t *testing.T) {
	t.Parallel()

	offsets, total := parallel.Offsets([]int{3, 0, 5})
	assert.Equal(t, []int{0, 3, 3}, offsets)
	assert.Equal(t, 8, total)
}

func TestLocalGroup_SingleMember(t *testing.T) {
	t.Parallel()

	g := parallel.NewLocalGroup(0)[0]
	assert.Equal(t, 1, g.Size())
	assert.Equal(t, 0, g.Rank())

	out, err := g.AllGather(context.Background(), []int64{7})
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, out)
}
