// Package parallel merges models learned by several workers into one global model
// through blocking collective operations.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Sentinel errors of the collective layer.
var (
	// ErrGroupBroken is returned by every pending and later collective once a worker
	// has abandoned the group.
	ErrGroupBroken = errors.New("process group broken")
	// ErrBadBuffer marks a contribution whose size disagrees with the declared layout.
	ErrBadBuffer = errors.New("collective buffer size mismatch")
	// ErrBadRoot marks a root rank outside the group.
	ErrBadRoot = errors.New("root rank out of range")
)

// ReduceOp folds in into acc element by element. It must be commutative and
// associative.
type ReduceOp func(acc, in []float64)

// Sum adds in to acc.
func Sum(acc, in []float64) {
	for i, v := range in {
		acc[i] += v
	}
}

// Min keeps the element-wise minimum.
func Min(acc, in []float64) {
	for i, v := range in {
		acc[i] = min(acc[i], v)
	}
}

// Max keeps the element-wise maximum.
func Max(acc, in []float64) {
	for i, v := range in {
		acc[i] = max(acc[i], v)
	}
}

// ProcessGroup is the set of workers taking part in one distributed run. Every
// method is a collective: all ranks must call it in the same order with compatible
// arguments, and it blocks until they have. Returned buffers are owned by the caller.
type ProcessGroup interface {
	Rank() int
	Size() int
	// AllGather returns the concatenation of every rank's fixed-size vector in rank order.
	AllGather(ctx context.Context, send []int64) ([]int64, error)
	// GatherV concatenates the variable-size buffers at root. lengths holds the size
	// contributed by each rank. Non-root ranks receive nil.
	GatherV(ctx context.Context, send []byte, lengths []int, root int) ([]byte, error)
	// AllGatherV is GatherV delivered to every rank.
	AllGatherV(ctx context.Context, send []byte, lengths []int) ([]byte, error)
	// Broadcast copies root's buf into buf on every other rank. All ranks pass a buffer
	// of the same size.
	Broadcast(ctx context.Context, buf []byte, root int) error
	// AllReduce folds every rank's vector with op, in rank order.
	AllReduce(ctx context.Context, vals []float64, op ReduceOp) ([]float64, error)
}

// Offsets returns the start of each rank's segment in a buffer laid out by lengths,
// and the total size.
func Offsets(lengths []int) (offsets []int, total int) {
	offsets = make([]int, len(lengths))

	for i, n := range lengths {
		offsets[i] = total
		total += n
	}

	return offsets, total
}

// hub is the state shared by the members of a LocalGroup.
type hub struct {
	size  int
	slots []any

	mu      sync.Mutex
	arrived int
	release chan struct{}

	brokenOnce sync.Once
	broken     chan struct{}
	cause      error
}

// LocalGroup is one rank of an in-process group whose members run on goroutines.
type LocalGroup struct {
	hub  *hub
	rank int
}

var _ ProcessGroup = (*LocalGroup)(nil)

// NewLocalGroup returns the size members of a new group, indexed by rank.
func NewLocalGroup(size int) []*LocalGroup {
	size = max(size, 1)

	h := &hub{
		size:    size,
		slots:   make([]any, size),
		release: make(chan struct{}),
		broken:  make(chan struct{}),
	}

	out := make([]*LocalGroup, size)
	for r := range out {
		out[r] = &LocalGroup{hub: h, rank: r}
	}

	return out
}

// Rank returns the rank of this member.
func (g *LocalGroup) Rank() int { return g.rank }

// Size returns the member count.
func (g *LocalGroup) Size() int { return g.hub.size }

// wait is a reusable barrier. A cancelled context breaks the group so that the
// other members fail instead of waiting forever.
func (h *hub) wait(ctx context.Context) error {
	h.mu.Lock()

	ch := h.release
	h.arrived++

	if h.arrived == h.size {
		h.arrived = 0
		h.release = make(chan struct{})
		close(ch)
		h.mu.Unlock()

		return nil
	}

	h.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-h.broken:
		return h.cause
	case <-ctx.Done():
		err := fmt.Errorf("%w: %w", ErrGroupBroken, ctx.Err())
		h.breakGroup(err)

		return err
	}
}

func (h *hub) breakGroup(err error) {
	h.brokenOnce.Do(func() {
		h.cause = err
		close(h.broken)
	})
}

func (h *hub) check() error {
	select {
	case <-h.broken:
		return h.cause
	default:
		return nil
	}
}

// collective publishes contribution, waits for every member, runs read over the
// published slots and waits again so that no slot is overwritten while being read.
func (g *LocalGroup) collective(ctx context.Context, contribution any, read func(slots []any) error) error {
	if err := g.hub.check(); err != nil {
		return err
	}

	g.hub.slots[g.rank] = contribution

	if err := g.hub.wait(ctx); err != nil {
		return err
	}

	readErr := read(g.hub.slots)

	if err := g.hub.wait(ctx); err != nil {
		return err
	}

	return readErr
}

func (g *LocalGroup) checkRoot(root int) error {
	if root < 0 || root >= g.hub.size {
		return fmt.Errorf("%w: %d of %d", ErrBadRoot, root, g.hub.size)
	}

	return nil
}

// AllGather implements ProcessGroup.
func (g *LocalGroup) AllGather(ctx context.Context, send []int64) ([]int64, error) {
	var out []int64

	err := g.collective(ctx, send, func(slots []any) error {
		out = make([]int64, 0, len(send)*g.hub.size)

		for r, s := range slots {
			v := s.([]int64)
			if len(v) != len(send) {
				return fmt.Errorf("%w: rank %d sent %d values, want %d", ErrBadBuffer, r, len(v), len(send))
			}

			out = append(out, v...)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// gatherSlot is what each rank publishes in a variable-length gather.
type gatherSlot struct {
	data    []byte
	lengths []int
}

// gatherV checks every rank's buffer and lengths on every rank, so a mismatch fails
// the whole collective instead of the root alone.
func (g *LocalGroup) gatherV(ctx context.Context, send []byte, lengths []int, deliver bool) ([]byte, error) {
	var out []byte

	err := g.collective(ctx, gatherSlot{data: send, lengths: lengths}, func(slots []any) error {
		checkErr := checkGather(slots)
		if checkErr != nil || !deliver {
			return checkErr
		}

		_, total := Offsets(lengths)
		out = make([]byte, 0, total)

		for _, s := range slots {
			out = append(out, s.(gatherSlot).data...)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func checkGather(slots []any) error {
	for r, s := range slots {
		slot := s.(gatherSlot)
		if len(slot.lengths) != len(slots) {
			return fmt.Errorf("%w: rank %d passed %d lengths for %d ranks", ErrBadBuffer, r, len(slot.lengths), len(slots))
		}

		if !slices.Equal(slot.lengths, slots[0].(gatherSlot).lengths) {
			return fmt.Errorf("%w: rank %d disagrees on lengths", ErrBadBuffer, r)
		}
	}

	lengths := slots[0].(gatherSlot).lengths

	for r, s := range slots {
		if n := len(s.(gatherSlot).data); n != lengths[r] {
			return fmt.Errorf("%w: rank %d sent %d bytes, want %d", ErrBadBuffer, r, n, lengths[r])
		}
	}

	return nil
}

// GatherV implements ProcessGroup.
func (g *LocalGroup) GatherV(ctx context.Context, send []byte, lengths []int, root int) ([]byte, error) {
	if err := g.checkRoot(root); err != nil {
		return nil, err
	}

	return g.gatherV(ctx, send, lengths, g.rank == root)
}

// AllGatherV implements ProcessGroup.
func (g *LocalGroup) AllGatherV(ctx context.Context, send []byte, lengths []int) ([]byte, error) {
	return g.gatherV(ctx, send, lengths, true)
}

// Broadcast implements ProcessGroup.
func (g *LocalGroup) Broadcast(ctx context.Context, buf []byte, root int) error {
	if err := g.checkRoot(root); err != nil {
		return err
	}

	return g.collective(ctx, buf, func(slots []any) error {
		if g.rank == root {
			return nil
		}

		src := slots[root].([]byte)
		if len(src) != len(buf) {
			return fmt.Errorf("%w: root sent %d bytes, buffer holds %d", ErrBadBuffer, len(src), len(buf))
		}

		copy(buf, src)

		return nil
	})
}

// AllReduce implements ProcessGroup.
func (g *LocalGroup) AllReduce(ctx context.Context, vals []float64, op ReduceOp) ([]float64, error) {
	var out []float64

	err := g.collective(ctx, vals, func(slots []any) error {
		out = append([]float64(nil), slots[0].([]float64)...)

		for r, s := range slots[1:] {
			v := s.([]float64)
			if len(v) != len(out) {
				return fmt.Errorf("%w: rank %d sent %d values, want %d", ErrBadBuffer, r+1, len(v), len(out))
			}

			op(out, v)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}
