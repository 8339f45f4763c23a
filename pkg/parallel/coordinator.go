package parallel

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/parstat/pkg/model"
	"github.com/Sumatoshi-tech/parstat/pkg/observability"
	"github.com/Sumatoshi-tech/parstat/pkg/stats"
)

const tracerName = "parstat/parallel"

// Collective operation names used in logs and metrics.
const (
	OpAllGather = "allgather"
	OpGatherV   = "gatherv"
	OpBroadcast = "broadcast"
	OpAllReduce = "allreduce"
)

// headerSize is the broadcast header: status and payload size as little-endian uint64.
const headerSize = 16

const (
	statusOK uint64 = iota
	statusMergeFailed
)

// Gathered vector layout: packed length, then a pack status.
const (
	gatherLength = iota
	gatherStatus
	gatherWidth
)

var (
	// ErrMergeFailed is returned on every worker when the root could not merge.
	ErrMergeFailed = errors.New("model merge failed at root")
	// ErrPackFailed is returned on every worker when one of them could not pack.
	ErrPackFailed = errors.New("worker failed to pack its model")
)

// Config holds the collaborators of a Coordinator.
type Config struct {
	Group ProcessGroup
	// Root is the rank that merges. It defaults to 0.
	Root int

	Logger *slog.Logger

	// Metrics is nil-safe.
	Metrics *observability.EngineMetrics
}

// Coordinator merges the local models of a process group. It implements
// stats.Exchanger.
type Coordinator struct {
	cfg Config
}

var _ stats.Exchanger = (*Coordinator)(nil)

// NewCoordinator returns a coordinator over cfg.Group.
func NewCoordinator(cfg Config) *Coordinator {
	cfg.Logger = stats.Logger(cfg.Logger)

	if cfg.Root < 0 || cfg.Root >= cfg.Group.Size() {
		cfg.Root = 0
	}

	return &Coordinator{cfg: cfg}
}

// Size returns the number of workers.
func (c *Coordinator) Size() int {
	return c.cfg.Group.Size()
}

// Rank returns the rank of this worker.
func (c *Coordinator) Rank() int {
	return c.cfg.Group.Rank()
}

// Exchange packs local, gathers every packed model at the root, merges them there
// with est.Aggregate and broadcasts the result. Every worker returns an equal model
// or the same error; local is never modified. A single worker gets local back.
func (c *Coordinator) Exchange(ctx context.Context, est stats.Estimator, local *model.Model) (*model.Model, error) {
	if c.Size() <= 1 {
		return local, nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "parstat.exchange",
		trace.WithAttributes(
			attribute.String("estimator", est.Name()),
			attribute.Int("rank", c.Rank()),
			attribute.Int("size", c.Size()),
		))
	defer span.End()

	out, err := c.exchange(ctx, est, local)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "exchange failed")

		return nil, err
	}

	return out, nil
}

func (c *Coordinator) exchange(ctx context.Context, est stats.Estimator, local *model.Model) (*model.Model, error) {
	group := c.cfg.Group

	packed, packErr := Pack(local)

	mine := make([]int64, gatherWidth)
	mine[gatherLength] = int64(len(packed))

	if packErr != nil {
		mine[gatherLength] = 0
		mine[gatherStatus] = 1
		packed = nil
	}

	all, err := group.AllGather(ctx, mine)
	if err != nil {
		return nil, c.failed(ctx, OpAllGather, err)
	}

	lengths := make([]int, group.Size())

	for r := range lengths {
		if all[r*gatherWidth+gatherStatus] != 0 {
			if packErr != nil {
				return nil, fmt.Errorf("%w: %w", ErrPackFailed, packErr)
			}

			return nil, fmt.Errorf("%w: rank %d", ErrPackFailed, r)
		}

		lengths[r] = int(all[r*gatherWidth+gatherLength])
	}

	gathered, err := group.GatherV(ctx, packed, lengths, c.cfg.Root)
	if err != nil {
		return nil, c.failed(ctx, OpGatherV, err)
	}

	c.cfg.Metrics.AddExchangedBytes(ctx, OpGatherV, len(packed))

	header := make([]byte, headerSize)

	var payload []byte

	if c.Rank() == c.cfg.Root {
		status := statusOK

		payload, err = c.merge(est, gathered, lengths)
		if err != nil {
			c.cfg.Logger.ErrorContext(ctx, "merge failed", "estimator", est.Name(), "error", err)

			status = statusMergeFailed
			payload = []byte(err.Error())
		}

		binary.LittleEndian.PutUint64(header, status)
		binary.LittleEndian.PutUint64(header[8:], uint64(len(payload)))
	}

	err = group.Broadcast(ctx, header, c.cfg.Root)
	if err != nil {
		return nil, c.failed(ctx, OpBroadcast, err)
	}

	status := binary.LittleEndian.Uint64(header)
	size := binary.LittleEndian.Uint64(header[8:])

	if c.Rank() != c.cfg.Root {
		payload = make([]byte, size)
	}

	err = group.Broadcast(ctx, payload, c.cfg.Root)
	if err != nil {
		return nil, c.failed(ctx, OpBroadcast, err)
	}

	c.cfg.Metrics.AddExchangedBytes(ctx, OpBroadcast, len(payload))

	if status != statusOK {
		return nil, fmt.Errorf("%w: %s", ErrMergeFailed, payload)
	}

	out, err := Unpack(payload)
	if err != nil {
		return nil, err
	}

	c.cfg.Logger.DebugContext(ctx, "models exchanged", "estimator", est.Name(), "rank", c.Rank(),
		"gathered", len(packed), "merged", len(payload))

	return out, nil
}

// merge runs at the root over the concatenated packed models.
func (c *Coordinator) merge(est stats.Estimator, gathered []byte, lengths []int) ([]byte, error) {
	offsets, _ := Offsets(lengths)
	models := make([]*model.Model, len(lengths))

	for r, off := range offsets {
		m, err := Unpack(gathered[off : off+lengths[r]])
		if err != nil {
			return nil, fmt.Errorf("rank %d: %w", r, err)
		}

		if m.Estimator() != est.Name() {
			return nil, fmt.Errorf("%w: rank %d sent a %q model", stats.ErrShapeMismatch, r, m.Estimator())
		}

		models[r] = m
	}

	merged, err := est.Aggregate(models)
	if err != nil {
		return nil, err
	}

	return Pack(merged)
}

// AllReduceSum returns the element-wise sum of vals over every worker.
func (c *Coordinator) AllReduceSum(ctx context.Context, vals []float64) ([]float64, error) {
	if c.Size() <= 1 {
		return append([]float64(nil), vals...), nil
	}

	out, err := c.cfg.Group.AllReduce(ctx, vals, Sum)
	if err != nil {
		return nil, c.failed(ctx, OpAllReduce, err)
	}

	return out, nil
}

func (c *Coordinator) failed(ctx context.Context, op string, err error) error {
	c.cfg.Metrics.AddCollectiveFailure(ctx, op)
	c.cfg.Logger.ErrorContext(ctx, "collective failed", "op", op, "rank", c.Rank(), "error", err)

	return fmt.Errorf("%s: %w", op, err)
}
