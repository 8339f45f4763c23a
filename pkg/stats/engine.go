package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/parstat/pkg/model"
	"github.com/Sumatoshi-tech/parstat/pkg/observability"
	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

const tracerName = "parstat/stats"

// Phase names used in spans, logs and metrics.
const (
	PhaseLearn     = "learn"
	PhaseAggregate = "aggregate"
	PhaseDerive    = "derive"
	PhaseAssess    = "assess"
	PhaseTest      = "test"
)

// ErrNoModel is returned when Learn is disabled and no prior model was supplied.
var ErrNoModel = errors.New("learn disabled and no prior model given")

// Exchanger merges per-worker models into the global model and all-reduces data sums.
// It is implemented by parallel.Coordinator.
type Exchanger interface {
	// Size returns the number of workers taking part.
	Size() int
	// Exchange returns the aggregate of every worker's local model, identical on
	// every worker. On error the local model must be left untouched.
	Exchange(ctx context.Context, est Estimator, local *model.Model) (*model.Model, error)
	// AllReduceSum returns the element-wise sum of vals over every worker.
	AllReduceSum(ctx context.Context, vals []float64) ([]float64, error)
}

// Options switches the engine phases on and off.
type Options struct {
	Learn  bool
	Derive bool
	Assess bool
	Test   bool
}

// AllPhases enables every phase.
func AllPhases() Options {
	return Options{Learn: true, Derive: true, Assess: true, Test: true}
}

// EngineConfig holds the collaborators of an Engine.
type EngineConfig struct {
	Options  Options
	Requests []Request

	// Prior is the model used when Options.Learn is false. It is cloned, never modified.
	Prior *model.Model

	// Exchanger distributes the aggregation. Nil runs on local data only.
	Exchanger Exchanger

	// PValues computes test p-values. Nil fills P columns with NoPValue.
	PValues PValueBackend

	Logger *slog.Logger

	// Metrics is nil-safe: when nil, no metrics are recorded.
	Metrics *observability.EngineMetrics
}

// Result is the output of one engine run.
type Result struct {
	Model    *model.Model
	Assessed *table.Table
	Tested   *table.Table

	// Issues lists the requests skipped or degraded by a phase.
	Issues []error
}

// Err joins the issues, nil when there are none.
func (r *Result) Err() error {
	return errors.Join(r.Issues...)
}

// Engine runs one estimator over one data partition.
type Engine struct {
	est Estimator
	cfg EngineConfig
}

// NewEngine returns an engine running est with cfg.
func NewEngine(est Estimator, cfg EngineConfig) *Engine {
	cfg.Logger = Logger(cfg.Logger)

	return &Engine{est: est, cfg: cfg}
}

// Run executes the enabled phases. Data problems are collected in Result.Issues; the
// returned error is reserved for failures that leave no model, communication errors
// included.
func (e *Engine) Run(ctx context.Context, data *table.Table) (*Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "parstat.run",
		trace.WithAttributes(
			attribute.String("estimator", e.est.Name()),
			attribute.Int("rows", data.NumRows()),
			attribute.Int("requests", len(e.cfg.Requests)),
		))
	defer span.End()

	res := &Result{}

	m, err := e.primaryModel(ctx, data, res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")

		return nil, err
	}

	res.Model = m

	if e.cfg.Options.Derive {
		err = e.phase(ctx, PhaseDerive, func() error { return e.est.Derive(m) })
		res.note(err)
	}

	if e.cfg.Options.Assess {
		err = e.phase(ctx, PhaseAssess, func() error {
			out, assessErr := Assess(data, m, e.est, e.cfg.Requests)
			res.Assessed = out

			return assessErr
		})
		res.note(err)
	}

	if e.cfg.Options.Test {
		err = e.phase(ctx, PhaseTest, func() error {
			out, testErr := e.test(ctx, data, m)
			res.Tested = out

			return testErr
		})
		if errors.Is(err, errCollective) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "test all-reduce failed")

			return nil, err
		}

		res.note(err)
	}

	for _, issue := range res.Issues {
		e.cfg.Logger.WarnContext(ctx, "engine issue", "estimator", e.est.Name(), "error", issue)
	}

	return res, nil
}

func (e *Engine) primaryModel(ctx context.Context, data *table.Table, res *Result) (*model.Model, error) {
	if !e.cfg.Options.Learn {
		if e.cfg.Prior == nil {
			return nil, ErrNoModel
		}

		if e.cfg.Prior.Estimator() != e.est.Name() {
			return nil, fmt.Errorf("%w: prior model from %q, engine runs %q",
				ErrShapeMismatch, e.cfg.Prior.Estimator(), e.est.Name())
		}

		return e.cfg.Prior.Clone(), nil
	}

	var m *model.Model

	err := e.phase(ctx, PhaseLearn, func() error {
		var learnErr error

		m, learnErr = e.est.Learn(data, e.cfg.Requests)

		return learnErr
	})
	if m == nil {
		return nil, fmt.Errorf("learn: %w", err)
	}

	res.note(err)
	e.cfg.Metrics.AddRows(ctx, e.est.Name(), data.NumRows())

	if e.cfg.Exchanger == nil {
		return m, nil
	}

	var merged *model.Model

	err = e.phase(ctx, PhaseAggregate, func() error {
		var exErr error

		merged, exErr = e.cfg.Exchanger.Exchange(ctx, e.est, m)

		return exErr
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}

	return merged, nil
}

// errCollective tags failures of the test all-reduce so Run can fail hard on them.
var errCollective = errors.New("collective failed")

func (e *Engine) test(ctx context.Context, data *table.Table, m *model.Model) (*table.Table, error) {
	pt, ok := e.est.(PartialTester)
	if !ok || e.cfg.Exchanger == nil || e.cfg.Exchanger.Size() <= 1 {
		out, err := e.est.Test(data, m, e.cfg.Requests, e.cfg.PValues)
		if errors.Is(err, ErrNotSupported) {
			return nil, nil
		}

		return out, err
	}

	local, momentsErr := pt.TestMoments(data, m, e.cfg.Requests)
	if local == nil {
		return nil, momentsErr
	}

	global, err := e.cfg.Exchanger.AllReduceSum(ctx, local)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errCollective, err)
	}

	out, err := pt.TestFromMoments(m, e.cfg.Requests, global, e.cfg.PValues)

	return out, errors.Join(momentsErr, err)
}

func (e *Engine) phase(ctx context.Context, name string, fn func() error) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "parstat."+name)
	defer span.End()

	start := time.Now()
	err := fn()

	if err != nil {
		span.RecordError(err)
	}

	e.cfg.Metrics.RecordPhase(ctx, e.est.Name(), name, time.Since(start), err)
	e.cfg.Logger.DebugContext(ctx, "phase done", "estimator", e.est.Name(), "phase", name,
		"duration", time.Since(start), "ok", err == nil)

	return err
}

func (r *Result) note(err error) {
	if err != nil {
		r.Issues = append(r.Issues, err)
	}
}
