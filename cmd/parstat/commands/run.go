package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/parstat/internal/config"
	"github.com/Sumatoshi-tech/parstat/internal/render"
	"github.com/Sumatoshi-tech/parstat/pkg/model"
	"github.com/Sumatoshi-tech/parstat/pkg/parallel"
	"github.com/Sumatoshi-tech/parstat/pkg/pipeline"
	"github.com/Sumatoshi-tech/parstat/pkg/stats"
	"github.com/Sumatoshi-tech/parstat/pkg/stats/catalog"
	"github.com/Sumatoshi-tech/parstat/pkg/stats/pvalue"
	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

const outputFileMode = 0o600

// runFlags holds the flags shared by the learn and assess commands.
type runFlags struct {
	estimator   string
	requests    []string
	workers     int
	input       string
	model       string
	save        string
	output      string
	html        string
	maxRows     int
	metricsAddr string
	noTest      bool
}

func (rf *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&rf.estimator, "estimator", "e", "", "Estimator name (see 'parstat estimators')")
	cmd.Flags().StringArrayVarP(&rf.requests, "request", "r", nil,
		"Comma-separated request columns, repeatable (example: -r x -r x,y)")
	cmd.Flags().IntVarP(&rf.workers, "workers", "w", 0, "Number of workers the rows are split across (0 = config)")
	cmd.Flags().StringVarP(&rf.input, "input", "i", "", "Input CSV file with a header row")
	cmd.Flags().StringVarP(&rf.output, "output", "o", "", "Write assessed rows to this CSV file instead of printing them")
	cmd.Flags().StringVar(&rf.html, "html", "", "Also render the model as an HTML page to this file")
	cmd.Flags().IntVar(&rf.maxRows, "max-rows", 0, "Maximum rows printed per table (0 = all)")
	cmd.Flags().StringVar(&rf.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	cmd.Flags().BoolVar(&rf.noTest, "no-test", false, "Skip the test phase")

	registerEstimatorFlags(cmd)
}

// runOutcome is the merged output of every worker.
type runOutcome struct {
	Model    *model.Model
	Assessed *table.Table
	Tested   *table.Table
	Issues   []error
}

// execute runs the estimator over the input split across workers. When Learn is off
// the model named by --model is assessed instead.
func (rf *runFlags) execute(cmd *cobra.Command, phases func(config.PhasesConfig) stats.Options) error {
	s, err := openSession(cmd, rf.metricsAddr)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := s.close(context.Background())
		if closeErr != nil {
			s.logger.Warn("telemetry shutdown", "error", closeErr)
		}
	}()

	name := rf.estimator
	if name == "" {
		name = s.cfg.Estimator
	}

	if name == "" {
		return ErrNoEstimator
	}

	if _, ok := catalog.Lookup(name); !ok {
		return fmt.Errorf("%w: %q", catalog.ErrUnknownEstimator, name)
	}

	workers := rf.workers
	if workers <= 0 {
		workers = s.cfg.Workers
	}

	data, err := readTable(rf.input)
	if err != nil {
		return err
	}

	explicit := parseRequests(rf.requests)
	if len(explicit) == 0 {
		explicit = s.cfg.Requests
	}

	reqs, err := buildRequests(name, explicit, data)
	if err != nil {
		return err
	}

	opts := phases(s.cfg.Phases)
	if rf.noTest {
		opts.Test = false
	}

	facts := s.cfg.Facts()
	applyFlagFacts(cmd, facts)

	ecfg := stats.EngineConfig{
		Options:  opts,
		Requests: reqs,
		PValues:  pvalue.Gonum{},
		Metrics:  s.metrics,
	}

	if !opts.Learn {
		ecfg.Prior, err = loadModel(rf.model, s.cfg.Store.Dir)
		if err != nil {
			return fmt.Errorf("load model: %w", err)
		}
	}

	s.logger = s.logger.With("estimator", name)
	s.progressf("run %s: estimator=%s rows=%d requests=%d workers=%d", s.runID, name, data.NumRows(), len(reqs), workers)

	out, err := runWorkers(cmd.Context(), s, name, facts, data, ecfg, workers)
	if err != nil {
		return err
	}

	for _, issue := range out.Issues {
		s.progressf("issue: %v", issue)
	}

	return rf.report(cmd, s, out)
}

// runWorkers runs one engine per worker over a local process group and merges the
// per-worker outputs. Every worker holds the same model after the exchange.
func runWorkers(
	ctx context.Context,
	s *session,
	name string,
	facts pipeline.Facts,
	data *table.Table,
	ecfg stats.EngineConfig,
	workers int,
) (*runOutcome, error) {
	estimators := make([]stats.Estimator, workers)

	for rank := range workers {
		est, err := catalog.Configured(name, facts, s.logger)
		if err != nil {
			return nil, err
		}

		estimators[rank] = est
	}

	parts := data.Partition(workers)
	group := parallel.NewLocalGroup(workers)
	results := make([]*stats.Result, workers)

	g, gctx := errgroup.WithContext(ctx)

	for rank := range workers {
		g.Go(func() error {
			cfg := ecfg
			cfg.Logger = s.logger.With("rank", rank)
			cfg.Exchanger = parallel.NewCoordinator(parallel.Config{
				Group:   group[rank],
				Logger:  cfg.Logger,
				Metrics: s.metrics,
			})

			res, err := stats.NewEngine(estimators[rank], cfg).Run(gctx, parts[rank])
			if err != nil {
				return fmt.Errorf("worker %d: %w", rank, err)
			}

			results[rank] = res

			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		return nil, err
	}

	return mergeResults(results, stats.SharedTest(estimators[0]))
}

// mergeResults stacks the per-worker assessed rows. Shared tests, computed from the
// exchanged model or from all-reduced moments, are identical on every worker and are
// kept once; local tests are stacked like assessments.
func mergeResults(results []*stats.Result, sharedTest bool) (*runOutcome, error) {
	out := &runOutcome{Model: results[0].Model}

	assessed := make([]*table.Table, 0, len(results))
	tested := make([]*table.Table, 0, len(results))

	for rank, res := range results {
		assessed = append(assessed, res.Assessed)
		tested = append(tested, res.Tested)

		for _, issue := range res.Issues {
			out.Issues = append(out.Issues, fmt.Errorf("worker %d: %w", rank, issue))
		}
	}

	var err error

	out.Assessed, err = concatRows(assessed)
	if err != nil {
		return nil, err
	}

	if sharedTest {
		tested = tested[:1]
	}

	out.Tested, err = concatRows(tested)
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (rf *runFlags) report(cmd *cobra.Command, s *session, out *runOutcome) error {
	w := cmd.OutOrStdout()
	ropts := render.Options{MaxRows: rf.maxRows, NoColor: flagBool(cmd, noColorFlag)}

	err := render.Model(w, out.Model, ropts)
	if err != nil {
		return err
	}

	if out.Assessed != nil {
		err = rf.writeAssessed(w, out.Assessed, ropts)
		if err != nil {
			return err
		}
	}

	if out.Tested != nil {
		err = render.Table(w, "Test", out.Tested, ropts)
		if err != nil {
			return err
		}
	}

	if rf.html != "" {
		err = writeFile(rf.html, func(f io.Writer) error { return render.Page(f, out.Model) })
		if err != nil {
			return fmt.Errorf("write html: %w", err)
		}

		s.progressf("wrote %s", rf.html)
	}

	if rf.save != "" {
		err = saveModel(rf.save, s.cfg.Store.Dir, out.Model)
		if err != nil {
			return fmt.Errorf("save model: %w", err)
		}

		s.progressf("saved model %s", rf.save)
	}

	return nil
}

func (rf *runFlags) writeAssessed(w io.Writer, assessed *table.Table, ropts render.Options) error {
	if rf.output == "" {
		return render.Table(w, "Assessed", assessed, ropts)
	}

	err := writeFile(rf.output, func(f io.Writer) error { return table.WriteCSV(f, assessed) })
	if err != nil {
		return fmt.Errorf("write assessed rows: %w", err)
	}

	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, outputFileMode)
	if err != nil {
		return err
	}

	return errors.Join(write(f), f.Close())
}
