package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sumatoshi-tech/parstat/internal/config"
	"github.com/Sumatoshi-tech/parstat/pkg/observability"
	"github.com/Sumatoshi-tech/parstat/pkg/version"
)

const (
	metricsPath       = "/metrics"
	readHeaderTimeout = 5 * time.Second
	logFormatJSON     = "json"
)

// session holds the configuration and telemetry of one command run.
type session struct {
	cfg      *config.Config
	runID    string
	logger   *slog.Logger
	metrics  *observability.EngineMetrics
	progress io.Writer
	quiet    bool

	closers []func(ctx context.Context) error
}

// openSession loads the configuration, initializes telemetry and, when metricsAddr is
// set, serves Prometheus metrics for the duration of the run.
func openSession(cmd *cobra.Command, metricsAddr string) (*session, error) {
	cfg, err := config.LoadConfig(flagString(cmd, configFlag))
	if err != nil {
		return nil, err
	}

	if dir := flagString(cmd, storeFlag); dir != "" {
		cfg.Store.Dir = dir
	}

	if metricsAddr == "" {
		metricsAddr = cfg.Telemetry.MetricsAddr
	}

	var level slog.Level

	err = level.UnmarshalText([]byte(cfg.Logging.Level))
	if err != nil {
		return nil, fmt.Errorf("logging level: %w", err)
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	obsCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	obsCfg.SampleRatio = cfg.Telemetry.SampleRatio
	obsCfg.LogLevel = level
	obsCfg.LogJSON = strings.EqualFold(cfg.Logging.Format, logFormatJSON)

	if cfg.Workers > 1 {
		obsCfg.Mode = observability.ModeWorker
	}

	providers, err := observability.InitWithWriter(obsCfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	s := &session{
		cfg:      cfg,
		runID:    uuid.NewString(),
		progress: cmd.ErrOrStderr(),
		quiet:    flagBool(cmd, quietFlag),
		closers:  []func(ctx context.Context) error{providers.Shutdown},
	}
	s.logger = providers.Logger.With("run_id", s.runID)

	meter := providers.Meter

	if metricsAddr != "" {
		meter, err = s.serveMetrics(metricsAddr)
		if err != nil {
			return nil, errors.Join(err, s.close(context.Background()))
		}
	}

	s.metrics, err = observability.NewEngineMetrics(meter)
	if err != nil {
		return nil, errors.Join(err, s.close(context.Background()))
	}

	return s, nil
}

func (s *session) serveMetrics(addr string) (metric.Meter, error) {
	handler, mp, err := observability.PrometheusHandler()
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("listen metrics %s: %w", addr, err), mp.Shutdown(context.Background()))
	}

	mux := http.NewServeMux()
	mux.Handle(metricsPath, handler)

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}

	go func() {
		serveErr := srv.Serve(ln)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", "error", serveErr)
		}
	}()

	s.logger.Info("serving metrics", "addr", ln.Addr().String(), "path", metricsPath)
	s.closers = append(s.closers, srv.Shutdown, mp.Shutdown)

	return mp.Meter(version.Name), nil
}

// close releases telemetry in reverse order of acquisition.
func (s *session) close(ctx context.Context) error {
	var errs []error

	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i](ctx))
	}

	return errors.Join(errs...)
}

func (s *session) progressf(format string, args ...any) {
	if s.quiet {
		return
	}

	_, _ = fmt.Fprintf(s.progress, "progress: "+format+"\n", args...)
}
