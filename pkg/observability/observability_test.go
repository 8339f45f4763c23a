package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/parstat/pkg/observability"
)

func setupEngineMetrics(t *testing.T) (*observability.EngineMetrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	em, err := observability.NewEngineMetrics(mp.Meter("test"))
	require.NoError(t, err)

	return em, reader
}

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	require.NoError(t, reader.Collect(context.Background(), &rm))

	for i := range rm.ScopeMetrics {
		for j := range rm.ScopeMetrics[i].Metrics {
			if rm.ScopeMetrics[i].Metrics[j].Name == name {
				return &rm.ScopeMetrics[i].Metrics[j]
			}
		}
	}

	return nil
}

func counterTotal(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}

	return total
}

func TestEngineMetrics_RecordPhase(t *testing.T) {
	t.Parallel()

	em, reader := setupEngineMetrics(t)
	ctx := context.Background()

	em.RecordPhase(ctx, "descriptive", "learn", 20*time.Millisecond, nil)
	em.RecordPhase(ctx, "descriptive", "derive", time.Millisecond, errors.New("skipped"))

	require.NotNil(t, findMetric(t, reader, "parstat.phase.duration.seconds"))

	issues := findMetric(t, reader, "parstat.phase.issues.total")
	require.NotNil(t, issues)
	assert.Equal(t, int64(1), counterTotal(t, issues))
}

func TestEngineMetrics_Counters(t *testing.T) {
	t.Parallel()

	em, reader := setupEngineMetrics(t)
	ctx := context.Background()

	em.AddRows(ctx, "order", 100)
	em.AddRows(ctx, "order", 23)
	em.AddExchangedBytes(ctx, "gatherv", 512)
	em.AddCollectiveFailure(ctx, "broadcast")

	assert.Equal(t, int64(123), counterTotal(t, findMetric(t, reader, "parstat.rows.learned.total")))
	assert.Equal(t, int64(512), counterTotal(t, findMetric(t, reader, "parstat.exchange.bytes.total")))
	assert.Equal(t, int64(1), counterTotal(t, findMetric(t, reader, "parstat.collective.failures.total")))
}

func TestEngineMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var em *observability.EngineMetrics

	ctx := context.Background()

	assert.NotPanics(t, func() {
		em.RecordPhase(ctx, "x", "learn", time.Second, nil)
		em.AddRows(ctx, "x", 1)
		em.AddExchangedBytes(ctx, "x", 1)
		em.AddCollectiveFailure(ctx, "x")
	})
}

func TestTracingHandler_InjectsTraceContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	cfg := observability.DefaultConfig()
	cfg.LogJSON = true
	cfg.Environment = "test"
	logger := observability.NewLogger(cfg, &buf)

	traceID, err := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("0102030405060708")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.WithGroup("engine").InfoContext(ctx, "phase done", "phase", "learn")

	var record map[string]any

	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", record["trace_id"])
	assert.Equal(t, "parstat", record["service"])
	assert.Equal(t, "cli", record["mode"])
	assert.Equal(t, "test", record["env"])
}

func TestTracingHandler_NoSpan(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	handler := observability.NewTracingHandler(slog.NewJSONHandler(&buf, nil), "svc", "", observability.ModeWorker)
	slog.New(handler).Info("hello")

	var record map[string]any

	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.NotContains(t, record, "trace_id")
	assert.NotContains(t, record, "env")
	assert.Equal(t, "worker", record["mode"])
}

func TestInit_NoopWithoutEndpoint(t *testing.T) {
	t.Parallel()

	providers, err := observability.InitWithWriter(observability.DefaultConfig(), io.Discard)
	require.NoError(t, err)
	require.NotNil(t, providers.Logger)
	require.NoError(t, providers.Shutdown(context.Background()))
}

func TestPrometheusHandler_ServesEngineMetrics(t *testing.T) {
	t.Parallel()

	handler, mp, err := observability.PrometheusHandler()
	require.NoError(t, err)

	em, err := observability.NewEngineMetrics(mp.Meter("test"))
	require.NoError(t, err)

	em.AddRows(context.Background(), "pca", 7)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "parstat_rows_learned")
}

func TestParseOTLPHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{"empty", "", nil},
		{"pairs", "a=1, b = 2", map[string]string{"a": "1", "b": "2"}},
		{"invalid", "novalue", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, observability.ParseOTLPHeaders(tt.raw))
		})
	}
}
