package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestOTELHook_Run(t *testing.T) {
	tests := []struct {
		name        string
		setupCtx    func() context.Context
		expectTrace bool
	}{
		{
			name: "no context",
			setupCtx: func() context.Context {
				return nil
			},
			expectTrace: false,
		},
		{
			name: "context without span",
			setupCtx: func() context.Context {
				return context.Background()
			},
			expectTrace: false,
		},
		{
			name: "context with active span",
			setupCtx: func() context.Context {
				exporter := tracetest.NewInMemoryExporter()
				provider := sdktrace.NewTracerProvider(
					sdktrace.WithSyncer(exporter),
				)
				tracer := provider.Tracer("test")
				ctx, _ := tracer.Start(context.Background(), "test-span")
				return ctx
			},
			expectTrace: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf).Hook(OTELHook{})

			event := logger.Info()
			if ctx := tt.setupCtx(); ctx != nil {
				event = logger.Info().Ctx(ctx)
			}
			event.Msg("test message")

			output := buf.String()
			if tt.expectTrace {
				assert.Contains(t, output, "trace_id")
				assert.Contains(t, output, "span_id")
			} else {
				assert.NotContains(t, output, "trace_id")
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("sandflow")
	require.NotNil(t, logger)

	var buf bytes.Buffer
	scoped := logger.Logger.Output(&buf)
	scoped.Info().Msg("hello")

	assert.Contains(t, buf.String(), `"service":"sandflow"`)
}

func TestLoggerComponent(t *testing.T) {
	logger := NewLogger("sandflow")

	var buf bytes.Buffer
	sub := logger.Component("cleaner").Output(&buf)
	sub.Info().Msg("sweep")

	assert.Contains(t, buf.String(), `"component":"cleaner"`)
}

func TestApplyConfigDefaults(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	cfg := applyConfigDefaults(Config{})
	assert.Equal(t, "sandflow", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.OTELEndpoint)

	cfg = applyConfigDefaults(Config{ServiceName: "custom", OTELEndpoint: "collector:4317"})
	assert.Equal(t, "custom", cfg.ServiceName)
	assert.Equal(t, "collector:4317", cfg.OTELEndpoint)
}

func TestMetricInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	Meter = provider.Meter("test")
	require.NoError(t, initMetrics())

	ctx := context.Background()
	byProvider := metric.WithAttributes(attribute.String("provider", "e2b"))
	ResourcesCreated.Add(ctx, 2, byProvider)
	ExecutionDuration.Record(ctx, 1.5, byProvider)
	ActiveResources.Record(ctx, 3, byProvider)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.NotEmpty(t, rm.ScopeMetrics)

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	assert.True(t, names["sandflow.resources.created.total"])
	assert.True(t, names["sandflow.execution.duration.seconds"])
	assert.True(t, names["sandflow.resources.active.current"])
}
