package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	promclient "github.com/prometheus/client_golang/prometheus"
)

// Global telemetry handles
var (
	// Tracer for distributed tracing
	Tracer = otel.Tracer("github.com/sandflow/sandflow")

	// Meter for metrics
	Meter = otel.Meter("github.com/sandflow/sandflow")

	// PrometheusRegistry for Prometheus scraping (dual export pattern)
	// The OTEL exporter automatically registers itself with this registry
	PrometheusRegistry *promclient.Registry

	// Metrics - following OTEL naming conventions
	ResourcesCreated   metric.Int64Counter
	ResourcesDestroyed metric.Int64Counter
	ExecutionsTotal    metric.Int64Counter
	ExecutionErrors    metric.Int64Counter
	CleanupKills       metric.Int64Counter
	CleanupWarnings    metric.Int64Counter
	ExecutionDuration  metric.Float64Histogram
	ResourceLifetime   metric.Float64Histogram
	ActiveResources    metric.Int64Gauge
)

// Config for OTEL initialization
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTELEndpoint   string // e.g., "localhost:4317"
	Insecure       bool   // true for local dev
}

// InitOTEL initializes OpenTelemetry with traces and metrics
func InitOTEL(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	cfg = applyConfigDefaults(cfg)

	res, err := createOTELResource(cfg)
	if err != nil {
		return nil, err
	}

	return setupProviders(ctx, cfg, res)
}

// applyConfigDefaults applies default values to config
func applyConfigDefaults(cfg Config) Config {
	if cfg.OTELEndpoint == "" {
		cfg.OTELEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		if cfg.OTELEndpoint == "" {
			cfg.OTELEndpoint = "localhost:4317"
		}
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "sandflow"
	}

	return cfg
}

// createOTELResource creates the OTEL resource with service information
func createOTELResource(cfg Config) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// setupProviders sets up trace and metric providers
func setupProviders(ctx context.Context, cfg Config, res *resource.Resource) (func(context.Context) error, error) {
	traceShutdown, err := setupTraceProvider(ctx, cfg, res)
	if err != nil {
		return nil, fmt.Errorf("failed to setup traces: %w", err)
	}

	metricShutdown, err := setupMetricProvider(ctx, cfg, res)
	if err != nil {
		_ = traceShutdown(ctx)
		return nil, fmt.Errorf("failed to setup metrics: %w", err)
	}

	if err := initMetrics(); err != nil {
		_ = traceShutdown(ctx)
		_ = metricShutdown(ctx)
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return createCombinedShutdown(traceShutdown, metricShutdown), nil
}

// createCombinedShutdown creates a combined shutdown function
func createCombinedShutdown(traceShutdown, metricShutdown func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		var err error
		if e := traceShutdown(ctx); e != nil {
			err = fmt.Errorf("trace shutdown failed: %w", e)
		}
		if e := metricShutdown(ctx); e != nil && err == nil {
			err = fmt.Errorf("metric shutdown failed: %w", e)
		}
		return err
	}
}

// setupTraceProvider configures trace provider with OTLP exporter
func setupTraceProvider(ctx context.Context, cfg Config, res *resource.Resource) (func(context.Context) error, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.OTELEndpoint),
	}

	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithDialOption(
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	Tracer = provider.Tracer("github.com/sandflow/sandflow")

	return provider.Shutdown, nil
}

// setupMetricProvider configures metric provider with dual export (Prometheus + OTLP)
func setupMetricProvider(ctx context.Context, cfg Config, res *resource.Resource) (func(context.Context) error, error) {
	var readers []sdkmetric.Reader

	// 1. Prometheus exporter (pull-based)
	registry := promclient.NewRegistry()
	PrometheusRegistry = registry

	prometheusExporter, err := prometheus.New(
		prometheus.WithRegisterer(registry),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	readers = append(readers, prometheusExporter)

	// 2. OTLP exporter (push-based), only when a collector endpoint is set
	if cfg.OTELEndpoint != "" {
		otlpReader, err := createOTLPReader(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric reader: %w", err)
		}
		readers = append(readers, otlpReader)
	}

	providerOpts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
	}
	for _, reader := range readers {
		providerOpts = append(providerOpts, sdkmetric.WithReader(reader))
	}

	provider := sdkmetric.NewMeterProvider(providerOpts...)

	otel.SetMeterProvider(provider)

	Meter = provider.Meter("github.com/sandflow/sandflow")

	return provider.Shutdown, nil
}

// createOTLPReader creates an OTLP periodic reader for push-based export
func createOTLPReader(ctx context.Context, cfg Config) (sdkmetric.Reader, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.OTELEndpoint),
	}

	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		))
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	return sdkmetric.NewPeriodicReader(exporter,
		sdkmetric.WithInterval(10*time.Second),
	), nil
}

// initMetrics initializes all metric instruments
func initMetrics() error {
	if err := initCounters(); err != nil {
		return err
	}

	if err := initHistograms(); err != nil {
		return err
	}

	return initGauges()
}

// initCounters initializes counter metrics
func initCounters() error {
	var err error

	ResourcesCreated, err = Meter.Int64Counter("sandflow.resources.created.total",
		metric.WithDescription("Total number of sandbox resources created"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create resources_created counter: %w", err)
	}

	ResourcesDestroyed, err = Meter.Int64Counter("sandflow.resources.destroyed.total",
		metric.WithDescription("Total number of sandbox resources destroyed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create resources_destroyed counter: %w", err)
	}

	ExecutionsTotal, err = Meter.Int64Counter("sandflow.executions.total",
		metric.WithDescription("Total number of code executions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create executions counter: %w", err)
	}

	ExecutionErrors, err = Meter.Int64Counter("sandflow.executions.errors.total",
		metric.WithDescription("Total number of failed code executions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create execution_errors counter: %w", err)
	}

	CleanupKills, err = Meter.Int64Counter("sandflow.cleanup.killed.total",
		metric.WithDescription("Total number of resources destroyed by the cleaner"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cleanup_kills counter: %w", err)
	}

	CleanupWarnings, err = Meter.Int64Counter("sandflow.cleanup.warned.total",
		metric.WithDescription("Total number of expiry warnings issued by the cleaner"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cleanup_warnings counter: %w", err)
	}

	return nil
}

// initHistograms initializes histogram metrics
func initHistograms() error {
	var err error

	ExecutionDuration, err = Meter.Float64Histogram("sandflow.execution.duration.seconds",
		metric.WithDescription("Duration of code executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create execution_duration histogram: %w", err)
	}

	ResourceLifetime, err = Meter.Float64Histogram("sandflow.resource.lifetime.seconds",
		metric.WithDescription("Lifetime of destroyed resources"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource_lifetime histogram: %w", err)
	}

	return nil
}

// initGauges initializes gauge metrics
func initGauges() error {
	var err error

	ActiveResources, err = Meter.Int64Gauge("sandflow.resources.active.current",
		metric.WithDescription("Current number of active sandbox resources"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create active_resources gauge: %w", err)
	}

	return nil
}
