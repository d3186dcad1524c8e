package telemetry

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a new logger with OTEL hooks
func NewLogger(service string) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", service).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// Component returns a sub-logger tagged with a component name
func (l *Logger) Component(name string) zerolog.Logger {
	return l.Logger.With().Str("component", name).Logger()
}

// Convenience methods for lifecycle operations

func (l *Logger) LogResourceCreated(ctx context.Context, provider, resourceID string, durationMs int64) {
	l.WithContext(ctx).Info().
		Str("provider", provider).
		Str("resource_id", resourceID).
		Int64("duration_ms", durationMs).
		Str("operation", "create").
		Msg("resource created")
}

func (l *Logger) LogResourceDestroyed(ctx context.Context, provider, resourceID string, lifetimeMs int64) {
	l.WithContext(ctx).Info().
		Str("provider", provider).
		Str("resource_id", resourceID).
		Int64("lifetime_ms", lifetimeMs).
		Str("operation", "destroy").
		Msg("resource destroyed")
}

func (l *Logger) LogExecution(ctx context.Context, provider, resourceID, language string, exitCode int, durationMs int64) {
	event := l.WithContext(ctx).Info()
	if exitCode != 0 {
		event = l.WithContext(ctx).Warn()
	}
	event.
		Str("provider", provider).
		Str("resource_id", resourceID).
		Str("language", language).
		Int("exit_code", exitCode).
		Int64("duration_ms", durationMs).
		Str("operation", "execute").
		Msg("execution finished")
}

func (l *Logger) LogCleanup(ctx context.Context, provider string, killed, warned, failed int) {
	l.WithContext(ctx).Info().
		Str("provider", provider).
		Int("killed", killed).
		Int("warned", warned).
		Int("failed", failed).
		Str("operation", "cleanup").
		Msg("cleanup sweep completed")
}

func (l *Logger) LogProviderError(ctx context.Context, provider, operation string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("provider", provider).
		Str("operation", operation).
		Msg("provider operation failed")
}
