package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// LogExporter writes finished spans to a slog.Logger. It lets the CLI show
// span timings without a collector.
type LogExporter struct {
	logger *slog.Logger
	level  slog.Level
}

var _ sdktrace.SpanExporter = (*LogExporter)(nil)

// NewLogExporter creates an exporter logging each span at level.
func NewLogExporter(logger *slog.Logger, level slog.Level) *LogExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExporter{logger: logger, level: level}
}

// ExportSpans logs one line per span.
func (x *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		attrs := []slog.Attr{
			slog.String("span", s.Name()),
			slog.String("trace_id", s.SpanContext().TraceID().String()),
			slog.Duration("duration", s.EndTime().Sub(s.StartTime())),
			slog.String("status", s.Status().Code.String()),
			slog.Int("events", len(s.Events())),
		}
		for _, kv := range s.Attributes() {
			attrs = append(attrs, slog.String(string(kv.Key), kv.Value.Emit()))
		}
		x.logger.LogAttrs(ctx, x.level, "span", attrs...)
	}
	return nil
}

// Shutdown is a no-op.
func (x *LogExporter) Shutdown(context.Context) error { return nil }

// NewTracerProvider builds a provider that exports synchronously to exp and
// tags spans with the service name.
func NewTracerProvider(exp sdktrace.SpanExporter, service string) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(attribute.String("service.name", service))
	return sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exp),
		sdktrace.WithResource(res),
	)
}
