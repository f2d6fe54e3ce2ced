package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/omniroute/omniroute/pkg/version"
)

// Log attribute keys shared by every record.
const (
	attrTraceID = "trace_id"
	attrSpanID  = "span_id"
	attrDaemon  = "daemon"
	attrEnv     = "env"
	attrBuild   = "build"
)

// TracingHandler is an [slog.Handler] that stamps each record with the
// daemon identity (name, environment, build) and, when the context
// carries an active span, the OpenTelemetry trace and span IDs. Records
// from the routing loops thereby correlate with exported traces.
type TracingHandler struct {
	inner slog.Handler
}

// NewTracingHandler wraps an [slog.Handler] with daemon identity and
// trace correlation. Identity attributes are attached up front so they
// stay at the record's top level under WithGroup.
func NewTracingHandler(inner slog.Handler, daemon, env string) *TracingHandler {
	attrs := []slog.Attr{
		slog.String(attrDaemon, daemon),
		slog.String(attrBuild, version.Version),
	}

	if env != "" {
		attrs = append(attrs, slog.String(attrEnv, env))
	}

	return &TracingHandler{inner: inner.WithAttrs(attrs)}
}

// Enabled delegates to the inner handler.
func (th *TracingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return th.inner.Enabled(ctx, level)
}

// Handle appends trace correlation when the context carries a valid
// span, then delegates.
func (th *TracingHandler) Handle(ctx context.Context, record slog.Record) error {
	record.AddAttrs(spanAttrs(ctx)...)

	err := th.inner.Handle(ctx, record)
	if err != nil {
		return fmt.Errorf("tracing handler: %w", err)
	}

	return nil
}

// WithAttrs returns a handler with extra attributes on the inner handler.
func (th *TracingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TracingHandler{inner: th.inner.WithAttrs(attrs)}
}

// WithGroup returns a handler with a group prefix on the inner handler.
func (th *TracingHandler) WithGroup(name string) slog.Handler {
	return &TracingHandler{inner: th.inner.WithGroup(name)}
}

// spanAttrs extracts trace correlation attributes, or nothing when the
// context has no recording span.
func spanAttrs(ctx context.Context) []slog.Attr {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}

	return []slog.Attr{
		slog.String(attrTraceID, sc.TraceID().String()),
		slog.String(attrSpanID, sc.SpanID().String()),
	}
}
