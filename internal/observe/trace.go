package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the meetvoice tracer.
const tracerName = "github.com/MrWong99/meetvoice"

// Tracer returns the meetvoice [trace.Tracer] from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span and returns the updated context and span. When ctx
// carries a session id the span is tagged with it. The caller must call
// span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := SessionID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(attribute.String("meetvoice.session_id", id)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the trace id of the active span in ctx, or "".
// The HTTP middleware echoes it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

type sessionKey struct{}

// WithSessionID returns a copy of ctx that tags logs and spans with the
// scheduling session id. Provider calls made on behalf of a session inherit
// it through their context.
func WithSessionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionID returns the session id stored by [WithSessionID], or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// Logger returns the default logger enriched with the trace and span ids of
// the active span and the session id, whichever ctx carries.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := SessionID(ctx); id != "" {
		attrs = append(attrs, slog.String("session_id", id))
	}
	if len(attrs) > 0 {
		l = l.With(attrs...)
	}
	return l
}
