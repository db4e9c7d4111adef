package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedRoute labels requests that no ServeMux pattern matched.
const unmatchedRoute = "unmatched"

// quietRoutes are polled by probes and scrapers; their completion is logged
// at debug level only.
var quietRoutes = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// statusRecorder wraps [http.ResponseWriter] to capture the status code
// written by the downstream handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer so that http.ResponseController and
// the WebSocket upgrade can reach its Hijacker.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware instruments every request served by next, which is expected to
// be an [http.ServeMux]:
//
//   - W3C trace context is extracted from the request (or a new trace is
//     started) and echoed as X-Correlation-ID.
//   - The server span and the duration histogram are labelled with the
//     matched route pattern, never the raw path, so that session ids do not
//     explode metric cardinality. The session id is kept as a span
//     attribute instead.
//   - Completion is logged at error level for 5xx, debug level for probe
//     routes and info level otherwise.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			r = r.WithContext(ctx)
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)
			duration := time.Since(start)

			// ServeMux records the match on r itself.
			route := routeOf(r.Pattern)
			span.SetName(r.Method + " " + route)
			span.SetAttributes(
				semconv.HTTPRoute(route),
				semconv.HTTPResponseStatusCode(rec.statusCode),
			)
			sessionID := ""
			if strings.HasPrefix(route, "/api/sessions/{id}") {
				sessionID = r.PathValue("id")
				span.SetAttributes(attribute.String("meetvoice.session_id", sessionID))
			}

			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", route),
					attribute.String("status_class", statusClass(rec.statusCode)),
				),
			)

			level := slog.LevelInfo
			switch {
			case rec.statusCode >= 500:
				level = slog.LevelError
			case quietRoutes[route]:
				level = slog.LevelDebug
			}
			attrs := []slog.Attr{
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", duration),
			}
			if sessionID != "" {
				attrs = append(attrs, slog.String("session_id", sessionID))
			}
			slog.LogAttrs(ctx, level, "request completed", attrs...)
		})
	}
}

// routeOf strips the method from a ServeMux pattern ("GET /api/x" -> "/api/x").
func routeOf(pattern string) string {
	if pattern == "" {
		return unmatchedRoute
	}
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		return pattern[i+1:]
	}
	return pattern
}

// statusClass buckets a status code as "2xx", "4xx" and so on.
func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
