// Package observe provides application-wide observability primitives for
// meetvoice: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is set up by [InitProvider] so that metrics can be scraped
// via the standard /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all meetvoice metrics.
const meterName = "github.com/MrWong99/meetvoice"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency (extraction and conversation).
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks time to first audio of text-to-speech synthesis.
	TTSDuration metric.Float64Histogram

	// ExtractionDuration tracks the whole extraction step. Use with attribute:
	//   attribute.String("path", "remote"|"heuristic")
	ExtractionDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ExtractionFallbacks counts extractions answered by the local heuristic
	// because the remote backend failed. Use with attribute:
	//   attribute.String("reason", ...)
	ExtractionFallbacks metric.Int64Counter

	// Commits counts registry commits. Use with attribute:
	//   attribute.String("contact", "new"|"existing")
	Commits metric.Int64Counter

	// SessionErrors counts sessions that entered the error step. Use with
	// attribute: attribute.String("kind", ...)
	SessionErrors metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes: attribute.String("breaker", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of open scheduling sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time, labelled with
	// method, route pattern and status class.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Remote
// transcription and extraction routinely take several seconds.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "meetvoice.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMDuration, "meetvoice.llm.duration", "Latency of LLM inference."},
		{&met.TTSDuration, "meetvoice.tts.duration", "Time to first audio of text-to-speech synthesis."},
		{&met.ExtractionDuration, "meetvoice.extraction.duration", "Latency of meeting extraction by path."},
		{&met.ToolExecutionDuration, "meetvoice.tool_execution.duration", "Latency of MCP tool execution."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "meetvoice.provider.requests", "Total provider API requests by provider, kind, and status."},
		{&met.ExtractionFallbacks, "meetvoice.extraction.fallbacks", "Extractions answered by the local heuristic."},
		{&met.Commits, "meetvoice.registry.commits", "Registry commits by new or existing contact."},
		{&met.SessionErrors, "meetvoice.session.errors", "Sessions that entered the error step by fault kind."},
		{&met.ToolCalls, "meetvoice.tool.calls", "Total tool invocations by tool name and status."},
		{&met.BreakerTransitions, "meetvoice.breaker.transitions", "Circuit breaker state changes by breaker and target state."},
		{&met.ProviderErrors, "meetvoice.provider.errors", "Total provider errors by provider and kind."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("meetvoice.active_sessions",
		metric.WithDescription("Number of open scheduling sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("meetvoice.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status class."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordExtraction records the latency of one extraction and, when the
// heuristic answered because the remote path failed, a fallback with reason.
func (m *Metrics) RecordExtraction(ctx context.Context, path string, seconds float64, fallbackReason string) {
	m.ExtractionDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("path", path)))
	if fallbackReason != "" {
		m.ExtractionFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", fallbackReason)))
	}
}

// RecordCommit records a registry commit.
func (m *Metrics) RecordCommit(ctx context.Context, newContact bool) {
	v := "existing"
	if newContact {
		v = "new"
	}
	m.Commits.Add(ctx, 1, metric.WithAttributes(attribute.String("contact", v)))
}

// RecordSessionError records a session entering the error step.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordToolCall records a tool call counter increment.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordBreakerTransition records a circuit breaker entering state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("to", to),
		),
	)
}
