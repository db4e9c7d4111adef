package observe

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/meetvoice/pkg/audio"
	"github.com/MrWong99/meetvoice/pkg/provider"
	"github.com/MrWong99/meetvoice/pkg/provider/llm"
	"github.com/MrWong99/meetvoice/pkg/provider/stt"
	"github.com/MrWong99/meetvoice/pkg/provider/tts"
)

// ErrorKind returns a short label for err suitable as a metric attribute.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, provider.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, provider.ErrNotFound):
		return "not_found"
	case errors.Is(err, provider.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, provider.ErrEmptyResult):
		return "empty"
	case errors.Is(err, provider.ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, provider.ErrUnavailable):
		return "unavailable"
	}
	return "other"
}

// observeCall wraps one provider call in a span and records its latency,
// request count and, on failure, an error count.
func observeCall[R any](ctx context.Context, m *Metrics, hist metric.Float64Histogram, kind, name string, fn func(context.Context) (R, error)) (R, error) {
	ctx, span := StartSpan(ctx, kind+"."+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("provider.kind", kind),
			attribute.String("provider.name", name),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := fn(ctx)
	hist.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("provider", name)))

	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, name, kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorKind(err))
		Logger(ctx).Warn("provider call failed", "kind", kind, "provider", name, "err_kind", ErrorKind(err), "err", err)
	}
	m.RecordProviderRequest(ctx, name, kind, status)
	return res, err
}

type instrumentedSTT struct {
	next stt.Provider
	name string
	m    *Metrics
}

// InstrumentSTT wraps p so that every transcription is traced and measured.
func InstrumentSTT(p stt.Provider, name string, m *Metrics) stt.Provider {
	return &instrumentedSTT{next: p, name: name, m: m}
}

func (i *instrumentedSTT) Transcribe(ctx context.Context, seg audio.Segment, opts stt.Options) (string, error) {
	return observeCall(ctx, i.m, i.m.STTDuration, "stt", i.name, func(ctx context.Context) (string, error) {
		return i.next.Transcribe(ctx, seg, opts)
	})
}

type instrumentedLLM struct {
	next llm.Provider
	name string
	m    *Metrics
}

// InstrumentLLM wraps p so that every completion is traced and measured.
func InstrumentLLM(p llm.Provider, name string, m *Metrics) llm.Provider {
	return &instrumentedLLM{next: p, name: name, m: m}
}

func (i *instrumentedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return observeCall(ctx, i.m, i.m.LLMDuration, "llm", i.name, func(ctx context.Context) (*llm.CompletionResponse, error) {
		return i.next.Complete(ctx, req)
	})
}

type instrumentedTTS struct {
	next tts.Provider
	name string
	m    *Metrics
}

// InstrumentTTS wraps p so that stream setup is traced and measured.
func InstrumentTTS(p tts.Provider, name string, m *Metrics) tts.Provider {
	return &instrumentedTTS{next: p, name: name, m: m}
}

func (i *instrumentedTTS) Synthesize(ctx context.Context, text string) (tts.Speech, error) {
	return observeCall(ctx, i.m, i.m.TTSDuration, "tts", i.name, func(ctx context.Context) (tts.Speech, error) {
		return i.next.Synthesize(ctx, text)
	})
}
