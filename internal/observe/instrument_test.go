package observe

import (
	"context"
	"fmt"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/meetvoice/pkg/audio"
	"github.com/MrWong99/meetvoice/pkg/provider"
	"github.com/MrWong99/meetvoice/pkg/provider/llm"
	llmmock "github.com/MrWong99/meetvoice/pkg/provider/llm/mock"
	"github.com/MrWong99/meetvoice/pkg/provider/stt"
	sttmock "github.com/MrWong99/meetvoice/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/meetvoice/pkg/provider/tts/mock"
)

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{context.Canceled, "cancelled"},
		{fmt.Errorf("whisper: %w", provider.ErrEmptyResult), "empty"},
		{provider.ErrRateLimited, "rate_limited"},
		{fmt.Errorf("x: %w", provider.ErrUnavailable), "unavailable"},
		{fmt.Errorf("plain"), "other"},
	}
	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestInstrumentSTT_RecordsSpanAndMetrics(t *testing.T) {
	m, reader := newTestMetrics(t)
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	ok := InstrumentSTT(&sttmock.Provider{Text: "hello"}, "whisper", m)
	if text, err := ok.Transcribe(context.Background(), audio.Segment{}, stt.Options{}); err != nil || text != "hello" {
		t.Fatalf("Transcribe = %q, %v", text, err)
	}
	bad := InstrumentSTT(&sttmock.Provider{Err: provider.ErrUnauthorized}, "openai", m)
	if _, err := bad.Transcribe(context.Background(), audio.Segment{}, stt.Options{}); err == nil {
		t.Fatal("expected error")
	}

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "meetvoice.provider.requests", "status", "ok"); got != 1 {
		t.Errorf("ok requests = %d, want 1", got)
	}
	if got := sumByAttr(t, rm, "meetvoice.provider.errors", "provider", "openai"); got != 1 {
		t.Errorf("openai errors = %d, want 1", got)
	}

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Name != "stt.whisper" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "unauthorized" {
		t.Errorf("error span status = %+v", spans[1].Status)
	}
}

func TestInstrumentLLMAndTTS_PassThrough(t *testing.T) {
	m, _ := newTestMetrics(t)

	l := InstrumentLLM(&llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "{}"}}, "openai", m)
	resp, err := l.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil || resp.Content != "{}" {
		t.Fatalf("Complete = %+v, %v", resp, err)
	}

	tp := &ttsmock.Provider{Audio: []byte("x")}
	speech, err := InstrumentTTS(tp, "elevenlabs", m).Synthesize(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	_ = speech.Audio.Close()
	if len(tp.Texts) != 1 {
		t.Errorf("texts = %v", tp.Texts)
	}
}
