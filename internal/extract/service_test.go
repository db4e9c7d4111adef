package extract_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/meetvoice/internal/directory"
	"github.com/MrWong99/meetvoice/internal/extract"
	"github.com/MrWong99/meetvoice/internal/meeting"
	"github.com/MrWong99/meetvoice/internal/observe"
	"github.com/MrWong99/meetvoice/internal/resilience"
	"github.com/MrWong99/meetvoice/pkg/provider"
	"github.com/MrWong99/meetvoice/pkg/provider/llm"
	llmmock "github.com/MrWong99/meetvoice/pkg/provider/llm/mock"
)

const philTranscript = "Hey, I just had a meeting with Phil from ABC VC fund... book a meeting with him tomorrow at 2pm"

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newService(t *testing.T, p llm.Provider, opts ...extract.Option) *extract.Service {
	t.Helper()
	dir := directory.Default()
	opts = append([]extract.Option{extract.WithMetrics(testMetrics(t))}, opts...)
	if p != nil {
		remote, err := extract.NewRemote(p, dir)
		if err != nil {
			t.Fatalf("NewRemote: %v", err)
		}
		opts = append(opts, extract.WithRemote(remote))
	}
	s, err := extract.New(dir, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestService_RemotePath(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"name":"Phil Anderson","email":"phil.anderson@abcvc.com","company":"ABC VC Fund","meetingTime":"tomorrow at 2pm"}`,
	}}
	s := newService(t, p)

	info, err := s.Extract(context.Background(), philTranscript)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if meeting.Value(info.Email) != "phil.anderson@abcvc.com" || meeting.Value(info.MeetingTime) != "tomorrow at 2pm" {
		t.Errorf("info = %+v", info)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("llm calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if !req.JSONObject {
		t.Error("JSON mode not requested")
	}
	if !strings.Contains(req.SystemPrompt, "phil.anderson@abcvc.com") {
		t.Error("system prompt does not carry the directory")
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != philTranscript {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestService_RemoteBackfill(t *testing.T) {
	t.Parallel()
	// The model only recognised the first name.
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"name":"Phil","meetingTime":"tomorrow at 2pm","duration":30}`,
	}}
	s := newService(t, p)

	info, err := s.Extract(context.Background(), philTranscript)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got := meeting.Value(info.Email); got != "phil.anderson@abcvc.com" {
		t.Errorf("email = %q, want directory email", got)
	}
	if got := meeting.Value(info.Name); got != "Phil" {
		t.Errorf("name = %q, present fields must not be overwritten", got)
	}
	if got := meeting.Value(info.Company); got != "ABC VC Fund" {
		t.Errorf("company = %q", got)
	}
	if got := meeting.Value(info.Duration); got != "30" {
		t.Errorf("duration = %q", got)
	}
}

func TestService_FallbackOnRemoteError(t *testing.T) {
	t.Parallel()

	for name, p := range map[string]*llmmock.Provider{
		"unavailable": {CompleteErr: provider.ErrUnavailable},
		"malformed":   {CompleteResponse: &llm.CompletionResponse{Content: "I think you mean Phil?"}},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := newService(t, p)
			info, err := s.Extract(context.Background(), philTranscript)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if got := meeting.Value(info.Name); got != "Phil Anderson" {
				t.Errorf("name = %q, want Phil Anderson", got)
			}
			if got := meeting.Value(info.Email); got != "phil.anderson@abcvc.com" {
				t.Errorf("email = %q", got)
			}
			if got := meeting.Value(info.MeetingTime); got != "tomorrow at 2pm" {
				t.Errorf("meetingTime = %q", got)
			}
		})
	}
}

func TestService_NoRemote(t *testing.T) {
	t.Parallel()
	s := newService(t, nil)
	info, err := s.Extract(context.Background(), "Set up something with Phil tomorrow at 3pm about the term sheet")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if meeting.Value(info.Email) != "phil.anderson@abcvc.com" {
		t.Errorf("email = %q", meeting.Value(info.Email))
	}
	if meeting.Value(info.MeetingTime) != "tomorrow at 3pm" {
		t.Errorf("meetingTime = %q", meeting.Value(info.MeetingTime))
	}
	if meeting.Value(info.MeetingPurpose) != "the term sheet" {
		t.Errorf("purpose = %q", meeting.Value(info.MeetingPurpose))
	}
}

func TestService_BreakerOpensAndSkipsRemote(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteErr: provider.ErrUnavailable}
	s := newService(t, p, extract.WithBreaker(resilience.CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	}))

	for range 5 {
		if _, err := s.Extract(context.Background(), philTranscript); err != nil {
			t.Fatalf("Extract: %v", err)
		}
	}
	if n := len(p.Calls()); n != 2 {
		t.Errorf("remote calls = %d, want 2 before the breaker opened", n)
	}
}

func TestService_RemoteTimeoutFallsBack(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	s := newService(t, p, extract.WithRemoteTimeout(10*time.Millisecond))

	info, err := s.Extract(context.Background(), philTranscript)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if meeting.Value(info.Email) != "phil.anderson@abcvc.com" {
		t.Errorf("email = %q", meeting.Value(info.Email))
	}
}

func TestService_CancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	p := &llmmock.Provider{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		cancel()
		return nil, context.Canceled
	}}
	s := newService(t, p)

	if _, err := s.Extract(ctx, philTranscript); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if _, err := s.Extract(ctx, philTranscript); !errors.Is(err, context.Canceled) {
		t.Fatalf("pre-cancelled err = %v, want context.Canceled", err)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := extract.New(nil); err == nil {
		t.Error("expected error for nil directory")
	}
	if _, err := extract.NewRemote(nil, directory.Default()); err == nil {
		t.Error("expected error for nil provider")
	}
}
