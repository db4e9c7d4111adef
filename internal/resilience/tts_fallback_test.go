package resilience

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/MrWong99/meetvoice/pkg/provider"
	ttsmock "github.com/MrWong99/meetvoice/pkg/provider/tts/mock"
)

func TestTTSFallback_Synthesize_PrimarySuccess(t *testing.T) {
	primary := &ttsmock.Provider{Audio: []byte("primary"), ContentType: "audio/mpeg"}
	secondary := &ttsmock.Provider{Audio: []byte("secondary")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	speech, err := fb.Synthesize(context.Background(), "Meeting booked.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer speech.Audio.Close()
	data, _ := io.ReadAll(speech.Audio)
	if string(data) != "primary" || speech.ContentType != "audio/mpeg" {
		t.Fatalf("speech = %q (%s), want primary audio/mpeg", data, speech.ContentType)
	}
	if len(secondary.Texts) != 0 {
		t.Errorf("secondary called with %v", secondary.Texts)
	}
}

func TestTTSFallback_Synthesize_Failover(t *testing.T) {
	primary := &ttsmock.Provider{Err: provider.ErrUnavailable}
	secondary := &ttsmock.Provider{Audio: []byte("secondary")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	speech, err := fb.Synthesize(context.Background(), "Meeting booked.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer speech.Audio.Close()
	data, _ := io.ReadAll(speech.Audio)
	if string(data) != "secondary" {
		t.Fatalf("audio = %q, want secondary", data)
	}
	if len(primary.Texts) != 1 || primary.Texts[0] != "Meeting booked." {
		t.Errorf("primary texts = %v", primary.Texts)
	}
}

func TestTTSFallback_Synthesize_AllFail(t *testing.T) {
	fb := NewTTSFallback(&ttsmock.Provider{Err: provider.ErrUnauthorized}, "primary", FallbackConfig{})
	fb.AddFallback("secondary", &ttsmock.Provider{Err: provider.ErrUnavailable})

	_, err := fb.Synthesize(context.Background(), "hi")
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, provider.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping the last cause", err)
	}
}
