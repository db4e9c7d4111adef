package provider_test

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/MrWong99/meetvoice/pkg/provider"
)

func TestStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, provider.ErrUnauthorized},
		{http.StatusForbidden, provider.ErrUnauthorized},
		{http.StatusNotFound, provider.ErrNotFound},
		{http.StatusTooManyRequests, provider.ErrRateLimited},
		{http.StatusBadGateway, provider.ErrUnavailable},
		{http.StatusBadRequest, provider.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			err := provider.StatusError(tt.status, "boom")
			if !errors.Is(err, tt.want) {
				t.Fatalf("StatusError(%d) = %v, want wrapping %v", tt.status, err, tt.want)
			}
			if !strings.Contains(err.Error(), "boom") {
				t.Errorf("error %q does not carry the body", err)
			}
		})
	}
}

func TestStatusError_Success(t *testing.T) {
	t.Parallel()
	if err := provider.StatusError(http.StatusOK, ""); err != nil {
		t.Fatalf("StatusError(200) = %v, want nil", err)
	}
}

func TestStatusError_TruncatesBody(t *testing.T) {
	t.Parallel()
	err := provider.StatusError(http.StatusInternalServerError, strings.Repeat("x", 1000))
	if len(err.Error()) > 400 {
		t.Errorf("error length %d, want body truncated", len(err.Error()))
	}
}

func TestKind(t *testing.T) {
	t.Parallel()
	wrapped := fmt.Errorf("stt/openai: transcribe: %w", provider.ErrRateLimited)
	if got := provider.Kind(wrapped); got != provider.ErrRateLimited {
		t.Errorf("Kind = %v, want ErrRateLimited", got)
	}
	if got := provider.Kind(errors.New("other")); got != nil {
		t.Errorf("Kind(unclassified) = %v, want nil", got)
	}
}
