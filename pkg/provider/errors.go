// Package provider holds the error taxonomy shared by every external-service
// backend (speech-to-text, language model, text-to-speech).
//
// Backends wrap one of the sentinels below so that orchestration code can
// distinguish failure kinds with errors.Is without knowing which vendor
// produced them.
package provider

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized reports rejected or missing credentials.
	ErrUnauthorized = errors.New("provider: unauthorized")

	// ErrNotFound reports a misconfigured backend (unknown model, wrong URL).
	ErrNotFound = errors.New("provider: backend not found")

	// ErrRateLimited reports that the backend throttled the request.
	ErrRateLimited = errors.New("provider: rate limited")

	// ErrEmptyResult reports a successful call that produced no usable output,
	// e.g. a transcription of silence.
	ErrEmptyResult = errors.New("provider: empty result")

	// ErrMalformedResponse reports output that could not be parsed into the
	// expected structure.
	ErrMalformedResponse = errors.New("provider: malformed response")

	// ErrUnavailable reports network failures and 5xx responses.
	ErrUnavailable = errors.New("provider: unavailable")
)

// StatusError classifies an HTTP status code into one of the sentinels and
// wraps it together with body, which is truncated to keep log lines short.
// It returns nil for 2xx codes.
func StatusError(status int, body string) error {
	if status >= 200 && status < 300 {
		return nil
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Errorf("%w (status %d): %s", Classify(status), status, body)
}

// Classify maps an HTTP status code to its sentinel.
func Classify(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return ErrUnavailable
	}
}

// Kind returns the sentinel err wraps, or nil when err is not classified.
func Kind(err error) error {
	for _, s := range []error{ErrUnauthorized, ErrNotFound, ErrRateLimited, ErrEmptyResult, ErrMalformedResponse, ErrUnavailable} {
		if errors.Is(err, s) {
			return s
		}
	}
	return nil
}
