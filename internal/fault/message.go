package fault

import (
	"errors"

	"github.com/MrWong99/meetvoice/pkg/provider"
)

// Report is the user-facing rendering of a failure.
type Report struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Hint    string `json:"hint"`
}

// Text joins message and hint into one line.
func (r Report) Text() string {
	if r.Hint == "" {
		return r.Message
	}
	return r.Message + " " + r.Hint
}

// Message renders err for display. Raw error text is only shown in the
// generic fallback for kinds without a dedicated message.
func Message(err error) Report {
	if err == nil {
		return Report{}
	}
	kind := KindOf(err, "")
	r := Report{Kind: kind}

	switch kind {
	case PermissionDenied:
		r.Message = "Microphone access was denied."
		r.Hint = "Allow microphone access for this application and try again."
	case UnsupportedEnvironment:
		r.Message = "Audio recording is not available here."
		r.Hint = "Install ffmpeg or upload a recording instead."
	case TranscriptionFailed:
		r.Message, r.Hint = providerMessage(err, "transcription")
	case ExtractionFailed:
		r.Message, r.Hint = providerMessage(err, "meeting extraction")
	case ValidationFailed:
		r.Message = "Some required details are missing: " + innermost(err) + "."
		r.Hint = "Edit the meeting details and fill in the missing fields."
	case RegistryInvariantViolation:
		r.Message = "The meeting could not be saved."
		r.Hint = "Reset and try scheduling the meeting again."
	case Cancelled:
		r.Message = "The request was cancelled."
		r.Hint = "Start a new recording when you are ready."
	default:
		r.Message = "Something went wrong: " + err.Error()
		r.Hint = "Reset and try again."
	}
	return r
}

func providerMessage(err error, what string) (string, string) {
	switch {
	case errors.Is(err, provider.ErrUnauthorized):
		return "The " + what + " service rejected our credentials.",
			"Check the configured API key."
	case errors.Is(err, provider.ErrNotFound):
		return "The " + what + " service is misconfigured.",
			"Check the configured model name and base URL."
	case errors.Is(err, provider.ErrRateLimited):
		return "The " + what + " service is rate limiting requests.",
			"Wait a moment and try again."
	case errors.Is(err, provider.ErrEmptyResult):
		if what == "transcription" {
			return "No speech was detected.", "Speak closer to the microphone and try again."
		}
		return "The " + what + " service returned nothing.", "Try rephrasing and record again."
	case errors.Is(err, provider.ErrMalformedResponse):
		return "The " + what + " service returned an unreadable answer.",
			"Try again or switch to a different model."
	case errors.Is(err, provider.ErrUnavailable):
		return "The " + what + " service could not be reached.",
			"Check your network connection and try again."
	}
	return "The " + what + " failed.", "Reset and try again."
}

// innermost returns the text of the deepest wrapped error, which for
// validation faults is the reason without operation prefixes.
func innermost(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
