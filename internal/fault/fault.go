// Package fault classifies pipeline failures into the small set of kinds the
// session reports to the user, and renders each kind as a message with a
// corrective hint.
package fault

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/meetvoice/pkg/audio"
)

// Kind names a class of failure.
type Kind string

const (
	PermissionDenied           Kind = "permission_denied"
	UnsupportedEnvironment     Kind = "unsupported_environment"
	TranscriptionFailed        Kind = "transcription_failed"
	ExtractionFailed           Kind = "extraction_failed"
	ValidationFailed           Kind = "validation_failed"
	RegistryInvariantViolation Kind = "registry_invariant_violation"
	Cancelled                  Kind = "cancelled"
)

// Error attaches a Kind and the failing operation to an underlying error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, fault.ErrValidation) style checks match by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrPermissionDenied  = &Error{Kind: PermissionDenied}
	ErrUnsupported       = &Error{Kind: UnsupportedEnvironment}
	ErrTranscription     = &Error{Kind: TranscriptionFailed}
	ErrExtraction        = &Error{Kind: ExtractionFailed}
	ErrValidation        = &Error{Kind: ValidationFailed}
	ErrRegistryInvariant = &Error{Kind: RegistryInvariantViolation}
	ErrCancelled         = &Error{Kind: Cancelled}
)

// New wraps err with kind and op. A nil err still produces a fault.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation returns a ValidationFailed fault with a formatted reason.
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: ValidationFailed, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind carried by err. Errors that are not faults are
// classified from the audio and provider sentinels they wrap; anything else
// defaults to fallback.
func KindOf(err error, fallback Kind) Kind {
	var f *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &f):
		return f.Kind
	case errors.Is(err, context.Canceled), errors.Is(err, audio.ErrStopped):
		return Cancelled
	case errors.Is(err, audio.ErrPermissionDenied):
		return PermissionDenied
	case errors.Is(err, audio.ErrUnsupported):
		return UnsupportedEnvironment
	}
	return fallback
}

// Wrap classifies err with KindOf and wraps it as a fault for op. It
// returns nil for a nil err and err itself when it is already a fault.
func Wrap(op string, err error, fallback Kind) error {
	if err == nil {
		return nil
	}
	var f *Error
	if errors.As(err, &f) {
		return err
	}
	return &Error{Kind: KindOf(err, fallback), Op: op, Err: err}
}
