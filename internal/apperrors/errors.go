// Package apperrors defines the tagged error-kind taxonomy shared by every
// control-plane component. Components never return ad-hoc sentinel errors
// for conditions the HTTP Front Door must distinguish; they return an *Error
// carrying a Kind, and the Front Door maps Kind to an HTTP status exactly
// once, at the boundary.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for HTTP-status mapping and logging.
type Kind string

const (
	// KindInvalidInput covers bad names and schema violations. Mapped to
	// HTTP 400.
	KindInvalidInput Kind = "invalid_input"
	// KindNotFound covers missing configurations, missing cache entries
	// that cannot be regenerated, and a requested extension that doesn't
	// match the configuration's imageType; the route simply doesn't serve
	// that extension. Mapped to HTTP 404.
	KindNotFound Kind = "not_found"
	// KindUpstream covers calendar/auxiliary fetch failures that could not
	// be worked around. Mapped to HTTP 502.
	KindUpstream Kind = "upstream"
	// KindInternal covers rendering and post-processing failures, worker
	// timeouts and crashes. Mapped to HTTP 500.
	KindInternal Kind = "internal"
)

// Error is the single error type data-path operations return when the
// caller needs to distinguish failure kinds. Observability-path operations
// (timeline, change history) never return *Error; they log and swallow.
type Error struct {
	Kind    Kind
	Message string
	Details string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind around cause, using cause's
// message as Details so the HTTP layer can surface it without leaking it
// into Message (which is meant to be a stable, user-facing string).
func Wrap(kind Kind, message string, cause error) *Error {
	details := ""
	if cause != nil {
		details = cause.Error()
	}
	return &Error{Kind: kind, Message: message, Details: details, Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, defaulting to KindInternal otherwise: an un-tagged error reaching
// the HTTP boundary is always treated as an internal failure, never a 4xx.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}
