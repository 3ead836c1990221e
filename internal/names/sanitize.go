// Package names is the single point of trust for configuration identifiers.
// Every component that turns a configuration name into a filesystem path or
// reads one off an HTTP path parameter goes through Sanitize first.
package names

import (
	"strings"

	"github.com/calendar2image/c2i-service/internal/apperrors"
)

var reserved = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
}

// SanitizeReason tags why Sanitize rejected a name, so the HTTP boundary can
// surface a distinct details.reason per rejection cause instead of one
// generic message.
type SanitizeReason string

const (
	ErrEmptyName     SanitizeReason = "empty_name"
	ErrPathTraversal SanitizeReason = "path_traversal"
	ErrReservedName  SanitizeReason = "reserved_name"
	ErrLeadingDot    SanitizeReason = "leading_dot"
)

// SanitizeError is the error Sanitize returns on rejection. It wraps
// apperrors.Error so callers using apperrors.KindOf/errors.As still see
// KindInvalidInput, while callers that need the specific cause can
// errors.As into *SanitizeError directly.
type SanitizeError struct {
	Err    *apperrors.Error
	Reason SanitizeReason
}

func newSanitizeError(reason SanitizeReason, message string) *SanitizeError {
	return &SanitizeError{
		Err:    apperrors.New(apperrors.KindInvalidInput, message),
		Reason: reason,
	}
}

// Error satisfies the error interface by delegating to the wrapped
// *apperrors.Error.
func (e *SanitizeError) Error() string { return e.Err.Error() }

// Unwrap exposes the wrapped *apperrors.Error explicitly so
// errors.As(err, &apperrorsErr) and apperrors.KindOf still work against a
// *SanitizeError exactly as they do against any other apperrors.Error.
func (e *SanitizeError) Unwrap() error { return e.Err }

// Sanitize validates raw and returns its file form: the name verbatim (after
// trimming whitespace and a trailing ".json"), used as the JSON file stem.
//
// raw is rejected when, after trimming, it is empty, contains a path
// separator or a parent-directory token, begins with '.', or matches a
// reserved device name case-insensitively. Each rejection is a
// *SanitizeError carrying a distinct Reason.
func Sanitize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) >= 5 && strings.EqualFold(trimmed[len(trimmed)-5:], ".json") {
		trimmed = trimmed[:len(trimmed)-5]
	}

	if trimmed == "" {
		return "", newSanitizeError(ErrEmptyName, "configuration name must not be empty")
	}
	if strings.ContainsAny(trimmed, "/\\") {
		return "", newSanitizeError(ErrPathTraversal, "configuration name must not contain a path separator")
	}
	if strings.Contains(trimmed, "..") {
		return "", newSanitizeError(ErrPathTraversal, "configuration name must not contain a parent-directory token")
	}
	if strings.HasPrefix(trimmed, ".") {
		return "", newSanitizeError(ErrLeadingDot, "configuration name must not begin with '.'")
	}
	if reserved[strings.ToLower(trimmed)] {
		return "", newSanitizeError(ErrReservedName, "configuration name is a reserved name")
	}

	return trimmed, nil
}

// IsValid reports whether raw would be accepted by Sanitize.
func IsValid(raw string) bool {
	_, err := Sanitize(raw)
	return err == nil
}

// ToCacheName derives the cache form from an already-sanitized file form:
// spaces become underscores, used for sidecar/timeline/history filenames.
func ToCacheName(fileForm string) string {
	return strings.ReplaceAll(fileForm, " ", "_")
}

// IsNumeric reports whether name consists purely of decimal digits, the
// condition under which the Config Registry orders it numerically rather
// than lexicographically.
func IsNumeric(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
