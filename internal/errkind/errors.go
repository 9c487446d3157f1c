package errkind

import (
	"errors"
	"fmt"
)

// ErrKind classifies pipeline failures. The worker records the kind with the
// task error string and uses it to decide whether a retry is worthwhile.
type ErrKind string

const (
	KindConfigurationInvalid ErrKind = "configuration_invalid"
	KindSourceNotFound       ErrKind = "source_not_found"
	KindUnsupportedURL       ErrKind = "unsupported_url"
	KindHTTPTransient        ErrKind = "http_transient"
	KindHTTPExhausted        ErrKind = "http_exhausted"
	KindParseError           ErrKind = "parse_error"
	KindFileSystem           ErrKind = "filesystem_error"
	KindLockTimeout          ErrKind = "lock_timeout"
	KindTagError             ErrKind = "tag_error"
	KindLLMError             ErrKind = "llm_error"
	KindSkippedByUser        ErrKind = "skipped_by_user"
	KindCancelled            ErrKind = "cancelled"
)

// Error wraps an underlying error with its pipeline classification
type Error struct {
	Kind ErrKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind
func NewError(kind ErrKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf builds a classified error from a format string
func Errorf(kind ErrKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the classification from an error chain. Unclassified
// errors report KindFileSystem as the conservative default for mid-pipeline
// failures.
func KindOf(err error) ErrKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindFileSystem
}

// IsRetriable reports whether a failure of this kind should consume a retry
// rather than terminate the task outright. HTTP exhaustion counts as one
// retry consumed; a later attempt may find the catalog recovered.
func IsRetriable(kind ErrKind) bool {
	switch kind {
	case KindHTTPTransient, KindHTTPExhausted, KindLockTimeout:
		return true
	}
	return false
}
