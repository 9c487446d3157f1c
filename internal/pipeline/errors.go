package pipeline

import "github.com/ternarybob/fabula/internal/errkind"

// The error-kind API lives in internal/errkind so that leaf packages such as
// scrapers can classify failures without importing pipeline (which would form
// an import cycle). These aliases keep the pipeline-facing names intact.

type ErrKind = errkind.ErrKind
type Error = errkind.Error

const (
	KindConfigurationInvalid = errkind.KindConfigurationInvalid
	KindSourceNotFound       = errkind.KindSourceNotFound
	KindUnsupportedURL       = errkind.KindUnsupportedURL
	KindHTTPTransient        = errkind.KindHTTPTransient
	KindHTTPExhausted        = errkind.KindHTTPExhausted
	KindParseError           = errkind.KindParseError
	KindFileSystem           = errkind.KindFileSystem
	KindLockTimeout          = errkind.KindLockTimeout
	KindTagError             = errkind.KindTagError
	KindLLMError             = errkind.KindLLMError
	KindSkippedByUser        = errkind.KindSkippedByUser
	KindCancelled            = errkind.KindCancelled
)

var (
	NewError    = errkind.NewError
	Errorf      = errkind.Errorf
	KindOf      = errkind.KindOf
	IsRetriable = errkind.IsRetriable
)
