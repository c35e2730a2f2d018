package domain

import (
	"errors"
	"strings"
)

// ErrorKind identifies which stage of the pipeline failed.
type ErrorKind string

const (
	KindInvalidURL          ErrorKind = "invalid_url"
	KindExtractionExhausted ErrorKind = "extraction_exhausted"
	KindFormatUnavailable   ErrorKind = "format_unavailable"
	KindDownloadFailed      ErrorKind = "download_failed"
	KindCleanupFailed       ErrorKind = "cleanup_failed"
)

// FailureClass is the guidance bucket an opaque upstream failure falls into.
type FailureClass string

const (
	// FailureBlocked means the upstream refused or changed its page structure.
	FailureBlocked FailureClass = "blocked"
	// FailureRestricted means the content is private or requires login.
	FailureRestricted FailureClass = "restricted"
	// FailureGeneric is the default bucket.
	FailureGeneric FailureClass = "generic"
)

const (
	blockedMessage = "Unable to download this Facebook video. Facebook has updated their security measures. " +
		"Please try one of these solutions:\n" +
		"1. For Reels: Open the link in your browser, copy the full URL (facebook.com/reel/123456789)\n" +
		"2. For regular videos: Try using the direct video URL instead of share links\n" +
		"3. Some videos may be restricted and cannot be downloaded\n" +
		"Note: Facebook actively blocks automated downloads and this may not work for all videos."
	restrictedMessage = "This video appears to be private or requires login. Only public videos can be downloaded."

	formatUnavailableMarker = "Requested format is not available"
)

// ErrInvalidURL is returned when a URL does not belong to the target platform.
var ErrInvalidURL = &Error{Kind: KindInvalidURL, Message: "Not a valid Facebook URL"}

// Error is the error type surfaced to the HTTP boundary. Message is the
// user-facing text; Err carries the underlying diagnostic.
type Error struct {
	Kind    ErrorKind
	Class   FailureClass
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrInvalidURL) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Class == "" || t.Class == e.Class)
}

// ClassifyExtractionFailure maps raw upstream error text to a guidance bucket.
// Anything unrecognized is FailureGeneric.
func ClassifyExtractionFailure(text string) FailureClass {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(text, "Cannot parse data") || strings.Contains(lower, "unable to extract"):
		return FailureBlocked
	case strings.Contains(text, "Private video") || strings.Contains(lower, "login"):
		return FailureRestricted
	default:
		return FailureGeneric
	}
}

// NewExtractionError builds the ExtractionExhausted error for the last strategy failure.
func NewExtractionError(last error) *Error {
	text := ""
	if last != nil {
		text = last.Error()
	}

	class := ClassifyExtractionFailure(text)
	e := &Error{Kind: KindExtractionExhausted, Class: class, Err: last}
	switch class {
	case FailureBlocked:
		e.Message = blockedMessage
	case FailureRestricted:
		e.Message = restrictedMessage
	default:
		e.Message = "Could not process video: " + text
	}
	return e
}

// IsFormatUnavailable reports whether downloader error text says the selected format is gone.
func IsFormatUnavailable(text string) bool {
	return strings.Contains(text, formatUnavailableMarker)
}
