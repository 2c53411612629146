package models

import "errors"

// Failure taxonomy shared across the pipeline. Callers branch with
// errors.Is; everything else wraps one of these.
var (
	// ErrUnsupportedType is returned for a MIME type no extractor handles.
	ErrUnsupportedType = errors.New("unsupported document type")

	// ErrExtractionFailed wraps decoder errors (corrupt file, password
	// protected). The document stays unprocessed; the upload itself succeeds.
	ErrExtractionFailed = errors.New("text extraction failed")

	// ErrEndpointUnavailable covers network errors, timeouts and 5xx from
	// the embedding endpoint. Retryable.
	ErrEndpointUnavailable = errors.New("embedding endpoint unavailable")

	// ErrRateLimited is a 429 from the embedding endpoint. Retryable with
	// backoff.
	ErrRateLimited = errors.New("embedding endpoint rate limited")

	// ErrInvalidInput is a request the endpoint will never accept, such as
	// empty text. Not retryable.
	ErrInvalidInput = errors.New("invalid embedding input")

	// ErrDimensionMismatch means a vector's length does not match the
	// store's configured dimensionality. Indicates a model migration in
	// progress; must not be retried blindly.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	ErrNotFound = errors.New("not found")

	// ErrQuotaExceeded is the entitlement gate rejecting an upload.
	ErrQuotaExceeded = errors.New("upload quota exceeded")
)

// Retryable reports whether a later attempt with the same input could
// succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrEndpointUnavailable) || errors.Is(err, ErrRateLimited)
}
