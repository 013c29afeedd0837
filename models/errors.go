package models

import "errors"

var (
	// ErrTransport covers unreachable services, non-2xx responses and timeouts.
	ErrTransport = errors.New("transport failure")
	// ErrDecode means a response body could not be parsed as the expected JSON.
	ErrDecode = errors.New("decode failure")
	// ErrKeyMissing marks a post without a URL.
	ErrKeyMissing = errors.New("missing url")
	// ErrPersistence wraps a failed store operation for a single record.
	ErrPersistence = errors.New("persistence failure")
	// ErrNormalizeFailed is returned when the text pass exhausts its attempts.
	ErrNormalizeFailed = errors.New("normalization failed")
)
