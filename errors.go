package alyamem

import "errors"

// Sentinel errors for the memory engine. Callers classify failures with
// errors.Is; everything else wraps one of these.
var (
	// ErrStorageUnavailable indicates a transient backend failure.
	// Safe to retry from the caller's side.
	ErrStorageUnavailable = errors.New("alyamem: storage unavailable")

	// ErrValidation indicates malformed caller input (empty user id,
	// bad fact key, ...). Never retried.
	ErrValidation = errors.New("alyamem: validation failed")

	// ErrSummarization indicates the summarizer collaborator failed or
	// timed out. The eviction that triggered it is aborted; the window
	// stays over-full until the next append retries.
	ErrSummarization = errors.New("alyamem: summarization failed")

	// ErrNotFound is returned by point lookups when the row does not exist.
	ErrNotFound = errors.New("alyamem: not found")
)

// IsRetryable reports whether the caller may retry the failed operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
