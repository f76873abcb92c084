// Package eutils provides the rate-limited, retrying client for the NCBI
// E-utilities endpoints. Every upstream call in the system goes through this
// single choke point.
package eutils

import (
	"fmt"
	"net/http"
)

// FetchFailure reports an upstream call that failed after its retry budget
// was spent, or immediately for a non-retryable status.
type FetchFailure struct {
	Endpoint   string
	StatusCode int // zero for transport-level failures
	Attempts   int
	Cause      error
}

func (e *FetchFailure) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed with HTTP %d after %d attempt(s)", e.Endpoint, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Endpoint, e.Attempts, e.Cause)
}

func (e *FetchFailure) Unwrap() error {
	return e.Cause
}

// BatchTooLargeError reports a caller handing the client more identifiers
// than the configured batch maximum. Batching is the caller's job.
type BatchTooLargeError struct {
	Size int
	Max  int
}

func (e *BatchTooLargeError) Error() string {
	return fmt.Sprintf("batch of %d identifiers exceeds maximum of %d", e.Size, e.Max)
}

// DecodeError reports an upstream payload that could not be decoded into the
// expected shape.
type DecodeError struct {
	Endpoint string
	Cause    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s response: %v", e.Endpoint, e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// retryableStatus reports whether an HTTP status signals a condition worth
// retrying: rate limiting or a server-side fault.
func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
