// Package errs defines the error kinds shared across the reconciliation
// pipeline. Callers wrap these with fmt.Errorf("...: %w", ...) so that
// errors.Is can classify a failure regardless of how deep it occurred.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound: an identity or account could not be resolved. User-correctable.
	ErrNotFound = errors.New("not found")

	// ErrConfiguration: a required registry snapshot or credential is missing.
	ErrConfiguration = errors.New("configuration error")

	// ErrUpstreamUnavailable: non-2xx response or transport failure.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrEmptyResult: the call succeeded but returned no usable rows.
	// Triggers the next fallback period or source.
	ErrEmptyResult = errors.New("empty result")

	// ErrParse: malformed numeric or date text. Field-local, never fatal.
	ErrParse = errors.New("parse error")
)

// StatusError is a business-level failure code carried inside a 2xx payload,
// e.g. a disclosure API responding status != "000" with a message.
type StatusError struct {
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream status %s", e.Code)
	}
	return fmt.Sprintf("upstream status %s: %s", e.Code, e.Message)
}

// IsRetryable reports whether an error should enter the quote-batch backoff
// path. Only transport-level unavailability qualifies; payload-level status
// failures and empty results fall through to their callers.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}
