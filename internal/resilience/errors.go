// Package resilience provides retry with exponential backoff and the
// transient/permanent error classification used around adapter fetches.
package resilience

import (
	"errors"
	"net"
	"syscall"
)

// TransientError wraps a failure that is safe to retry: network timeouts,
// 5xx responses, rate limiting.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// RateLimitError is a transient failure carrying an explicit rate-limit
// signal (HTTP 429 or equivalent). The retry loop treats it as retryable but
// forces the maximum backoff step regardless of attempt count.
type RateLimitError struct {
	TransientError
}

// NewRateLimitError wraps err as an explicit rate-limit signal.
func NewRateLimitError(err error) *RateLimitError {
	return &RateLimitError{TransientError{Err: err, StatusCode: 429}}
}

// IsRateLimited reports whether err carries an explicit rate-limit signal.
func IsRateLimited(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}

// IsTransient reports whether err (or anything in its chain) is safe to
// retry: an explicit TransientError, or a network-level timeout/reset.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// RateLimitError embeds TransientError by value, so its promoted Unwrap
	// skips the TransientError node; check it explicitly.
	if IsRateLimited(err) {
		return true
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED)
}

// IsTransientHTTPStatus reports whether an HTTP status code indicates a
// server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}

// ExhaustedError marks a transient failure whose retries were used up. It is
// fatal for the run that hit it; the failure is surfaced, never dropped.
type ExhaustedError struct {
	Err      error
	Attempts int
}

func (e *ExhaustedError) Error() string { return e.Err.Error() }

func (e *ExhaustedError) Unwrap() error { return e.Err }

// IsExhausted reports whether err is a retry-exhaustion failure.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}
