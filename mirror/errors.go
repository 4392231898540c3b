package mirror

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorClass represents whether a mirror error should be retried or not.
type ErrorClass int

const (
	// ErrorClassRetryable indicates a transient failure (network, 5xx, 429).
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal indicates a permanent failure (auth, validation, not found).
	ErrorClassFatal
	// ErrorClassUnknown indicates the error type cannot be determined.
	ErrorClassUnknown
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// APIError is a non-2xx response from the moderation API.
type APIError struct {
	Op         string
	Body       string
	StatusCode int
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *APIError) HTTPStatus() int { return e.StatusCode }

// statusError is implemented by API errors that carry an HTTP status,
// including those of the platform clients.
type statusError interface {
	HTTPStatus() int
}

// ClassifyError classifies mirror errors into retryable vs fatal categories.
//
// Fatal errors (non-retryable):
// - Authentication/authorization errors (401, 403)
// - Validation and missing resources (400, 404, 409, 422)
// - Caller cancellation
//
// Retryable errors (transient):
// - Network errors (connection reset, timeout, DNS failures)
// - Server errors (5xx)
// - Rate limiting (429)
//
// Unknown errors are treated as retryable.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	if errors.Is(err, context.Canceled) {
		return ErrorClassFatal
	}

	var se statusError
	if errors.As(err, &se) {
		switch code := se.HTTPStatus(); {
		case code == http.StatusTooManyRequests, code >= 500:
			return ErrorClassRetryable
		case code >= 400:
			return ErrorClassFatal
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassRetryable
	}

	lower := strings.ToLower(err.Error())
	fatalPatterns := []string{
		"unauthorized",
		"forbidden",
		"invalid_client",
		"invalid_grant",
		"access denied",
	}
	for _, pattern := range fatalPatterns {
		if strings.Contains(lower, pattern) {
			return ErrorClassFatal
		}
	}

	// Default: unknown errors are treated as retryable to avoid giving up too early
	return ErrorClassRetryable
}

// IsRetryable reports whether err should trigger another attempt.
func IsRetryable(err error) bool {
	return ClassifyError(err) == ErrorClassRetryable
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool {
	return ClassifyError(err) == ErrorClassFatal
}
