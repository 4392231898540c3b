package moderation

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned by Manager lookups for unknown session ids.
	ErrSessionNotFound = errors.New("moderation session not found")
	// ErrSessionExists is returned when opening a session for a stream that already has one.
	ErrSessionExists = errors.New("moderation session already open")
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("moderation session closed")
	// ErrMessageNotFound is returned when a queued chat message is unknown or already resolved.
	ErrMessageNotFound = errors.New("chat message not found")
	// ErrNoTemplates is returned when a template is applied on a session without a template source.
	ErrNoTemplates = errors.New("no template source configured")
)

// ValidationError reports a request rejected before it reached the store.
// No state changes when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
