package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown message, conversation or chat ids.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedPlatform is returned for webhook events from accounts other than Instagram.
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrNotConnected is returned when an operation needs a connected gateway account.
	ErrNotConnected = errors.New("instagram not connected")
)

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s is required", e.Field)
}

// NewValidationError builds a ValidationError with a custom message.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}
