package errors

import (
	goErrors "errors"
	"fmt"
)

// ContextError annotates an error with a description of the operation that
// failed. Contexts accumulate as the error travels up the call stack, so the
// final message reads like a breadcrumb trail.
type ContextError struct {
	Context string
	Err     error
}

func (err ContextError) Error() string {
	return fmt.Sprintf("%s: %s", err.Context, err.Err)
}

// Unwrap makes ContextError compatible with the standard errors helpers.
func (err ContextError) Unwrap() error {
	return err.Err
}

// New creates a basic error with the given message.
func New(msg string) error {
	return goErrors.New(msg)
}

// WithContext wraps err with a description of the operation that caused it.
func WithContext(err error, context string) error {
	return ContextError{Context: context, Err: err}
}

// RootCause returns the innermost error in the chain. It's useful for
// checking the type of the error that started a failure, regardless of how
// many contexts were added on the way up.
func RootCause(err error) error {
	for {
		unwrapped := goErrors.Unwrap(err)
		if unwrapped == nil {
			return err
		}
		err = unwrapped
	}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return goErrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return goErrors.As(err, target)
}

// FriendlyError is an error whose message is meant to be shown to the user
// directly, without any wrapping contexts or log decoration.
type FriendlyError struct {
	Message string
}

func (err FriendlyError) Error() string {
	return err.Message
}

// FriendlyMessage returns the user-facing message.
func (err FriendlyError) FriendlyMessage() string {
	return err.Message
}

// NewFriendlyError creates an error that will be printed to the user as-is.
func NewFriendlyError(format string, args ...interface{}) error {
	return FriendlyError{Message: fmt.Sprintf(format, args...)}
}

// GetPrintableMessage returns the message that should be shown to the user
// for the given error. Friendly errors are printed verbatim, anything else
// falls back to the standard Error string.
func GetPrintableMessage(err error) string {
	type friendly interface {
		FriendlyMessage() string
	}

	if friendlyErr, ok := err.(friendly); ok {
		return friendlyErr.FriendlyMessage()
	}
	if friendlyErr, ok := RootCause(err).(friendly); ok {
		return friendlyErr.FriendlyMessage()
	}
	return err.Error()
}
