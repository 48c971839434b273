package errors

import (
	"fmt"
)

// ConfigError represents a problem with the user-supplied configuration,
// such as an unknown digest algorithm or a key of the wrong length. It's
// fatal at startup, before any file is touched.
type ConfigError struct {
	Reason string
}

func (err ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", err.Reason)
}

// NewConfigError creates a ConfigError with a formatted reason.
func NewConfigError(format string, args ...interface{}) error {
	return ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}
