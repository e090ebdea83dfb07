package ir

import (
	"errors"
	"fmt"
)

// ConfigurationErrorCode categorizes setup mistakes.
type ConfigurationErrorCode string

const (
	// ErrCodeMissingAdapter indicates the composition root got no backend adapter.
	ErrCodeMissingAdapter ConfigurationErrorCode = "MISSING_ADAPTER"

	// ErrCodeUnknownOperation indicates the operation name is absent from the
	// adapter registry at call time.
	ErrCodeUnknownOperation ConfigurationErrorCode = "UNKNOWN_OPERATION"

	// ErrCodeInvalidDeclaration indicates a declaration that cannot be encoded,
	// such as one without an operation type.
	ErrCodeInvalidDeclaration ConfigurationErrorCode = "INVALID_DECLARATION"
)

// ConfigurationError reports a programming or setup mistake. It is raised
// synchronously, never stored in mutation state and never retried.
type ConfigurationError struct {
	Code      ConfigurationErrorCode
	Message   string
	Operation string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("%s: %s (operation=%s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewUnknownOperationError reports an operation missing from the registry.
func NewUnknownOperationError(operation string) *ConfigurationError {
	return &ConfigurationError{
		Code:      ErrCodeUnknownOperation,
		Message:   "backend adapter has no such operation",
		Operation: operation,
	}
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// HasConfigurationCode reports whether err wraps a ConfigurationError with
// the given code.
func HasConfigurationCode(err error, code ConfigurationErrorCode) bool {
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}
