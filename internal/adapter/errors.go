package adapter

import (
	"errors"
	"fmt"

	"github.com/roach88/mutate/internal/ir"
)

// Error is the conventional error shape for adapters: a message, an
// optional transport status and an optional structured body (for example
// per-field validation errors).
type Error struct {
	Message string
	Status  int
	Body    ir.Value
}

// Error implements the error interface. It returns the message alone so
// callers can show it directly.
func (e *Error) Error() string {
	return e.Message
}

// NewError creates an Error with a message and status.
func NewError(status int, format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Status: status}
}

// StatusOf returns the Status of an adapter Error, or 0 when err is not one.
func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}
