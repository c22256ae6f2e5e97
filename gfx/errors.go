// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

import (
	"errors"
	"fmt"
)

// package errors
var (
	ErrOutOfMemory = errors.New("requested memory class is unavailable")
	ErrNotMappable = errors.New("object is not host visible")
	ErrReleased    = errors.New("object is already released")
	ErrUnsupported = errors.New("operation unsupported by backend")
)

// PreconditionError is the panic value raised when a caller breaks
// an API contract, such as using an invalid handle.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// Violation panics with a PreconditionError.
func Violation(op, format string, args ...interface{}) {
	panic(&PreconditionError{
		Op:     op,
		Reason: fmt.Sprintf(format, args...),
	})
}
