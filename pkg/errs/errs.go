// Package errs gives the control plane's error handling a dispatchable
// shape instead of string sniffing, per the error kind taxonomy of the
// error handling design: validation, not_found, capacity, transient,
// precondition, exec_failed.
package errs

import "errors"

// Kind is one of the error categories a lifecycle operation can fail with.
type Kind string

const (
	Validation  Kind = "validation"
	NotFound    Kind = "not_found"
	Capacity    Kind = "capacity"
	Transient   Kind = "transient"
	Precondition Kind = "precondition"
	ExecFailed  Kind = "exec_failed"
)

// Error is a kinded error wrapping an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs a kinded error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a kinded error around a cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the Kind of err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err's kind equals kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
