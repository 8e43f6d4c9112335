// Package errors provides typed error handling for the supervisor core.
//
// It defines one error type whose Kind maps onto the errno vocabulary the
// control plane speaks (§4.E, §7): EINVAL, EEXIST, ESRCH, EACCES, ENEEDAUTH,
// EAGAIN, plus a resource/internal kind for unrecoverable conditions. All
// errors support the standard errors.Is()/errors.As() functions.
package errors

import (
	"errors"
	"fmt"
)

// ErrorKind represents the category of an error, chosen to line up with the
// errno values the control plane returns on the wire.
type ErrorKind int

const (
	// ErrInvalid corresponds to EINVAL: a malformed request or description.
	ErrInvalid ErrorKind = iota
	// ErrExists corresponds to EEXIST: a label is already loaded.
	ErrExists
	// ErrNoSuchJob corresponds to ESRCH: the label is not loaded.
	ErrNoSuchJob
	// ErrAccess corresponds to EACCES: the connection may not perform the
	// requested operation (e.g. CheckIn from an unbound connection).
	ErrAccess
	// ErrNeedAuth corresponds to ENEEDAUTH.
	ErrNeedAuth
	// ErrAgain corresponds to EAGAIN: a transient I/O condition.
	ErrAgain
	// ErrResource indicates a resource allocation or binding failure
	// (socket bind, fifo creation, fork).
	ErrResource
	// ErrInternal indicates a bug or unexpected internal condition.
	ErrInternal
)

// String returns a human-readable name for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrInvalid:
		return "invalid argument"
	case ErrExists:
		return "already exists"
	case ErrNoSuchJob:
		return "no such job"
	case ErrAccess:
		return "permission denied"
	case ErrNeedAuth:
		return "authentication required"
	case ErrAgain:
		return "resource temporarily unavailable"
	case ErrResource:
		return "resource error"
	case ErrInternal:
		return "internal error"
	default:
		return "unknown error"
	}
}

// Errno returns the POSIX errno value the control plane should report for
// this kind (§4.E response tables use "errno").
func (k ErrorKind) Errno() int {
	switch k {
	case ErrInvalid:
		return 22 // EINVAL
	case ErrExists:
		return 17 // EEXIST
	case ErrNoSuchJob:
		return 3 // ESRCH
	case ErrAccess:
		return 13 // EACCES
	case ErrNeedAuth:
		return 81 // ENEEDAUTH (BSD value; callers needn't match it exactly)
	case ErrAgain:
		return 11 // EAGAIN
	default:
		return 1 // generic failure
	}
}

// Error represents an error that occurred during a supervisor operation.
type Error struct {
	// Op is the operation that failed (e.g. "submit", "start", "bind-socket").
	Op string
	// Label is the job label, if applicable.
	Label string
	// Err is the underlying error.
	Err error
	// Kind is the error classification.
	Kind ErrorKind
	// Detail provides additional context about the error.
	Detail string
}

// Error returns the error message.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	var msg string
	if e.Label != "" {
		msg = fmt.Sprintf("job %s: ", e.Label)
	}
	if e.Op != "" {
		msg += fmt.Sprintf("%s: ", e.Op)
	}
	if e.Detail != "" {
		msg += e.Detail
	} else {
		msg += e.Kind.String()
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether the error matches the target. It matches only if the
// target is an *Error with the same Kind; the underlying error is reached
// by the standard errors.Is through Unwrap, not by this method.
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates a new Error with the given kind.
func New(kind ErrorKind, op string, detail string) *Error {
	return &Error{Op: op, Kind: kind, Detail: detail}
}

// Wrap wraps an error with operation context.
func Wrap(err error, kind ErrorKind, op string) *Error {
	return &Error{Op: op, Err: err, Kind: kind}
}

// WrapWithJob wraps an error with operation context and a job label.
func WrapWithJob(err error, kind ErrorKind, op string, label string) *Error {
	return &Error{Op: op, Label: label, Err: err, Kind: kind}
}

// WrapWithDetail wraps an error with additional detail.
func WrapWithDetail(err error, kind ErrorKind, op string, detail string) *Error {
	return &Error{Op: op, Err: err, Kind: kind, Detail: detail}
}

// IsKind checks if an error is of a specific kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// GetKind returns the error kind if the error is an *Error.
func GetKind(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Errno returns the POSIX errno this error should be reported as on the
// control-plane wire, or 1 (generic failure) if err is not an *Error, or 0
// if err is nil.
func Errno(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind.Errno()
	}
	return 1
}

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)
