// Package apperr defines the error taxonomy surfaced by the booking core.
// Storage and gateway failures in the transactional path map onto one of the
// kinds below; callers branch on KindOf rather than string matching.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindForbidden
	KindBadRequest
	KindConflict
	KindUnprocessable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindBadRequest:
		return "bad_request"
	case KindConflict:
		return "conflict"
	case KindUnprocessable:
		return "unprocessable"
	default:
		return "unknown"
	}
}

// Error is a classified application error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NotFound(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...interface{}) error {
	return &Error{Kind: KindForbidden, Msg: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...interface{}) error {
	return &Error{Kind: KindBadRequest, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...interface{}) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// Unprocessable wraps an upstream failure (payment gateway, refund) that
// aborted the operation without corrupting state.
func Unprocessable(err error, format string, args ...interface{}) error {
	return &Error{Kind: KindUnprocessable, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf classifies err, returning KindUnknown for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ConstraintViolation is raised by the store when a unique constraint
// rejects a write. The constraint name identifies which invariant fired
// (idempotency key, event id, one review per booking).
type ConstraintViolation struct {
	Constraint string
}

func (e *ConstraintViolation) Error() string {
	return fmt.Sprintf("unique constraint violated: %s", e.Constraint)
}

// AsConstraint returns the violation if err carries one.
func AsConstraint(err error) (*ConstraintViolation, bool) {
	var cv *ConstraintViolation
	if errors.As(err, &cv) {
		return cv, true
	}
	return nil, false
}
