package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies gateway failures so callers can branch on the kind
// instead of matching error text.
type ErrorKind string

const (
	KindAuthFailure        ErrorKind = "authentication_failure"
	KindDuplicateEvent     ErrorKind = "duplicate_event"
	KindBusy               ErrorKind = "busy"
	KindStaleSession       ErrorKind = "stale_session"
	KindPermissionDenied   ErrorKind = "permission_denied"
	KindBudgetExceeded     ErrorKind = "budget_exceeded"
	KindThrottled          ErrorKind = "throttled"
	KindBackendUnavailable ErrorKind = "backend_unavailable"
	KindTimeout            ErrorKind = "timeout"
	KindConflict           ErrorKind = "conflict"
)

// Error carries an ErrorKind alongside a message and an optional cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a kinded error with a formatted message.
func E(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapE wraps err with a kind and message.
func WrapE(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the ErrorKind of err, or "" if err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the trigger source may safely retry after this
// kind of failure.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindBusy, KindBackendUnavailable, KindTimeout, KindThrottled:
		return true
	}
	return false
}
