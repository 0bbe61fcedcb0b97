// Package apperr defines the tagged error taxonomy the core distinguishes,
// replacing exceptions-as-control-flow with explicit, inspectable error
// values per spec §7.
package apperr

import "fmt"

// Kind tags an error with one of the core's error categories.
type Kind string

const (
	Validation        Kind = "validation"
	RiskViolation     Kind = "risk_violation"
	IllegalTransition Kind = "illegal_transition"
	InsufficientFunds Kind = "insufficient_funds"
	BrokerTransient   Kind = "broker_transient"
	BrokerPermanent   Kind = "broker_permanent"
	Indeterminate     Kind = "indeterminate"
	Concurrency       Kind = "concurrency"
	Internal          Kind = "internal"
)

// Error is the core's structured error type. Callers type-switch or use
// errors.As/Is against Kind to branch on category without string matching.
type Error struct {
	Kind    Kind
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, apperr.New(apperr.Validation, "")) works as a category
// check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around an underlying cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Wrapped: err}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, and
// reports whether one was found.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return "", false
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
