package quotes

import (
	"errors"
	"fmt"
)

// Kind classifies quotation errors surfaced to callers.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindInvalidLineItem  Kind = "invalid_line_item"
	KindInvalidReference Kind = "invalid_reference"
	KindConflict         Kind = "conflict"
	KindValidation       Kind = "validation"
)

// Error is a structured quotation error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind when the target carries no message,
// so errors.Is(err, ErrConflict) works for every conflict.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message != "" {
		return t == e
	}
	return t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrInvalidLineItem  = &Error{Kind: KindInvalidLineItem}
	ErrInvalidReference = &Error{Kind: KindInvalidReference}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrValidation       = &Error{Kind: KindValidation}
)

var (
	// ErrStaleVersion marks a finalize or edit aimed at a version that is no
	// longer the quote's current one. It is never retried.
	ErrStaleVersion = errors.New("version is not the quote's current version")
	// errVersionRace marks a lost race for the next version number.
	errVersionRace = errors.New("version number already taken")
	// errRatesChanged marks a recalculation priced with rates that moved
	// before the lock was taken.
	errRatesChanged = errors.New("quote rates changed during recalculation")
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// retryable reports whether err is a conflict the service may resolve by
// re-reading and recomputing.
func retryable(err error) bool {
	return errors.Is(err, errVersionRace) || errors.Is(err, errRatesChanged)
}

// KindOf returns the kind of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return ""
}
