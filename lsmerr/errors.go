// Package lsmerr defines the closed set of error kinds surfaced by the
// storage engine and the redis codecs built on top of it.
package lsmerr

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Kind classifies an Error for callers that need to branch on failure mode
// rather than match error strings.
type Kind int

const (
	Ok Kind = iota
	NotFound
	Corruption
	NotSupported
	InvalidArgument
	IOError
	TypeMismatch
	ScoreNaN
)

func (k Kind) String() string {
	switch k {
	case Ok:
		return "ok"
	case NotFound:
		return "not found"
	case Corruption:
		return "corruption"
	case NotSupported:
		return "not supported"
	case InvalidArgument:
		return "invalid argument"
	case IOError:
		return "io error"
	case TypeMismatch:
		return "type mismatch"
	case ScoreNaN:
		return "score is NaN"
	default:
		return "unknown"
	}
}

// Error is the wrapped error type returned by most fallible calls in this
// module. It carries a Kind so callers can branch with Is/As instead of
// string matching, while still composing with cockroachdb/errors'
// stack-trace and cause-chain machinery.
type Error struct {
	kind  Kind
	cause error
}

func (e *Error) Error() string { return e.cause.Error() }

func (e *Error) Unwrap() error { return e.cause }

// Kind reports the classification of this error.
func (e *Error) Kind() Kind { return e.kind }

// New builds a *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, cause: errors.Newf(format, args...)}
}

// Wrap attaches a Kind to an existing error, preserving its cause chain.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, cause: err}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.kind == kind
	}
	return false
}

// NotFoundf is a convenience constructor for the most common kind.
func NotFoundf(format string, args ...interface{}) *Error {
	return New(NotFound, format, args...)
}

// Corruptionf is a convenience constructor for corrupted on-disk state.
func Corruptionf(format string, args ...interface{}) *Error {
	return New(Corruption, format, args...)
}

var _ error = (*Error)(nil)
var _ fmt.Stringer = Kind(0)
