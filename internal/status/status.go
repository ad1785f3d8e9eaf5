// Package status carries the error taxonomy shared by the master and the
// client. A Status wraps an optional cause so call sites can use errors.Is
// against both the code sentinel and the underlying error.
package status

import (
	"errors"
	"fmt"
)

type Code int

const (
	CodeOK Code = iota
	CodeNotFound
	CodeAlreadyPresent
	CodeCorruption
	CodeInvalidArgument
	CodeIOError
	CodeNetworkError
	CodeTimedOut
	CodeServiceUnavailable
	CodeIllegalState
	CodeAborted
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeNotFound:
		return "NotFound"
	case CodeAlreadyPresent:
		return "AlreadyPresent"
	case CodeCorruption:
		return "Corruption"
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeIOError:
		return "IOError"
	case CodeNetworkError:
		return "NetworkError"
	case CodeTimedOut:
		return "TimedOut"
	case CodeServiceUnavailable:
		return "ServiceUnavailable"
	case CodeIllegalState:
		return "IllegalState"
	case CodeAborted:
		return "Aborted"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Status is an error with a code, a message and an optional cause.
type Status struct {
	code  Code
	msg   string
	cause error
}

func (s *Status) Error() string {
	if s.cause != nil {
		return fmt.Sprintf("%s: %s: %v", s.code, s.msg, s.cause)
	}
	return fmt.Sprintf("%s: %s", s.code, s.msg)
}

func (s *Status) Code() Code     { return s.code }
func (s *Status) Message() string { return s.msg }
func (s *Status) Unwrap() error  { return s.cause }

// Is reports code equality so errors.Is(err, status.NotFound("x")) style
// comparisons work against any Status with the same code.
func (s *Status) Is(target error) bool {
	var other *Status
	if errors.As(target, &other) {
		return s.code == other.code
	}
	return false
}

func newStatus(code Code, format string, args ...any) *Status {
	return &Status{code: code, msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Status {
	return newStatus(CodeNotFound, format, args...)
}

func AlreadyPresent(format string, args ...any) *Status {
	return newStatus(CodeAlreadyPresent, format, args...)
}

func Corruption(format string, args ...any) *Status {
	return newStatus(CodeCorruption, format, args...)
}

func InvalidArgument(format string, args ...any) *Status {
	return newStatus(CodeInvalidArgument, format, args...)
}

func IOError(format string, args ...any) *Status {
	return newStatus(CodeIOError, format, args...)
}

func NetworkError(format string, args ...any) *Status {
	return newStatus(CodeNetworkError, format, args...)
}

func TimedOut(format string, args ...any) *Status {
	return newStatus(CodeTimedOut, format, args...)
}

func ServiceUnavailable(format string, args ...any) *Status {
	return newStatus(CodeServiceUnavailable, format, args...)
}

func IllegalState(format string, args ...any) *Status {
	return newStatus(CodeIllegalState, format, args...)
}

func Aborted(format string, args ...any) *Status {
	return newStatus(CodeAborted, format, args...)
}

// Wrap attaches a cause to a fresh Status of the given code.
func Wrap(code Code, cause error, format string, args ...any) *Status {
	s := newStatus(code, format, args...)
	s.cause = cause
	return s
}

// CodeOf extracts the taxonomy code from any error. Non-Status errors map
// to CodeIOError so callers always have something actionable.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var s *Status
	if errors.As(err, &s) {
		return s.code
	}
	return CodeIOError
}

// CodeFromString maps a wire-format code name back to its Code. Unknown
// names map to CodeIOError.
func CodeFromString(name string) Code {
	for c := CodeOK; c <= CodeAborted; c++ {
		if c.String() == name {
			return c
		}
	}
	return CodeIOError
}

// FromCode builds a Status with the given code.
func FromCode(code Code, format string, args ...any) *Status {
	return newStatus(code, format, args...)
}

func IsNotFound(err error) bool           { return CodeOf(err) == CodeNotFound }
func IsAlreadyPresent(err error) bool     { return CodeOf(err) == CodeAlreadyPresent }
func IsCorruption(err error) bool         { return CodeOf(err) == CodeCorruption }
func IsInvalidArgument(err error) bool    { return CodeOf(err) == CodeInvalidArgument }
func IsTimedOut(err error) bool           { return CodeOf(err) == CodeTimedOut }
func IsServiceUnavailable(err error) bool { return CodeOf(err) == CodeServiceUnavailable }
func IsIllegalState(err error) bool       { return CodeOf(err) == CodeIllegalState }
