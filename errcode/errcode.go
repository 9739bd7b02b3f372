// Package errcode defines the numeric-coded error type shared across the
// VEO builder. Every fallible operation in this module returns (or wraps)
// one of these so that a caller — or a test harness — can distinguish
// failures by stable numeric identifier rather than by message text.
package errcode

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies how far the failure's blast radius extends.
type Kind int

const (
	// Recoverable affects only the VEO currently being built; the caller
	// abandons that VEO and may continue with the next one.
	Recoverable Kind = iota
	// Fatal affects the whole batch run and must abort it.
	Fatal
)

func (k Kind) String() string {
	if k == Fatal {
		return "fatal"
	}
	return "recoverable"
}

// Error is the stable, inspectable error value returned by every package
// in this module. Code is the numeric identifier the test harness keys
// on; Module and Method identify where the failure was detected.
type Error struct {
	Code    int
	Kind    Kind
	Module  string
	Method  string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%d] %s.%s: %s: %v", e.Code, e.Module, e.Method, e.Message, e.cause)
	}
	return fmt.Sprintf("[%d] %s.%s: %s", e.Code, e.Module, e.Method, e.Message)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// Recoverable reports whether this error should only abandon the
// current VEO rather than abort the whole batch.
func (e *Error) Recoverable() bool { return e.Kind == Recoverable }

// New builds a fresh Error with no wrapped cause; Error() reports the
// code, module, method and Message. Use Wrap/Wrapf instead when there's
// an underlying error to preserve in the unwrap chain.
func New(code int, kind Kind, module, method, message string) *Error {
	return &Error{
		Code:    code,
		Kind:    kind,
		Module:  module,
		Method:  method,
		Message: message,
	}
}

// Newf is New with printf-style formatting of the message.
func Newf(code int, kind Kind, module, method, format string, args ...interface{}) *Error {
	return New(code, kind, module, method, fmt.Sprintf(format, args...))
}

// Wrap attaches a numeric identifier and module/method context to an
// existing error, preserving it as the unwrap chain's cause.
func Wrap(code int, kind Kind, module, method, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Kind:    kind,
		Module:  module,
		Method:  method,
		Message: message,
		cause:   errors.WithStack(cause),
	}
}

// Wrapf is Wrap with printf-style formatting of the message.
func Wrapf(code int, kind Kind, module, method string, cause error, format string, args ...interface{}) *Error {
	return Wrap(code, kind, module, method, fmt.Sprintf(format, args...), cause)
}

// As reports whether err is (or wraps) an *Error, returning it if so.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf extracts the numeric code from err if it is (or wraps) an
// *Error, or returns 0 if it does not carry one.
func CodeOf(err error) int {
	if e, ok := As(err); ok {
		return e.Code
	}
	return 0
}
