// Package errcode provides the engine result codes, their classification and the error type
// carried by every failing operation of the binding layer.
package errcode

import (
	"errors"
	"fmt"
)

// Code is an engine result code, primary or extended.
// Code implements error, so a bare code can be returned and matched with errors.Is.
type Code int32

// Primary returns the primary code, i.e. the low byte of an extended code.
func (c Code) Primary() Code { return c & 0xff }

// IsOK reports whether the code belongs to the success class: ok, row or done.
func (c Code) IsOK() bool {
	switch c.Primary() {
	case OK, Row, Done:
		return true
	}
	return false
}

// IsError is the complement of IsOK.
func (c Code) IsError() bool { return !c.IsOK() }

// IsRow reports whether a row is available.
func (c Code) IsRow() bool { return c == Row }

// IsDone reports whether stepping has finished.
func (c Code) IsDone() bool { return c == Done }

// String returns the symbolic name, e.g. SQLITE_RANGE
func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	if n, ok := names[c.Primary()]; ok {
		return fmt.Sprintf("%s(%d)", n, int32(c))
	}
	return fmt.Sprintf("SQLITE_UNKNOWN(%d)", int32(c))
}

// Description returns a human-readable text for the code, falling back to the primary code's text.
func (c Code) Description() string {
	if d, ok := descriptions[c]; ok {
		return d
	}
	if d, ok := descriptions[c.Primary()]; ok {
		return d
	}
	return "unknown error"
}

// Error implements error interface.
func (c Code) Error() string { return c.Description() + " (" + c.String() + ")" }

// Is lets an extended code match its primary code in errors.Is.
func (c Code) Is(target error) bool {
	t, ok := target.(Code)
	return ok && (c == t || c.Primary() == t)
}

// Err returns nil for the success class and the code itself otherwise.
func (c Code) Err() error {
	if c.IsOK() {
		return nil
	}
	return c
}

// Error is a failure with an engine code and a message, the structured "code with message" shape.
type Error struct {
	Code Code
	Msg  string
	Err  error // underlying cause, optional
}

// New makes Error with formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap makes Error with code around err, keeping err reachable for errors.Is and errors.As.
func Wrap(code Code, err error) *Error {
	return &Error{Code: code, Msg: err.Error(), Err: err}
}

// Error implements error interface.
func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.Error()
	}
	return e.Msg
}

// Is matches another *Error or a bare Code by code value.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Code:
		return e.Code == t || e.Code.Primary() == t
	case *Error:
		return e.Code == t.Code
	}
	return false
}

// Unwrap exposes the code and the cause, so errors.As(err, &code) works on wrapped errors.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Code}
	}
	return []error{e.Code, e.Err}
}

// Of extracts the code from err. nil maps to OK, errors without a code map to Generic.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Generic
}
