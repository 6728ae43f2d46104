// Package violation defines the recoverable rule-violation errors returned by
// the ledger and tournament engines. Callers report them to the user verbatim
// and never retry them.
package violation

import "errors"

// Error is a broken business rule.
type Error struct {
	Code    string
	Message string
}

// New returns a violation with the given machine code and user message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string { return e.Message }

// As returns the violation wrapped in err, if any.
func As(err error) (*Error, bool) {
	var v *Error
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

// Is reports whether err is a rule violation.
func Is(err error) bool {
	_, ok := As(err)
	return ok
}
