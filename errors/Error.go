// Package errors provides the typed error model used across the node.
// Every error carries a stable code so callers can branch on failure class
// with errors.Is rather than string matching.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

type ERR int32

const (
	ERR_UNKNOWN ERR = iota
	ERR_INVALID_ARGUMENT
	ERR_NOT_FOUND
	ERR_PROCESSING
	ERR_CONFIGURATION
	ERR_STORAGE
	ERR_CONSTRAINT_VIOLATION
	ERR_UTXO_EXISTS
	ERR_UTXO_NOT_FOUND
	ERR_UTXO_SPENT
	ERR_BLINDER_MISSING
	ERR_INSUFFICIENT_FUNDS
	ERR_CONTRACT_NOT_FOUND
	ERR_INVALID_TRANSITION
	ERR_TIMING
	ERR_ORACLE_INVALID_SIGNATURE
	ERR_ORACLE_HEIGHT_MISMATCH
	ERR_MALFORMED_EVENT
	ERR_INVALID_SIGNATURE
	ERR_INVALID_COMMITMENT
	ERR_BROADCAST_REJECTED
)

var errName = map[ERR]string{
	ERR_UNKNOWN:                  "UNKNOWN",
	ERR_INVALID_ARGUMENT:         "INVALID_ARGUMENT",
	ERR_NOT_FOUND:                "NOT_FOUND",
	ERR_PROCESSING:               "PROCESSING",
	ERR_CONFIGURATION:            "CONFIGURATION",
	ERR_STORAGE:                  "STORAGE",
	ERR_CONSTRAINT_VIOLATION:     "CONSTRAINT_VIOLATION",
	ERR_UTXO_EXISTS:              "UTXO_EXISTS",
	ERR_UTXO_NOT_FOUND:           "UTXO_NOT_FOUND",
	ERR_UTXO_SPENT:               "UTXO_SPENT",
	ERR_BLINDER_MISSING:          "BLINDER_MISSING",
	ERR_INSUFFICIENT_FUNDS:       "INSUFFICIENT_FUNDS",
	ERR_CONTRACT_NOT_FOUND:       "CONTRACT_NOT_FOUND",
	ERR_INVALID_TRANSITION:       "INVALID_TRANSITION",
	ERR_TIMING:                   "TIMING",
	ERR_ORACLE_INVALID_SIGNATURE: "ORACLE_INVALID_SIGNATURE",
	ERR_ORACLE_HEIGHT_MISMATCH:   "ORACLE_HEIGHT_MISMATCH",
	ERR_MALFORMED_EVENT:          "MALFORMED_EVENT",
	ERR_INVALID_SIGNATURE:        "INVALID_SIGNATURE",
	ERR_INVALID_COMMITMENT:       "INVALID_COMMITMENT",
	ERR_BROADCAST_REJECTED:       "BROADCAST_REJECTED",
}

func (e ERR) String() string {
	if name, ok := errName[e]; ok {
		return name
	}

	return fmt.Sprintf("ERR(%d)", int32(e))
}

type Error struct {
	code       ERR
	message    string
	wrappedErr error
}

func (e *Error) Error() string {
	// Error() can be called on wrapped errors, which can be nil, for example predefined errors
	if e == nil {
		return "<nil>"
	}

	if e.wrappedErr == nil {
		return fmt.Sprintf("%s (%d): %s", e.code, e.code, e.message)
	}

	return fmt.Sprintf("%s (%d): %s: %v", e.code, e.code, e.message, e.wrappedErr)
}

func (e *Error) Code() ERR {
	if e == nil {
		return ERR_UNKNOWN
	}

	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}

	return e.message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.wrappedErr
}

// Is reports whether error codes match.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}

	targetError, ok := target.(*Error)
	if !ok {
		return strings.Contains(e.Error(), target.Error())
	}

	if e.code == targetError.code {
		return true
	}

	if e.wrappedErr == nil {
		return false
	}

	if unwrapped := errors.Unwrap(e); unwrapped != nil {
		if ue, ok := unwrapped.(*Error); ok {
			return ue.Is(target)
		}
	}

	return false
}

func (e *Error) As(target interface{}) bool {
	if e == nil {
		return false
	}

	if targetErr, ok := target.(**Error); ok {
		*targetErr = e
		return true
	}

	if e.wrappedErr != nil {
		return errors.As(e.wrappedErr, target)
	}

	return false
}

// New creates an *Error with the given code. The last param, if it is an
// error, is attached as the wrapped error; the rest are Sprintf params.
func New(code ERR, message string, params ...interface{}) *Error {
	var wErr error

	if len(params) > 0 {
		lastParam := params[len(params)-1]

		if err, ok := lastParam.(error); ok {
			wErr = err
			params = params[:len(params)-1]
		}
	}

	if len(params) > 0 {
		message = fmt.Sprintf(message, params...)
	}

	return &Error{
		code:       code,
		message:    message,
		wrappedErr: wErr,
	}
}

// Is delegates to the standard library so callers only import this package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func Unwrap(err error) error {
	return errors.Unwrap(err)
}
