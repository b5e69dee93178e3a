package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess      Code = 0
	CodeInternal     Code = 1
	CodeUsage        Code = 2
	CodeAuth         Code = 10
	CodeRateLimited  Code = 11
	CodeUnavailable  Code = 12
	CodeUnsupported  Code = 13
	CodeBusy         Code = 14
	CodeRejected     Code = 15
	CodeReverted     Code = 16
	CodeTimeout      Code = 17
	CodeInconsistent Code = 18
	CodeSigner       Code = 19
)

// ErrUserRejected is returned by wallet collaborators when the user declines a
// signature or a network switch.
var ErrUserRejected = errors.New("user rejected the request")

// Error is a typed CLI error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the outermost typed code of err, or CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	if typed, ok := As(err); ok {
		return typed.Code
	}
	return CodeInternal
}

// IsRejected reports whether err is a user cancellation rather than an
// infrastructure failure.
func IsRejected(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	var target *Error
	for e := err; e != nil; {
		if !errors.As(e, &target) {
			return false
		}
		if target.Code == CodeRejected {
			return true
		}
		e = target.Cause
	}
	return false
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}

// TypeName is the envelope label for a code.
func TypeName(code Code) string {
	switch code {
	case CodeUsage:
		return "usage_error"
	case CodeAuth:
		return "auth_error"
	case CodeRateLimited:
		return "rate_limited"
	case CodeUnavailable:
		return "unavailable"
	case CodeUnsupported:
		return "unsupported"
	case CodeBusy:
		return "busy"
	case CodeRejected:
		return "user_rejected"
	case CodeReverted:
		return "reverted"
	case CodeTimeout:
		return "timeout"
	case CodeInconsistent:
		return "inconsistent_state"
	case CodeSigner:
		return "signer_error"
	default:
		return "internal_error"
	}
}
