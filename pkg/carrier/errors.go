// Package carrier provides shared types for cargo carrier integrations.
package carrier

import (
	"errors"
	"fmt"
)

// Error codes classifying carrier failures.
const (
	CodeConfig     = "CONFIG"     // missing or incomplete credentials
	CodeConnection = "CONNECTION" // connection refused / host unreachable
	CodeTimeout    = "TIMEOUT"    // transport deadline exceeded
	CodeRemote     = "REMOTE"     // carrier returned a structured error body
	CodeUnknown    = "UNKNOWN"    // anything else
)

// Error represents a normalized error from a cargo carrier.
// Expected failure modes (bad credentials, network trouble, carrier
// rejections) are all returned as *Error values; callers classify them
// via Code or errors.Is against the sentinels below.
type Error struct {
	Carrier    string
	Code       string
	Message    string
	StatusCode int
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error (%s): %s: %v", e.Carrier, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error (%s): %s", e.Carrier, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new carrier Error.
func NewError(carrier, code, message string) *Error {
	return &Error{
		Carrier: carrier,
		Code:    code,
		Message: message,
	}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithStatusCode adds an HTTP status code to the error.
func (e *Error) WithStatusCode(code int) *Error {
	e.StatusCode = code
	return e
}

// Sentinel errors for common carrier failure scenarios.
var (
	// ErrMissingCredentials indicates the client configuration is incomplete.
	ErrMissingCredentials = errors.New("missing carrier credentials")

	// ErrTokenRejected indicates the carrier refused to issue a session token.
	ErrTokenRejected = errors.New("token request rejected")

	// ErrOrderNotFound indicates the reference id is unknown to the carrier.
	ErrOrderNotFound = errors.New("order not found")
)

// CodeOf returns the classification code of err, or CodeUnknown if err
// is not a carrier Error.
func CodeOf(err error) string {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Code
	}
	return CodeUnknown
}

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool {
	return CodeOf(err) == CodeConfig || errors.Is(err, ErrMissingCredentials)
}
