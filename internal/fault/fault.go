// Package fault defines the session error taxonomy shared by transport, audio, and session code.
//
// Every failure that reaches a session subscriber is an *Error carrying one Kind:
//
//	err := fault.New(fault.KindAuth, "rtc.Dial", cause)
//	if fault.IsKind(err, fault.KindAuth) { ... }
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindConnection Kind = "ConnectionError"
	KindAuth       Kind = "AuthError"
	KindMedia      Kind = "MediaError"
	KindProtocol   Kind = "ProtocolError"
	KindTimeout    Kind = "Timeout"
)

// Code returns the snake_case wire code used in error events.
func (k Kind) Code() string {
	switch k {
	case KindConnection:
		return "connection_error"
	case KindAuth:
		return "auth_error"
	case KindMedia:
		return "media_error"
	case KindProtocol:
		return "protocol_error"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown_error"
	}
}

// Error is a classified failure with the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New wraps cause as a classified error.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	base := fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	if e.Err != nil {
		base += ": " + e.Err.Error()
	}
	return base
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns the wire code for the error's kind.
func (e *Error) Code() string {
	return e.Kind.Code()
}

// KindOf extracts the Kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
