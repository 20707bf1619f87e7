package rpc

import (
	"errors"
	"fmt"
)

// Kind classifies an RPC failure so callers can distinguish configuration
// problems from dispatch-time failures without parsing messages.
type Kind string

const (
	// KindConfiguration marks a missing or invalid backend/subsystem.
	KindConfiguration Kind = "configuration"
	// KindProtocol marks a receiver URL whose scheme no transport serves.
	KindProtocol Kind = "protocol"
	// KindNotFound marks an unknown agent id or operation at dispatch time.
	KindNotFound Kind = "not_found"
	// KindDuplicate marks a create on an id that already has state.
	KindDuplicate Kind = "duplicate"
	// KindInvocation wraps a failure raised by the agent operation itself.
	KindInvocation Kind = "invocation"
)

// Error is the structured failure surfaced to RPC callers.
// Kind and Message travel on the wire; the cause does not.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Errorf builds an Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new Error of the given kind.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: err}
}

// AsError coerces err into an *Error, wrapping foreign errors as invocation
// failures so their meaning is preserved for the caller.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &Error{Kind: KindInvocation, Message: err.Error(), cause: err}
}

// IsKind reports whether err is (or wraps) an Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Kind == kind
	}
	return false
}
