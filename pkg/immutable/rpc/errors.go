package rpc

import (
	"errors"
	"fmt"
)

// Transport failure kinds.
var (
	ErrTimeout   = errors.New("timed out")
	ErrCanceled  = errors.New("canceled")
	ErrMalformed = errors.New("malformed response")
	ErrRemote    = errors.New("remote error")
	ErrMessage   = errors.New("message error")
	ErrClosed    = errors.New("port closed")
)

// TransportError reports a failed call. Kind is one of the Err values
// above; Err carries the cause.
type TransportError struct {
	Method string
	ID     string
	Kind   error
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("rpc %s: %v", e.Method, e.Kind)
	}
	return fmt.Sprintf("rpc %s: %v: %v", e.Method, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
