package client

import "github.com/pkg/errors"

// ErrInvalidState indicates that an operation is not allowed in the current state.
var ErrInvalidState = errors.New("invalid state")

// ErrClosed indicates that the client has been closed.
var ErrClosed = errors.New("client closed")

// ErrNotConnected indicates that Connect has not been called.
var ErrNotConnected = errors.New("not connected")

// ErrConnected indicates that the client is already connected.
var ErrConnected = errors.New("already connected")

// TransportError is a socket level failure. It is fatal to the whole session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Cause makes TransportError usable with errors.Cause.
func (e *TransportError) Cause() error {
	return e.Err
}

// IsTransportError reports whether err is or wraps a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
