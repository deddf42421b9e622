package rtsp

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrMalformedResponse indicates that a response violated the framing of the protocol.
var ErrMalformedResponse = errors.New("malformed response")

// ErrMalformedRequest indicates that a request violated the framing of the protocol.
var ErrMalformedRequest = errors.New("malformed request")

// ServerError is returned when the server answers a request with a non-success status code.
type ServerError struct {
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %s (error code: %d)", e.Message, e.Code)
}

// Transient reports whether the status code describes a condition that may clear on its own.
// The client never retries; the caller decides what to do with this information.
func (e *ServerError) Transient() bool {
	return e.Code == StatusServiceUnavailable || e.Code == StatusGatewayTimeout
}

// IsProtocolError reports whether err was produced by the codec itself, as opposed to
// the underlying reader or writer.
func IsProtocolError(err error) bool {
	var serverErr *ServerError
	return errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, ErrMalformedRequest) ||
		errors.As(err, &serverErr)
}
