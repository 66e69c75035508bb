package mcpclient

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamEnded is returned when an event stream closes before a
	// response with the request id arrived.
	ErrStreamEnded = errors.New("event stream ended without a matching response")

	// ErrNotConnected is returned by operations on a closed client.
	ErrNotConnected = errors.New("client not connected")
)

// TransportError is a failure to exchange a message with the server, as
// opposed to an error reported by a tool.
type TransportError struct {
	// StatusCode is the HTTP status, 0 when no response was received.
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("mcp transport: status %d: %s", e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("mcp transport: status %d", e.StatusCode)
	default:
		return fmt.Sprintf("mcp transport: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsUnauthorized reports whether err is a 401 or 403 from the server.
func IsUnauthorized(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && (te.StatusCode == 401 || te.StatusCode == 403)
}
