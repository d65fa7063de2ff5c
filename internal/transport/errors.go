package transport

import "errors"

// Domain-specific errors for the request channel client.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrServerTimeout is returned when no reply arrives within the timeout.
	// The connection is discarded and the next request redials.
	ErrServerTimeout = errors.New("transport: server timeout")

	// ErrConnectionBroken is returned when the connection drops or cannot be established.
	ErrConnectionBroken = errors.New("transport: connection broken")

	// ErrUnauthorized is returned when the station rejects the bearer token.
	ErrUnauthorized = errors.New("transport: unauthorised")

	// ErrClosed is returned for requests on a closed connection.
	ErrClosed = errors.New("transport: connection closed")
)
