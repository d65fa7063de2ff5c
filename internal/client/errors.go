package client

import "errors"

// Domain-specific errors for client-side proxies.
// Use errors.Is() to check for these errors in calling code.
//
// Remote failures are *protocol.RemoteError values and match the protocol
// sentinels (protocol.ErrNotFound, protocol.ErrArgument, ...).
var (
	// ErrNoSuchMember is returned when a proxy has no member of that name,
	// even after refreshing its blueprint once.
	ErrNoSuchMember = errors.New("client: no such member")

	// ErrNotGettable is returned when reading a write-only parameter.
	ErrNotGettable = errors.New("client: parameter is not gettable")

	// ErrNotSettable is returned when writing a read-only parameter.
	ErrNotSettable = errors.New("client: parameter is not settable")

	// ErrNotModule is returned when a proxy is requested for a path that is
	// not an instrument or submodule.
	ErrNotModule = errors.New("client: not a module")

	// ErrBadArguments is returned when arguments cannot be bound to a
	// method's declared signature.
	ErrBadArguments = errors.New("client: arguments do not match signature")

	// ErrStopTimeout is returned when the subscriber loop does not exit
	// within one poll interval.
	ErrStopTimeout = errors.New("client: subscriber did not stop in time")
)
