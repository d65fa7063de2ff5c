package station

import "errors"

// Domain errors for the station package.
var (
	// ErrUnsupportedKind is returned when asked to reflect an object that is
	// not an instrument module.
	ErrUnsupportedKind = errors.New("station: unsupported object kind")

	// ErrWorkerStopped is returned when submitting to a closed instrument's worker.
	ErrWorkerStopped = errors.New("station: instrument worker stopped")

	// ErrDriverPanic is returned when a driver call panics.
	ErrDriverPanic = errors.New("station: driver panicked")
)
