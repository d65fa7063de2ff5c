package history

import "errors"

// Domain errors for the change journal.
// Use errors.Is() to check for these:
//
//	if errors.Is(err, history.ErrInvalidEvent) {
//	    // event had no path or action
//	}
var (
	// ErrInvalidEvent is returned when recording an event without a path or action.
	ErrInvalidEvent = errors.New("history: event requires path and action")

	// ErrInvalidRetention is returned by Prune for a non-positive duration.
	ErrInvalidRetention = errors.New("history: retention must be positive")
)
