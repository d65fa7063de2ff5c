package instrument

import "errors"

// Domain errors for the instrument package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, instrument.ErrArgument) {
//	    // caller supplied bad arguments
//	}
var (
	// ErrArgument is returned when arguments do not match a method or validator.
	ErrArgument = errors.New("instrument: invalid argument")

	// ErrNotGettable is returned when reading a parameter that has no getter.
	ErrNotGettable = errors.New("instrument: parameter not gettable")

	// ErrNotSettable is returned when writing a parameter that has no setter.
	ErrNotSettable = errors.New("instrument: parameter not settable")

	// ErrNotFound is returned when a path does not resolve to a member.
	ErrNotFound = errors.New("instrument: member not found")

	// ErrDuplicateMember is returned when a name is already used on a module.
	ErrDuplicateMember = errors.New("instrument: duplicate member")

	// ErrInvalidName is returned for empty names or names containing a dot.
	ErrInvalidName = errors.New("instrument: invalid name")

	// ErrNotAttachable is returned when a submodule does not embed Base.
	ErrNotAttachable = errors.New("instrument: submodule does not embed Base")

	// ErrUnknownClass is returned when a class identifier is not registered.
	ErrUnknownClass = errors.New("instrument: unknown class")

	// ErrClassExists is returned when registering a class identifier twice.
	ErrClassExists = errors.New("instrument: class already registered")

	// ErrUnknownAttribute is returned for snapshot attributes a parameter does not have.
	ErrUnknownAttribute = errors.New("instrument: unknown parameter attribute")
)
