package blueprint

import "errors"

// Domain errors for the blueprint package.
var (
	// ErrMalformed is returned when wire data cannot be decoded into a blueprint.
	ErrMalformed = errors.New("blueprint: malformed")

	// ErrUnknownKind is returned for an unrecognised "type" discriminant.
	ErrUnknownKind = errors.New("blueprint: unknown kind")

	// ErrDuplicateMember is returned when a module uses one name in two categories.
	ErrDuplicateMember = errors.New("blueprint: duplicate member name")

	// ErrInvalidPath is returned for empty paths or empty path segments.
	ErrInvalidPath = errors.New("blueprint: invalid path")
)
