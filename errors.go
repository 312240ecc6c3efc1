package override

import (
	"errors"

	"github.com/brunoga/override/rna"
)

var (
	// ErrNotOverride is returned by operations that need a real override.
	ErrNotOverride = errors.New("override: entity is not a library override")
	// ErrMissingReference is returned when the linked reference of an
	// override is a placeholder for missing data.
	ErrMissingReference = errors.New("override: linked reference is missing")
	ErrPathNotFound     = rna.ErrPathNotFound
	// ErrTypeMismatch reports a property whose recorded type no longer
	// matches the introspected one.
	ErrTypeMismatch         = errors.New("override: property type mismatch")
	ErrUnsupportedOperation = errors.New("override: unsupported operation for property")
	ErrOutOfRange           = errors.New("override: value out of property range")
	// ErrLibraryLevel reports library dependency chains too deep to be
	// anything but a loop.
	ErrLibraryLevel  = errors.New("override: library indirect level too high")
	ErrNameCollision = errors.New("override: name already used")
	ErrNotLinked     = errors.New("override: entity is not linked")
	ErrNotInMain     = errors.New("override: entity is not in main")
)
