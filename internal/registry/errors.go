package registry

import "errors"

var (
	// ErrDuplicateKey is returned by Add when the (definition, arguments) pair
	// is already registered.
	ErrDuplicateKey = errors.New("registry: duplicate key")
	// ErrCorruptPersistedState is returned by Restore when the persisted key
	// and value sequences cannot be zipped back together.
	ErrCorruptPersistedState = errors.New("registry: corrupt persisted state")
	// ErrNotFound is returned when an operation targets a missing entry.
	ErrNotFound = errors.New("registry: not found")
)
