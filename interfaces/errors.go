package interfaces

import "errors"

// Errors returned by the key store. Callers match them with errors.Is.
var (
	// ErrInvalidKeyFormat is returned when key material cannot be wrapped.
	ErrInvalidKeyFormat = errors.New("invalid key format")

	// ErrInvalidParameters is returned for a malformed KID, KEK or an empty update.
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrInvalidSyntax is returned when a request body cannot be parsed.
	ErrInvalidSyntax = errors.New("invalid syntax")

	// ErrIncorrectKek is returned when a stored key does not unwrap under the supplied KEK.
	ErrIncorrectKek = errors.New("incorrect KEK")

	// ErrNotFound is returned when none of the requested keys exist.
	ErrNotFound = errors.New("not found")

	// ErrInternal wraps storage and other unexpected failures.
	ErrInternal = errors.New("internal error")
)

var (
	// ErrDuplicateKID is returned by a KeyRepository when an insert hits the
	// uniqueness constraint on kid.
	ErrDuplicateKID = errors.New("duplicate kid")

	// ErrKeyNotFound is returned by a KeyRepository when a patch matched no row.
	ErrKeyNotFound = errors.New("key not found")
)
