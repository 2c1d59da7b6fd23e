package auth

import "errors"

// Domain errors for the auth package.
var (
	// ErrInvalidHash is returned when a stored hash is not an Argon2id PHC
	// string.
	ErrInvalidHash = errors.New("auth: invalid key hash")

	// ErrEmptyKey is returned when hashing an empty key.
	ErrEmptyKey = errors.New("auth: key is empty")
)
