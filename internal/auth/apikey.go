package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters.
const (
	argonTime    = 3         // iterations
	argonMemory  = 64 * 1024 // 64 MiB
	argonThreads = 1
	argonKeyLen  = 32
	argonSaltLen = 16

	// keyBytes is the entropy of a generated API key.
	keyBytes = 32
)

// GenerateKey returns a random URL-safe API key.
func GenerateKey() (string, error) {
	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashKey hashes an API key with Argon2id and returns the PHC string.
func HashKey(key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(key), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyKey reports whether key matches the PHC hash.
func VerifyKey(key, encodedHash string) (bool, error) {
	h, err := ParseHash(encodedHash)
	if err != nil {
		return false, err
	}
	return h.Verify(key), nil
}

// Hash is a decoded PHC string. Decode once at startup with ParseHash and
// verify with Verify on each request.
type Hash struct {
	salt    []byte
	hash    []byte
	time    uint32
	memory  uint32
	threads uint8
}

// Verify reports whether key matches.
func (h Hash) Verify(key string) bool {
	candidate := argon2.IDKey([]byte(key), h.salt, h.time, h.memory, h.threads, uint32(len(h.hash))) //nolint:gosec // G115: hash length always fits uint32
	return subtle.ConstantTimeCompare(h.hash, candidate) == 1
}

// ParseHash decodes an Argon2id PHC string.
func ParseHash(encoded string) (Hash, error) {
	var h Hash

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 { //nolint:mnd // PHC format has exactly 6 $-delimited parts
		return h, fmt.Errorf("%w: expected 6 fields", ErrInvalidHash)
	}
	if parts[1] != "argon2id" {
		return h, fmt.Errorf("%w: unsupported algorithm %s", ErrInvalidHash, parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return h, fmt.Errorf("%w: parsing version: %w", ErrInvalidHash, err)
	}
	if version != argon2.Version {
		return h, fmt.Errorf("%w: version %d", ErrInvalidHash, version)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &h.memory, &h.time, &h.threads); err != nil {
		return h, fmt.Errorf("%w: parsing parameters: %w", ErrInvalidHash, err)
	}

	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return h, fmt.Errorf("%w: decoding salt: %w", ErrInvalidHash, err)
	}
	if h.hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return h, fmt.Errorf("%w: decoding hash: %w", ErrInvalidHash, err)
	}
	if len(h.hash) == 0 {
		return h, fmt.Errorf("%w: empty hash", ErrInvalidHash)
	}
	return h, nil
}
