package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id cost parameters for password-based DEK-wrapping key derivation.
// These intentionally differ from the teacher's own vault-unlock parameters
// (64 MiB / 1 iteration / 4 threads) — see DESIGN.md's cipher-parameter
// reconciliation note.
const (
	argon2MemoryKiB  = 19 * 1024
	argon2Iterations = 3
	argon2Threads    = 6
	argon2KeyLen     = uint32(KeySize)
	saltSize         = 16
)

// NewSalt returns a fresh random 16-byte salt, base64url-encoded without
// padding so it round-trips safely through JSON and Postgres text columns.
func NewSalt() (string, error) {
	raw := make([]byte, saltSize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("security: generate salt: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Derive runs Argon2id over password using the given encoded salt, returning
// a 32-byte key suitable for use as an AEAD key.
func Derive(password, encodedSalt string) ([]byte, error) {
	salt, err := base64.RawURLEncoding.DecodeString(encodedSalt)
	if err != nil {
		return nil, fmt.Errorf("security: decode salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, argon2Iterations, argon2MemoryKiB, argon2Threads, argon2KeyLen)
	return key, nil
}
