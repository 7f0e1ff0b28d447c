// Package dek implements the per-user data-encryption-key envelope: a
// random 32-byte key wrapped under a password-derived key, with support for
// rotating the wrapping password without touching the underlying DEK.
package dek

import (
	"fmt"

	"github.com/cryptvault/api/src/security"
)

// Envelope is the on-disk/in-row representation of a wrapped DEK.
type Envelope struct {
	Wrapped []byte // AEAD ciphertext with the 12-byte nonce appended
	Salt    string // Argon2id salt, base64url-encoded
}

// New generates a fresh random DEK and wraps it under a key derived from
// password, returning the envelope to persist on the user row.
func New(password string) (Envelope, error) {
	plain, err := security.GenerateKey()
	if err != nil {
		return Envelope{}, fmt.Errorf("dek: generate: %w", err)
	}
	defer plain.Wipe()

	return wrap(plain.Bytes(), password)
}

// Unwrap recovers the plaintext DEK from an envelope given the password that
// was used to wrap it. Any mismatch — wrong password, tampered envelope,
// corrupted salt — surfaces as the same authentication error, which doubles
// as the password check for any operation that needs the DEK.
func Unwrap(env Envelope, password string) ([]byte, error) {
	passwordKey, err := security.Derive(password, env.Salt)
	if err != nil {
		return nil, fmt.Errorf("dek: derive password key: %w", err)
	}
	plain, err := security.DecryptWithKey(passwordKey, env.Wrapped)
	if err != nil {
		return nil, fmt.Errorf("dek: unwrap: %w", err)
	}
	return plain, nil
}

// ChangePassword unwraps env with oldPassword and rewraps the same DEK
// under a freshly derived key for newPassword. The underlying DEK bytes are
// preserved; only the wrapping changes.
func ChangePassword(env Envelope, oldPassword, newPassword string) (Envelope, error) {
	plain, err := Unwrap(env, oldPassword)
	if err != nil {
		return Envelope{}, err
	}
	return wrap(plain, newPassword)
}

func wrap(plainDEK []byte, password string) (Envelope, error) {
	salt, err := security.NewSalt()
	if err != nil {
		return Envelope{}, fmt.Errorf("dek: generate salt: %w", err)
	}
	passwordKey, err := security.Derive(password, salt)
	if err != nil {
		return Envelope{}, fmt.Errorf("dek: derive password key: %w", err)
	}
	wrapped, err := security.EncryptWithKey(passwordKey, plainDEK)
	if err != nil {
		return Envelope{}, fmt.Errorf("dek: wrap: %w", err)
	}
	return Envelope{Wrapped: wrapped, Salt: salt}, nil
}

// WrapUnderKEK AEAD-encrypts a plaintext DEK under an active KEK, returning
// the ciphertext and nonce to store on the File row alongside the KEK
// version used.
func WrapUnderKEK(kekPlain, plainDEK []byte) (wrapped, nonce []byte, err error) {
	ciphertext, nonce, err := security.Encrypt(kekPlain, plainDEK)
	if err != nil {
		return nil, nil, fmt.Errorf("dek: wrap under kek: %w", err)
	}
	return ciphertext, nonce, nil
}

// UnwrapFromKEK is the inverse of WrapUnderKEK.
func UnwrapFromKEK(kekPlain, wrapped, nonce []byte) ([]byte, error) {
	plain, err := security.Decrypt(kekPlain, wrapped, nonce)
	if err != nil {
		return nil, fmt.Errorf("dek: unwrap from kek: %w", err)
	}
	return plain, nil
}
