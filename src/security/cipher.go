// Package security implements the vault's symmetric cipher and password KDF.
// Every AEAD operation in the system — chunk encryption, DEK wrapping, KEK
// wrapping — goes through Encrypt/Decrypt here so the nonce size and cipher
// choice stay in exactly one place.
package security

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size in bytes of every symmetric key in the system (DEK,
// KEK, master key, session subkey, password-derived key).
const KeySize = chacha20poly1305.KeySize // 32

// NonceSize is the size in bytes of the AEAD nonce. The teacher's own
// NasCrypt format uses the 24-byte XChaCha20-Poly1305 construction; this
// vault deliberately uses the standard 12-byte construction instead, since
// every wire/storage format here is defined in terms of a 96-bit nonce.
const NonceSize = chacha20poly1305.NonceSize // 12

// TagSize is the size in bytes of the authentication tag appended to every
// ciphertext produced by Encrypt.
const TagSize = 16

// Key is a zeroizing wrapper around a 32-byte symmetric key. Wipe overwrites
// the backing array with zeros; callers must call it once the key is no
// longer needed (session end, request end, cache eviction).
type Key struct {
	bytes [KeySize]byte
}

// NewKey copies raw into a Key. raw must be exactly KeySize bytes.
func NewKey(raw []byte) (Key, error) {
	var k Key
	if len(raw) != KeySize {
		return k, fmt.Errorf("security: key must be %d bytes, got %d", KeySize, len(raw))
	}
	copy(k.bytes[:], raw)
	return k, nil
}

// Bytes returns the raw key bytes. The returned slice aliases the Key's
// backing array; callers must not retain it past the Key's lifetime.
func (k *Key) Bytes() []byte { return k.bytes[:] }

// Wipe overwrites the key with zeros. Safe to call more than once.
func (k *Key) Wipe() {
	for i := range k.bytes {
		k.bytes[i] = 0
	}
}

// GenerateKey returns a fresh random 32-byte key (used for DEKs and KEKs).
func GenerateKey() (Key, error) {
	var raw [KeySize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return Key{}, fmt.Errorf("security: generate key: %w", err)
	}
	k, _ := NewKey(raw[:])
	return k, nil
}

// Encrypt AEAD-encrypts plaintext under key, generating a fresh random
// nonce. Returns the ciphertext (including its 16-byte tag) and the nonce
// used, which the caller is responsible for storing alongside it.
func Encrypt(key []byte, plaintext []byte) (ciphertext, nonce []byte, err error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, fmt.Errorf("security: new aead: %w", err)
	}
	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("security: generate nonce: %w", err)
	}
	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt AEAD-decrypts ciphertext under key and nonce. Returns an error if
// the authentication tag does not verify — wrong key, wrong nonce, or
// corrupted/tampered ciphertext are all indistinguishable failures by
// design.
func Decrypt(key, ciphertext, nonce []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("security: new aead: %w", err)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("security: nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt: %w", err)
	}
	return plaintext, nil
}

// EncryptWithKey mirrors Encrypt but appends the nonce to the end of the
// ciphertext, producing the single contiguous "wrapped" byte string the DEK
// and KEK envelopes use for storage.
func EncryptWithKey(key, plaintext []byte) (wrapped []byte, err error) {
	ciphertext, nonce, err := Encrypt(key, plaintext)
	if err != nil {
		return nil, err
	}
	wrapped = make([]byte, 0, len(ciphertext)+NonceSize)
	wrapped = append(wrapped, ciphertext...)
	wrapped = append(wrapped, nonce...)
	return wrapped, nil
}

// DecryptWithKey splits the trailing NonceSize bytes off wrapped and
// decrypts the remainder under key. Inverse of EncryptWithKey.
func DecryptWithKey(key, wrapped []byte) ([]byte, error) {
	if len(wrapped) < NonceSize {
		return nil, fmt.Errorf("security: wrapped value too short (%d bytes)", len(wrapped))
	}
	split := len(wrapped) - NonceSize
	return Decrypt(key, wrapped[:split], wrapped[split:])
}
