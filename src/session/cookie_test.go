package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeCookieRoundTrip(t *testing.T) {
	signingKey := []byte("0123456789abcdef0123456789abcdef")
	subkey := []byte("thirtytwo-byte-subkey-material!!")

	value := EncodeCookie(signingKey, "session-123", subkey)
	gotID, gotSubkey, err := DecodeCookie(signingKey, value)
	require.NoError(t, err)
	assert.Equal(t, "session-123", gotID)
	assert.Equal(t, subkey, gotSubkey)
}

func TestDecodeCookieRejectsTamperedSignature(t *testing.T) {
	signingKey := []byte("signing-key")
	value := EncodeCookie(signingKey, "session-123", []byte("subkey"))

	tampered := value[:len(value)-2] + "xx"
	_, _, err := DecodeCookie(signingKey, tampered)
	assert.Error(t, err)
}

func TestDecodeCookieRejectsWrongKey(t *testing.T) {
	value := EncodeCookie([]byte("key-a"), "session-123", []byte("subkey"))
	_, _, err := DecodeCookie([]byte("key-b"), value)
	assert.Error(t, err)
}

func TestDecodeCookieRejectsMalformedValue(t *testing.T) {
	_, _, err := DecodeCookie([]byte("key"), "not-enough-parts")
	assert.Error(t, err)
}
