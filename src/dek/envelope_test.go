package dek

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptvault/api/src/security"
)

func TestNewAndUnwrapRoundTrip(t *testing.T) {
	env, err := New("hunter2")
	require.NoError(t, err)

	plain, err := Unwrap(env, "hunter2")
	require.NoError(t, err)
	assert.Len(t, plain, security.KeySize)
}

func TestUnwrapWrongPasswordFails(t *testing.T) {
	env, err := New("correct-password")
	require.NoError(t, err)

	_, err = Unwrap(env, "wrong-password")
	assert.Error(t, err)
}

func TestChangePasswordPreservesDEK(t *testing.T) {
	env, err := New("old-password")
	require.NoError(t, err)

	original, err := Unwrap(env, "old-password")
	require.NoError(t, err)

	rotated, err := ChangePassword(env, "old-password", "new-password")
	require.NoError(t, err)
	assert.NotEqual(t, env.Salt, rotated.Salt)

	afterRotation, err := Unwrap(rotated, "new-password")
	require.NoError(t, err)
	assert.Equal(t, original, afterRotation)

	_, err = Unwrap(rotated, "old-password")
	assert.Error(t, err)
}

func TestWrapUnwrapUnderKEK(t *testing.T) {
	kek, err := security.GenerateKey()
	require.NoError(t, err)
	plainDEK, err := security.GenerateKey()
	require.NoError(t, err)

	wrapped, nonce, err := WrapUnderKEK(kek.Bytes(), plainDEK.Bytes())
	require.NoError(t, err)

	got, err := UnwrapFromKEK(kek.Bytes(), wrapped, nonce)
	require.NoError(t, err)
	assert.Equal(t, plainDEK.Bytes(), got)
}
