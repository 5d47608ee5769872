package utils

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecret_HashAndVerify(t *testing.T) {
	encoded, err := HashSecret("admin-key")
	require.NoError(t, err)
	assert.Contains(t, encoded, "$argon2id$v=19$")

	ok, err := VerifySecret("admin-key", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifySecret("wrong", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSecret_BadFormat(t *testing.T) {
	_, err := VerifySecret("x", "plain")
	assert.ErrorIs(t, err, ErrInvalidSecretHash)
}

func TestFieldCipher_RoundTrip(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	c, err := NewFieldCipher(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)

	enc, err := c.Encrypt("user sent explicit images")
	require.NoError(t, err)
	assert.NotEqual(t, "user sent explicit images", enc)

	dec, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "user sent explicit images", dec)
}

func TestFieldCipher_NilPassthrough(t *testing.T) {
	var c *FieldCipher
	enc, err := c.Encrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", enc)
}

func TestFieldCipher_BadKey(t *testing.T) {
	_, err := NewFieldCipher("not base64!!")
	assert.ErrorIs(t, err, ErrKeyNotBase64)
	_, err = NewFieldCipher(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrKeyLength)
}
