package cipher

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey() string {
	return base64.StdEncoding.EncodeToString([]byte("01234567890123456789012345678901"))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New(testKey())
	require.NoError(t, err)
	require.True(t, c.Enabled())

	ciphertext, err := c.Encrypt("super-secret")
	require.NoError(t, err)
	require.True(t, IsEncrypted(ciphertext))
	require.Contains(t, ciphertext, encV1Prefix)

	plaintext, err := c.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, "super-secret", plaintext)
}

func TestDecryptWithRotatedKey(t *testing.T) {
	oldKey := testKey()
	oldCipher, err := New(oldKey)
	require.NoError(t, err)

	ciphertext, err := oldCipher.Encrypt("rotate-me")
	require.NoError(t, err)

	newKey := base64.StdEncoding.EncodeToString([]byte("abcdefghijklmnopqrstuvwxyzABCDEF"))
	newCipher, err := New(newKey, oldKey)
	require.NoError(t, err)

	plaintext, err := newCipher.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, "rotate-me", plaintext)
}

func TestDisabledWithoutKey(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)
	require.False(t, c.Enabled())

	_, err = c.Encrypt("x")
	require.Error(t, err)
}

func TestInvalidKeyLength(t *testing.T) {
	_, err := New(base64.StdEncoding.EncodeToString([]byte("too-short")))
	require.Error(t, err)
}

func TestDecryptUnprefixedValueFails(t *testing.T) {
	c, err := New(testKey())
	require.NoError(t, err)
	_, err = c.Decrypt("plaintext-value")
	require.Error(t, err)
}
