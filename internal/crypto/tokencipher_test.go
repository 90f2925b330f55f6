package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *TokenCipher {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	c, err := NewTokenCipher(key)
	require.NoError(t, err)
	return c
}

func TestNewTokenCipher_RejectsShortKey(t *testing.T) {
	_, err := NewTokenCipher([]byte("too short"))
	require.Error(t, err)
}

func TestTokenCipher_RoundTrip(t *testing.T) {
	c := newTestCipher(t)

	sealed, err := c.EncryptString("gho_exampletoken")
	require.NoError(t, err)
	require.NotEqual(t, "gho_exampletoken", sealed)

	plain, err := c.DecryptString(sealed)
	require.NoError(t, err)
	require.Equal(t, "gho_exampletoken", plain)
}

func TestTokenCipher_NilPassthrough(t *testing.T) {
	c := newTestCipher(t)

	out, err := c.Encrypt(nil)
	require.NoError(t, err)
	require.Nil(t, out)

	out, err = c.Decrypt(nil)
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestTokenCipher_FreshNoncePerCall(t *testing.T) {
	c := newTestCipher(t)

	first, err := c.EncryptString("same plaintext")
	require.NoError(t, err)
	second, err := c.EncryptString("same plaintext")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestTokenCipher_TamperDetected(t *testing.T) {
	c := newTestCipher(t)

	sealed, err := c.EncryptString("gho_exampletoken")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = c.DecryptString(tampered)
	require.ErrorIs(t, err, ErrDecryptFailed)
}

func TestTokenCipher_ForeignKeyFails(t *testing.T) {
	sealed, err := newTestCipher(t).EncryptString("gho_exampletoken")
	require.NoError(t, err)

	_, err = newTestCipher(t).DecryptString(sealed)
	require.ErrorIs(t, err, ErrDecryptFailed)
}

func TestTokenCipher_GarbageInput(t *testing.T) {
	c := newTestCipher(t)

	_, err := c.DecryptString("not base64!!!")
	require.ErrorIs(t, err, ErrDecryptFailed)

	_, err = c.DecryptString(base64.StdEncoding.EncodeToString([]byte("tiny")))
	require.ErrorIs(t, err, ErrDecryptFailed)
}
