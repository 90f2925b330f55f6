package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// TokenCipher seals GitHub tokens at rest with AES-256-GCM. Every call to
// Encrypt draws a fresh nonce, so equal plaintexts never produce equal
// ciphertexts. Output layout is base64(nonce || ciphertext || tag).
type TokenCipher struct {
	aead cipher.AEAD
}

// ErrDecryptFailed covers tampered, truncated, or foreign ciphertext.
var ErrDecryptFailed = errors.New("crypto: decrypt failed")

// NewTokenCipher builds a cipher from a 32-byte key.
func NewTokenCipher(key []byte) (*TokenCipher, error) {
	if len(key) != 32 {
		return nil, errors.New("crypto: key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &TokenCipher{aead: aead}, nil
}

// Encrypt seals a plaintext token. A nil input passes through unchanged to
// model the no-refresh-token case.
func (c *TokenCipher) Encrypt(plaintext *string) (*string, error) {
	if plaintext == nil {
		return nil, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(*plaintext), nil)
	out := base64.StdEncoding.EncodeToString(sealed)
	return &out, nil
}

// EncryptString seals a non-optional token.
func (c *TokenCipher) EncryptString(plaintext string) (string, error) {
	out, err := c.Encrypt(&plaintext)
	if err != nil {
		return "", err
	}
	return *out, nil
}

// Decrypt opens a sealed token. A nil input passes through unchanged.
// Tampered or foreign ciphertext fails with ErrDecryptFailed.
func (c *TokenCipher) Decrypt(ciphertext *string) (*string, error) {
	if ciphertext == nil {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(*ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptFailed)
	}
	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	out := string(plain)
	return &out, nil
}

// DecryptString opens a non-optional sealed token.
func (c *TokenCipher) DecryptString(ciphertext string) (string, error) {
	out, err := c.Decrypt(&ciphertext)
	if err != nil {
		return "", err
	}
	return *out, nil
}
