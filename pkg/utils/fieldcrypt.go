package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

var (
	ErrKeyNotBase64   = errors.New("encryption key must be base64-encoded")
	ErrKeyLength      = errors.New("encryption key must decode to exactly 32 bytes (256 bits)")
	ErrCipherTooShort = errors.New("ciphertext too short")
)

// FieldCipher encrypts free-text fields at rest (report descriptions) with AES-256-GCM.
// A nil *FieldCipher passes values through unchanged.
type FieldCipher struct {
	aead cipher.AEAD
}

// NewFieldCipher builds a cipher from a base64-encoded 32 byte key.
// Generate one with: openssl rand -base64 32
func NewFieldCipher(keyBase64 string) (*FieldCipher, error) {
	key, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return nil, ErrKeyNotBase64
	}
	if len(key) != 32 {
		return nil, ErrKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &FieldCipher{aead: gcm}, nil
}

func (c *FieldCipher) Encrypt(plaintext string) (string, error) {
	if c == nil || plaintext == "" {
		return plaintext, nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *FieldCipher) Decrypt(ciphertext string) (string, error) {
	if c == nil || ciphertext == "" {
		return ciphertext, nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", ErrCipherTooShort
	}

	plaintext, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
