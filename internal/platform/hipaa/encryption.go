package hipaa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/ecgvault/ecgvault/internal/platform/apperr"
)

// tokenSeparator splits the nonce half from the ciphertext half of an
// encoded field: "<base64 nonce>:<base64 ciphertext>".
const tokenSeparator = ":"

// FieldCipher provides AES-256-GCM per-attribute encryption. Every Encode
// draws a fresh nonce, so equal plaintexts never produce equal tokens.
// A FieldCipher is safe for concurrent use.
type FieldCipher struct {
	aead cipher.AEAD
}

// NewFieldCipher creates a FieldCipher with the given 32-byte AES-256 key.
func NewFieldCipher(key []byte) (*FieldCipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("field cipher: key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("field cipher: create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("field cipher: create GCM: %w", err)
	}

	return &FieldCipher{aead: aead}, nil
}

// Encode encrypts plaintext into a token. Empty input stays empty, and a
// value that is already a token is returned unchanged.
func (c *FieldCipher) Encode(plaintext string) (string, error) {
	if plaintext == "" || c.IsToken(plaintext) {
		return plaintext, nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("field encode: generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(nonce) + tokenSeparator + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decode reverses Encode. It fails with *apperr.DecodeError when the token
// is malformed or its authentication tag does not verify.
func (c *FieldCipher) Decode(token string) (string, error) {
	if token == "" {
		return "", nil
	}

	nonce, sealed, ok := c.split(token)
	if !ok {
		return "", &apperr.DecodeError{Reason: "malformed token"}
	}

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", &apperr.DecodeError{Reason: "authentication failed", Cause: err}
	}
	return string(plaintext), nil
}

// IsToken reports whether value has the encoded token shape. It is the
// marker that separates stored ciphertext from plaintext pending encoding.
func (c *FieldCipher) IsToken(value string) bool {
	_, _, ok := c.split(value)
	return ok
}

func (c *FieldCipher) split(token string) (nonce, sealed []byte, ok bool) {
	head, tail, found := strings.Cut(token, tokenSeparator)
	if !found || head == "" || tail == "" || strings.Contains(tail, tokenSeparator) {
		return nil, nil, false
	}

	nonce, err := base64.StdEncoding.DecodeString(head)
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return nil, nil, false
	}

	sealed, err = base64.StdEncoding.DecodeString(tail)
	if err != nil || len(sealed) < c.aead.Overhead() {
		return nil, nil, false
	}
	return nonce, sealed, true
}
