package hipaa

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/hkdf"
)

// MinSecretLength is the shortest non-hex secret accepted as key material.
const MinSecretLength = 16

const hkdfInfo = "ecgvault field cipher v1"

// NewFieldCipherFromKey builds the process-wide FieldCipher from the
// FIELD_ENCRYPTION_KEY setting.
//
// A 64-character hex string is used as the raw AES-256 key. Any other
// secret of at least MinSecretLength bytes is stretched to 32 bytes with
// HKDF-SHA256. An empty key is refused: records are never written in the
// clear.
func NewFieldCipherFromKey(key string, logger zerolog.Logger) (*FieldCipher, error) {
	keyBytes, err := DeriveKey(key)
	if err != nil {
		return nil, err
	}

	c, err := NewFieldCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("create field cipher: %w", err)
	}

	logger.Info().Msg("field-level encryption enabled")
	return c, nil
}

// DeriveKey turns the configured secret into 32 bytes of key material.
func DeriveKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("FIELD_ENCRYPTION_KEY is not set")
	}

	if len(secret) == 64 {
		if raw, err := hex.DecodeString(secret); err == nil {
			return raw, nil
		}
	}

	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("FIELD_ENCRYPTION_KEY must be 64 hex chars or at least %d bytes, got %d", MinSecretLength, len(secret))
	}

	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive field key: %w", err)
	}
	return key, nil
}

// Decoder decodes the fields of one stored document. A field that fails
// to decode gets its fallback value and is logged; decoding never aborts.
type Decoder struct {
	cipher *FieldCipher
	logger zerolog.Logger
}

// NewDecoder returns a Decoder that logs through logger, which callers
// enrich with the collection and document id.
func (c *FieldCipher) NewDecoder(logger zerolog.Logger) *Decoder {
	return &Decoder{cipher: c, logger: logger}
}

// Or decodes token, returning fallback on failure.
func (d *Decoder) Or(field, token, fallback string) string {
	value, err := d.cipher.Decode(token)
	if err != nil {
		d.fail(field, err)
		return fallback
	}
	return value
}

// Text decodes a free-text field, falling back to the empty string.
func (d *Decoder) Text(field, token string) string {
	return d.Or(field, token, "")
}

// Raw decodes token, passing the stored value through on failure. It is
// meant for legacy rows written before the field was encrypted.
func (d *Decoder) Raw(field, token string) string {
	if !d.cipher.IsToken(token) {
		return token
	}
	return d.Or(field, token, token)
}

func (d *Decoder) fail(field string, err error) {
	d.logger.Warn().Err(err).Str("field", field).Msg("field decode failed, using fallback")
}
