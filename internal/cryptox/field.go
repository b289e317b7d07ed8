package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/credkeeper/internal/common"
)

const (
	ivSize    = 16
	tagSize   = 16
	separator = ":"
)

// FieldCipher encrypts individual string fields with AES-256-GCM.
// It is safe for concurrent use.
type FieldCipher struct {
	aead cipher.AEAD
}

// NewFieldCipher builds a cipher from a KeySize-byte key.
func NewFieldCipher(key []byte) (*FieldCipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", common.ErrConfiguration, KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrConfiguration, err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrConfiguration, err)
	}

	return &FieldCipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random IV.
// The empty string is returned unchanged.
func (c *FieldCipher) Encrypt(plaintext string) (string, error) {
	return c.EncryptWithAAD(plaintext, nil)
}

// Decrypt reverses Encrypt. The empty string is returned unchanged.
func (c *FieldCipher) Decrypt(serialized string) (string, error) {
	return c.DecryptWithAAD(serialized, nil)
}

// EncryptWithAAD is Encrypt with additional authenticated data bound to the
// ciphertext; the same aad must be passed to DecryptWithAAD.
func (c *FieldCipher) EncryptWithAAD(plaintext string, aad []byte) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("iv generation failed: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, []byte(plaintext), aad)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return hex.EncodeToString(iv) + separator + hex.EncodeToString(tag) + separator + hex.EncodeToString(ct), nil
}

// DecryptWithAAD verifies and opens a serialized field.
func (c *FieldCipher) DecryptWithAAD(serialized string, aad []byte) (string, error) {
	if serialized == "" {
		return "", nil
	}

	iv, tag, ct, err := parseField(serialized)
	if err != nil {
		return "", err
	}

	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, iv, sealed, aad)
	if err != nil {
		return "", common.ErrAuthentication
	}

	return string(plaintext), nil
}

func parseField(s string) (iv, tag, ct []byte, err error) {
	parts := strings.Split(s, separator)
	if len(parts) != 3 {
		return nil, nil, nil, fmt.Errorf("%w: expected 3 parts, got %d", common.ErrMalformedField, len(parts))
	}

	decoded := make([][]byte, 3)
	for i, p := range parts {
		if p == "" {
			return nil, nil, nil, fmt.Errorf("%w: empty part %d", common.ErrMalformedField, i)
		}
		b, err := hex.DecodeString(p)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%w: part %d is not hex", common.ErrMalformedField, i)
		}
		decoded[i] = b
	}

	if len(decoded[0]) != ivSize || len(decoded[1]) != tagSize {
		return nil, nil, nil, fmt.Errorf("%w: bad iv or tag length", common.ErrMalformedField)
	}

	return decoded[0], decoded[1], decoded[2], nil
}
