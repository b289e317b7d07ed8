package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// MinSecretLength is the shortest secret accepted for HKDF derivation.
const MinSecretLength = 32

const hkdfInfo = "credkeeper field encryption v1"

// KeyMode selects how the configured secret becomes the cipher key.
type KeyMode string

const (
	// KeyModeHKDF derives the key with HKDF-SHA256 from a secret of at
	// least MinSecretLength bytes.
	KeyModeHKDF KeyMode = "hkdf"
	// KeyModeRaw uses the secret bytes as the key; it must be exactly KeySize bytes.
	KeyModeRaw KeyMode = "raw"
)

// ParseKeyMode accepts "hkdf", "raw" or "" (hkdf).
func ParseKeyMode(s string) (KeyMode, error) {
	switch KeyMode(s) {
	case "", KeyModeHKDF:
		return KeyModeHKDF, nil
	case KeyModeRaw:
		return KeyModeRaw, nil
	default:
		return "", fmt.Errorf("%w: unknown key mode %q", common.ErrConfiguration, s)
	}
}

// DeriveKey turns the configured secret into a KeySize-byte key.
// A missing or too short secret is a configuration error; there is no
// padding and no default key.
func DeriveKey(secret string, mode KeyMode) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: encryption key is not set", common.ErrConfiguration)
	}

	switch mode {
	case KeyModeRaw:
		if len(secret) != KeySize {
			return nil, fmt.Errorf("%w: raw key must be %d bytes, got %d", common.ErrConfiguration, KeySize, len(secret))
		}
		return []byte(secret), nil
	case KeyModeHKDF, "":
		if len(secret) < MinSecretLength {
			return nil, fmt.Errorf("%w: secret must be at least %d bytes, got %d", common.ErrConfiguration, MinSecretLength, len(secret))
		}
		key := make([]byte, KeySize)
		r := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("key derivation failed: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: unknown key mode %q", common.ErrConfiguration, mode)
	}
}

// NewFieldCipherFromSecret is DeriveKey followed by NewFieldCipher. The
// intermediate key is wiped once the cipher holds its own expanded copy.
func NewFieldCipherFromSecret(secret string, mode KeyMode) (*FieldCipher, error) {
	key, err := DeriveKey(secret, mode)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)
	return NewFieldCipher(key)
}

// GenerateSecret returns n random bytes, base64 encoded, suitable for
// ENCRYPTION_KEY in hkdf mode.
func GenerateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
