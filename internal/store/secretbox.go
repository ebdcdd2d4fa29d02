// ABOUTME: NaCl secretbox sealing for channel credential values at rest
// ABOUTME: Sealed values carry a prefix so plaintext rows written before a key existed still read back

package store

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const sealedPrefix = "sb1:"

// ErrSealedCredential is returned when a sealed credential is read without a key.
var ErrSealedCredential = errors.New("credential is sealed and no encryption key is configured")

// SecretBox seals and opens credential values with a 32-byte key.
type SecretBox struct {
	key [32]byte
}

// NewSecretBox builds a SecretBox from a base64-encoded 32-byte key.
func NewSecretBox(encodedKey string) (*SecretBox, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encodedKey))
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(raw))
	}
	var sb SecretBox
	copy(sb.key[:], raw)
	return &sb, nil
}

// Seal encrypts plain and returns the prefixed, base64-encoded box.
func (b *SecretBox) Seal(plain string) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plain), &nonce, &b.key)
	return sealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal. Values without the sealed prefix
// are returned unchanged.
func (b *SecretBox) Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decoding sealed credential: %w", err)
	}
	if len(data) < 24+secretbox.Overhead {
		return "", errors.New("sealed credential is truncated")
	}
	var nonce [24]byte
	copy(nonce[:], data[:24])
	plain, ok := secretbox.Open(nil, data[24:], &nonce, &b.key)
	if !ok {
		return "", errors.New("sealed credential failed authentication (wrong key?)")
	}
	return string(plain), nil
}

// IsSealed reports whether a stored value was produced by Seal.
func IsSealed(stored string) bool {
	return strings.HasPrefix(stored, sealedPrefix)
}
