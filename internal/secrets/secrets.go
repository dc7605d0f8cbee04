// Package secrets seals and opens tenant refresh tokens with
// XChaCha20-Poly1305 so only the ciphertext ever reaches the tabular store.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeyLen is the required symmetric key length in bytes.
const KeyLen = chacha20poly1305.KeySize

// Sentinel errors.
var (
	// ErrBadKey is returned when the configured key does not decode to
	// KeyLen bytes.
	ErrBadKey = errors.New("secret key must decode to 32 bytes")

	// ErrCiphertextTooShort is returned when a sealed value is truncated.
	ErrCiphertextTooShort = errors.New("sealed value too short")
)

// ParseKey decodes a base64 (std or url, padded or not) key string.
func ParseKey(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.URLEncoding,
		base64.RawStdEncoding, base64.RawURLEncoding,
	} {
		key, err := enc.DecodeString(s)
		if err == nil {
			if len(key) != KeyLen {
				return nil, ErrBadKey
			}
			return key, nil
		}
	}
	return nil, ErrBadKey
}

// Seal encrypts plaintext and returns base64(nonce || ciphertext).
func Seal(key []byte, plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("reading nonce: %w", err)
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal.
func Open(key []byte, sealed string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decoding sealed value: %w", err)
	}
	if len(raw) < chacha20poly1305.NonceSizeX {
		return "", ErrCiphertextTooShort
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	nonce, ct := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("opening sealed value: %w", err)
	}
	return string(plain), nil
}
