package cryptox

import (
	"crypto/rand"
	"fmt"

	"github.com/dmitrijs2005/chunkvault/internal/common"
)

// Seal encrypts plaintext under key with AES-256-GCM and returns
// nonce || ciphertext. It is used for small secrets such as OAuth tokens and
// wrapped keys.
func Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(AlgorithmAES256GCM, key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, NonceSize, NonceSize+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return aead.Seal(out, out, plaintext, nil), nil
}

// Open reverses Seal.
func Open(key, sealed []byte) ([]byte, error) {
	if len(sealed) < NonceSize {
		return nil, fmt.Errorf("%w: sealed value too short", common.ErrIntegrity)
	}
	aead, err := newAEAD(AlgorithmAES256GCM, key)
	if err != nil {
		return nil, err
	}
	return open(aead, sealed[NonceSize:], sealed[:NonceSize])
}

// SealToken is Seal for string secrets.
func SealToken(key []byte, token string) ([]byte, error) {
	return Seal(key, []byte(token))
}

// OpenToken is Open for string secrets.
func OpenToken(key, sealed []byte) (string, error) {
	b, err := Open(key, sealed)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
