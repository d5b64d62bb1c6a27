// Package cryptox implements the chunk encryption primitives: per-chunk key
// derivation, the AEAD chunk cipher, ciphertext checksums and nonce-prefixed
// sealing for tokens and wrapped keys.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	AlgorithmAES256GCM        = "AES256-GCM"
	AlgorithmChaCha20Poly1305 = "ChaCha20-Poly1305"

	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

// Cipher encrypts and decrypts individual chunks with a fixed AEAD algorithm.
// The algorithm is chosen once at construction; every chunk of a deployment
// uses the same one.
type Cipher struct {
	algorithm string
}

// NewCipher returns a Cipher for algorithm. An empty algorithm selects
// AES-256-GCM.
func NewCipher(algorithm string) (*Cipher, error) {
	switch algorithm {
	case "":
		algorithm = AlgorithmAES256GCM
	case AlgorithmAES256GCM, AlgorithmChaCha20Poly1305:
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", algorithm)
	}
	return &Cipher{algorithm: algorithm}, nil
}

// Algorithm returns the configured algorithm name.
func (c *Cipher) Algorithm() string {
	return c.algorithm
}

// EncryptChunk seals plaintext under key with a fresh random nonce. The
// returned checksum is the hex SHA-256 of the ciphertext (tag included).
func (c *Cipher) EncryptChunk(plaintext, key []byte) (ciphertext, nonce []byte, checksum string, err error) {
	aead, err := newAEAD(c.algorithm, key)
	if err != nil {
		return nil, nil, "", err
	}

	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, "", fmt.Errorf("nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, Checksum(ciphertext), nil
}

// DecryptChunk opens ciphertext produced by EncryptChunk. Authentication
// failures are reported as common.ErrIntegrity.
func (c *Cipher) DecryptChunk(ciphertext, key, nonce []byte) ([]byte, error) {
	aead, err := newAEAD(c.algorithm, key)
	if err != nil {
		return nil, err
	}
	return open(aead, ciphertext, nonce)
}

func open(aead cipher.AEAD, ciphertext, nonce []byte) ([]byte, error) {
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: nonce has %d bytes, want %d", common.ErrIntegrity, len(nonce), aead.NonceSize())
	}
	if len(ciphertext) < aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext shorter than tag", common.ErrIntegrity)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrIntegrity, err)
	}
	return plaintext, nil
}

// Checksum returns the lowercase hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum reports whether data hashes to expected.
func VerifyChecksum(data []byte, expected string) bool {
	actual := Checksum(data)
	return subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) == 1
}

var errKeySize = errors.New("invalid key size")

func newAEAD(algorithm string, key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", errKeySize, KeySize, len(key))
	}
	switch algorithm {
	case AlgorithmAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create AES cipher: %w", err)
		}
		return cipher.NewGCM(block)
	case AlgorithmChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", algorithm)
	}
}
