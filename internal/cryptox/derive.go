package cryptox

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2Iterations is used for both the application key and per-record KEKs.
const PBKDF2Iterations = 100000

// SaltSize is the length of random KEK salts and of the HKDF salt taken from
// the user key.
const SaltSize = 16

var ErrMalformedInput = errors.New("malformed key derivation input")

// DeriveChunkKey derives the key for chunk index of fileID from the user
// master key with HKDF-SHA256. The salt is the first 16 bytes of the user key
// and the info string is "<fileID>:<index>", so the result only depends on
// its inputs and never needs to be stored.
func DeriveChunkKey(userKey []byte, fileID string, index int) ([]byte, error) {
	if len(userKey) < SaltSize {
		return nil, fmt.Errorf("%w: user key has %d bytes", ErrMalformedInput, len(userKey))
	}
	if index < 0 {
		return nil, fmt.Errorf("%w: negative chunk index %d", ErrMalformedInput, index)
	}

	info := fileID + ":" + strconv.Itoa(index)
	r := hkdf.New(sha256.New, userKey, userKey[:SaltSize], []byte(info))

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

// DeriveKey stretches secret with PBKDF2-SHA256 into a 32-byte key.
func DeriveKey(secret, salt []byte) []byte {
	return pbkdf2.Key(secret, salt, PBKDF2Iterations, KeySize, sha256.New)
}
