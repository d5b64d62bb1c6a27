package common

import "crypto/rand"

// GenerateRandByteArray returns n bytes from crypto/rand. crypto/rand.Read
// never fails on supported platforms, so the error is not surfaced.
func GenerateRandByteArray(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

// WipeByteArray zeroes b in place. Used for key material once it is no longer
// needed.
func WipeByteArray(b []byte) {
	clear(b)
}
