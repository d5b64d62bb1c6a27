package models

import "time"

// Chunk describes one encrypted chunk of a file. Exactly one of StoragePath
// (local blob) or RemoteID/RemoteBackend (remote object) is set.
type Chunk struct {
	ID            string
	FileID        string
	Index         int
	Size          int64
	EncryptedSize int64
	Nonce         []byte
	// WrappedKey is the chunk key sealed under the user key. Decryption
	// always re-derives the key instead of reading this field.
	WrappedKey []byte
	// Checksum is the hex SHA-256 of the ciphertext blob.
	Checksum string

	StoragePath   string
	RemoteID      string
	RemoteBackend string

	CreatedAt time.Time
}

func (c *Chunk) IsRemote() bool {
	return c.RemoteID != ""
}
