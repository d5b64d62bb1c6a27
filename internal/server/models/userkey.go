package models

import "time"

// UserKey is the persisted, wrapped form of a user's master key.
type UserKey struct {
	UserID string
	// WrappedKey is nonce || AES-GCM(KEK, key) where KEK is derived from the
	// application key and Salt.
	WrappedKey []byte
	Salt       []byte
	CreatedAt  time.Time
}
