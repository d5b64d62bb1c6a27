package models

import "time"

// RemoteAccount holds a user's encrypted OAuth credentials for one remote
// backend.
type RemoteAccount struct {
	ID                    string
	UserID                string
	Backend               string
	ProviderAccountID     string
	AccessTokenEncrypted  []byte
	RefreshTokenEncrypted []byte
	ExpiresAt             *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ValidFor reports whether the access token stays valid for at least skew.
// Credentials without an expiry never expire.
func (a *RemoteAccount) ValidFor(now time.Time, skew time.Duration) bool {
	if len(a.AccessTokenEncrypted) == 0 {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(now.Add(skew))
}
