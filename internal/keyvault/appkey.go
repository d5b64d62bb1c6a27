package keyvault

import (
	"errors"
	"log/slog"

	"github.com/dmitrijs2005/chunkvault/internal/cryptox"
)

// appKeySalt is fixed so the same secret always yields the same application
// key. Changing it makes every stored user key and token unreadable.
var appKeySalt = []byte("balancecloud_mvp_salt")

const redacted = "[redacted]"

// AppKey is the process-wide key derived from the configured secret. It wraps
// user master keys and remote tokens. Every formatting path is redacted so the
// key cannot end up in logs.
type AppKey struct {
	b []byte
}

// DeriveAppKey stretches secret with PBKDF2-SHA256.
func DeriveAppKey(secret string) (*AppKey, error) {
	if secret == "" {
		return nil, errors.New("application secret is empty")
	}
	return &AppKey{b: cryptox.DeriveKey([]byte(secret), appKeySalt)}, nil
}

func (k *AppKey) String() string               { return redacted }
func (k *AppKey) GoString() string             { return redacted }
func (k *AppKey) LogValue() slog.Value         { return slog.StringValue(redacted) }
func (k *AppKey) MarshalText() ([]byte, error) { return []byte(redacted), nil }
