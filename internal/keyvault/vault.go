// Package keyvault owns user master keys: it derives the application key,
// creates and unwraps per-user keys, and seals remote tokens.
package keyvault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/cryptox"
	"github.com/dmitrijs2005/chunkvault/internal/logging"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/userkeys"
	"github.com/dmitrijs2005/chunkvault/internal/syncx"
)

// Vault hands out user master keys. Keys are created on first use, stored
// wrapped under a PBKDF2 KEK and cached unwrapped for the lifetime of the
// Vault.
type Vault struct {
	appKey *AppKey
	repo   userkeys.Repository
	logger logging.Logger

	locks *syncx.KeyedMutex

	mu    sync.RWMutex
	cache map[string][]byte
}

func New(appKey *AppKey, repo userkeys.Repository, logger logging.Logger) *Vault {
	return &Vault{
		appKey: appKey,
		repo:   repo,
		logger: logger.With("module", "keyvault"),
		locks:  syncx.NewKeyedMutex(),
		cache:  make(map[string][]byte),
	}
}

// GetOrCreateUserKey returns the 32-byte master key of userID, creating it on
// first use. Concurrent callers, in this process or in others sharing the
// database, always observe the same key.
func (v *Vault) GetOrCreateUserKey(ctx context.Context, userID string) ([]byte, error) {
	if key, ok := v.cached(userID); ok {
		return key, nil
	}

	unlock, err := v.locks.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if key, ok := v.cached(userID); ok {
		return key, nil
	}

	key, err := v.load(ctx, userID)
	if errors.Is(err, common.ErrorNotFound) {
		key, err = v.create(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.cache[userID] = key
	v.mu.Unlock()

	return clone(key), nil
}

func (v *Vault) cached(userID string) ([]byte, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	key, ok := v.cache[userID]
	if !ok {
		return nil, false
	}
	return clone(key), true
}

func (v *Vault) load(ctx context.Context, userID string) ([]byte, error) {
	rec, err := v.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return v.unwrap(rec)
}

func (v *Vault) create(ctx context.Context, userID string) ([]byte, error) {
	key := common.GenerateRandByteArray(cryptox.KeySize)
	salt := common.GenerateRandByteArray(cryptox.SaltSize)

	kek := cryptox.DeriveKey(v.appKey.b, salt)
	defer common.WipeByteArray(kek)

	wrapped, err := cryptox.Seal(kek, key)
	if err != nil {
		return nil, fmt.Errorf("wrap user key: %w", err)
	}

	err = v.repo.Create(ctx, &models.UserKey{UserID: userID, WrappedKey: wrapped, Salt: salt})
	switch {
	case err == nil:
		v.logger.Info(ctx, "user master key created", "user_id", userID)
		return key, nil
	case errors.Is(err, common.ErrAlreadyExists):
		// Another process won the insert; its key is the one on record.
		common.WipeByteArray(key)
		return v.load(ctx, userID)
	default:
		return nil, fmt.Errorf("store user key: %w", err)
	}
}

func (v *Vault) unwrap(rec *models.UserKey) ([]byte, error) {
	kek := cryptox.DeriveKey(v.appKey.b, rec.Salt)
	defer common.WipeByteArray(kek)

	key, err := cryptox.Open(kek, rec.WrappedKey)
	if err != nil {
		return nil, fmt.Errorf("unwrap user key for %s: %w", rec.UserID, err)
	}
	if len(key) != cryptox.KeySize {
		return nil, fmt.Errorf("unwrap user key for %s: %w: %d bytes", rec.UserID, common.ErrCorruption, len(key))
	}
	return key, nil
}

// EncryptToken seals a remote credential under the application key.
func (v *Vault) EncryptToken(token string) ([]byte, error) {
	return cryptox.SealToken(v.appKey.b, token)
}

// DecryptToken opens a credential sealed by EncryptToken.
func (v *Vault) DecryptToken(sealed []byte) (string, error) {
	return cryptox.OpenToken(v.appKey.b, sealed)
}

// WrapChunkKey seals a derived chunk key under the user key for storage next
// to the chunk.
func WrapChunkKey(userKey, chunkKey []byte) ([]byte, error) {
	return cryptox.Seal(userKey, chunkKey)
}

// UnwrapChunkKey reverses WrapChunkKey.
func UnwrapChunkKey(userKey, wrapped []byte) ([]byte, error) {
	return cryptox.Open(userKey, wrapped)
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
