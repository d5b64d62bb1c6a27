// Package tokenbroker hands out valid access tokens for users' remote
// storage accounts, refreshing and persisting them as needed.
package tokenbroker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/chunkstore"
	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/logging"
	"github.com/dmitrijs2005/chunkvault/internal/metrics"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/accounts"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultSkew    = 5 * time.Minute
	refreshTimeout = 30 * time.Second
)

// backendPriority is the order SelectBackend falls back through.
var backendPriority = []string{
	chunkstore.BackendGoogleDrive,
	chunkstore.BackendOneDrive,
	chunkstore.BackendS3,
}

// TokenSet is what a provider returns from an authorization or refresh.
type TokenSet struct {
	AccessToken       string
	RefreshToken      string
	Expiry            time.Time
	ProviderAccountID string
}

// Refresher exchanges a refresh token for a new TokenSet. An empty
// RefreshToken in the result means the old one stays valid.
type Refresher interface {
	Refresh(ctx context.Context, backend, refreshToken string) (*TokenSet, error)
}

// TokenCipher seals tokens at rest; *keyvault.Vault implements it.
type TokenCipher interface {
	EncryptToken(token string) ([]byte, error)
	DecryptToken(sealed []byte) (string, error)
}

type Broker struct {
	accounts  accounts.Repository
	cipher    TokenCipher
	refresher Refresher
	skew      time.Duration
	metrics   *metrics.Metrics
	logger    logging.Logger

	// configured limits the backends accounts can be connected to and
	// selected; nil allows every known backend.
	configured map[string]bool

	group singleflight.Group
	now   func() time.Time
}

func New(repo accounts.Repository, cipher TokenCipher, refresher Refresher, skew time.Duration,
	m *metrics.Metrics, logger logging.Logger) *Broker {
	if skew <= 0 {
		skew = DefaultSkew
	}
	return &Broker{
		accounts:  repo,
		cipher:    cipher,
		refresher: refresher,
		skew:      skew,
		metrics:   m,
		logger:    logger.With("module", "tokenbroker"),
		now:       time.Now,
	}
}

// SetConfigured limits Connect and SelectBackend to backends this process
// has a store for. It must be called before the broker is used.
func (b *Broker) SetConfigured(backends ...string) {
	b.configured = make(map[string]bool, len(backends))
	for _, backend := range backends {
		b.configured[backend] = true
	}
}

func (b *Broker) isConfigured(backend string) bool {
	return b.configured == nil || b.configured[backend]
}

// AccessToken returns a token for (userID, backend) that stays valid for at
// least the configured skew. Concurrent refreshes of one account collapse
// into a single provider call.
func (b *Broker) AccessToken(ctx context.Context, userID, backend string) (string, error) {
	acc, err := b.account(ctx, userID, backend)
	if err != nil {
		return "", err
	}
	if acc.ValidFor(b.now(), b.skew) {
		return b.cipher.DecryptToken(acc.AccessTokenEncrypted)
	}

	// The flight outlives any single caller so a cancelled request does not
	// fail the others waiting on it.
	ch := b.group.DoChan(userID+"|"+backend, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return b.refresh(flightCtx, userID, backend)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (b *Broker) account(ctx context.Context, userID, backend string) (*models.RemoteAccount, error) {
	acc, err := b.accounts.Get(ctx, userID, backend)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("%w: %s is not connected", common.ErrAuth, backend)
	}
	if err != nil {
		return nil, fmt.Errorf("error getting account: %w", err)
	}
	return acc, nil
}

func (b *Broker) refresh(ctx context.Context, userID, backend string) (string, error) {
	// Another flight may have finished between our read and this one.
	acc, err := b.account(ctx, userID, backend)
	if err != nil {
		return "", err
	}
	if acc.ValidFor(b.now(), b.skew) {
		return b.cipher.DecryptToken(acc.AccessTokenEncrypted)
	}

	if len(acc.RefreshTokenEncrypted) == 0 {
		return "", fmt.Errorf("%w: no refresh token for %s", common.ErrAuth, backend)
	}
	refreshToken, err := b.cipher.DecryptToken(acc.RefreshTokenEncrypted)
	if err != nil {
		return "", err
	}

	set, err := b.refresher.Refresh(ctx, backend, refreshToken)
	b.metrics.RecordTokenRefresh(backend, err)
	if err != nil {
		b.logger.Warn(ctx, "token refresh failed", "user_id", userID, "backend", backend, "error", err)
		return "", err
	}

	if err := b.apply(acc, set); err != nil {
		return "", err
	}
	if err := b.accounts.UpdateTokens(ctx, acc); err != nil {
		return "", fmt.Errorf("error saving tokens: %w", err)
	}

	b.logger.Debug(ctx, "token refreshed", "user_id", userID, "backend", backend)
	return set.AccessToken, nil
}

// apply seals set into acc. A missing refresh token keeps the stored one; a
// missing access token leaves acc in need of a refresh.
func (b *Broker) apply(acc *models.RemoteAccount, set *TokenSet) error {
	acc.AccessTokenEncrypted = nil
	if set.AccessToken != "" {
		access, err := b.cipher.EncryptToken(set.AccessToken)
		if err != nil {
			return err
		}
		acc.AccessTokenEncrypted = access
	}

	if set.RefreshToken != "" {
		refresh, err := b.cipher.EncryptToken(set.RefreshToken)
		if err != nil {
			return err
		}
		acc.RefreshTokenEncrypted = refresh
	}

	acc.ExpiresAt = nil
	if !set.Expiry.IsZero() {
		exp := set.Expiry
		acc.ExpiresAt = &exp
	}
	if set.ProviderAccountID != "" {
		acc.ProviderAccountID = set.ProviderAccountID
	}
	return nil
}

// Connect stores credentials for backend, replacing any existing ones.
func (b *Broker) Connect(ctx context.Context, userID, backend string, set TokenSet) (*models.RemoteAccount, error) {
	if !slices.Contains(backendPriority, backend) {
		return nil, fmt.Errorf("%w: unknown backend %q", common.ErrInvalidOperation, backend)
	}
	if !b.isConfigured(backend) {
		return nil, fmt.Errorf("%w: backend %q is not configured", common.ErrInvalidOperation, backend)
	}

	// On reconnect the stored row keeps its id; Upsert returns it.
	acc := &models.RemoteAccount{ID: uuid.NewString(), UserID: userID, Backend: backend}
	if err := b.apply(acc, &set); err != nil {
		return nil, err
	}
	if err := b.accounts.Upsert(ctx, acc); err != nil {
		return nil, fmt.Errorf("error saving account: %w", err)
	}

	b.logger.Info(ctx, "remote account connected", "user_id", userID, "backend", backend)
	return acc, nil
}

func (b *Broker) Disconnect(ctx context.Context, userID, backend string) error {
	return b.accounts.Delete(ctx, userID, backend)
}

// SelectBackend returns preferred when the user has connected it, otherwise
// the highest-priority connected backend that is configured. It returns
// chunkstore.BackendLocal when no such backend exists.
func (b *Broker) SelectBackend(ctx context.Context, userID, preferred string) (string, error) {
	if preferred == chunkstore.BackendLocal {
		return preferred, nil
	}

	list, err := b.accounts.ListByUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("error listing accounts: %w", err)
	}
	connected := make(map[string]bool, len(list))
	for _, a := range list {
		connected[a.Backend] = true
	}

	if preferred != "" {
		if !b.isConfigured(preferred) {
			return "", fmt.Errorf("%w: backend %q is not configured", common.ErrInvalidOperation, preferred)
		}
		if !connected[preferred] {
			return "", fmt.Errorf("%w: %s is not connected", common.ErrAuth, preferred)
		}
		return preferred, nil
	}
	for _, backend := range backendPriority {
		if connected[backend] && b.isConfigured(backend) {
			return backend, nil
		}
	}
	return chunkstore.BackendLocal, nil
}
