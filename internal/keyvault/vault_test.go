package keyvault

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/logging"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/userkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memKeys behaves like the encryption_keys table: the first insert per user
// wins and later ones report ErrAlreadyExists.
type memKeys struct {
	userkeys.Repository
	mu      sync.Mutex
	rows    map[string]*models.UserKey
	creates int
	gets    int

	beforeCreate func()
}

func newMemKeys() *memKeys {
	return &memKeys{rows: make(map[string]*models.UserKey)}
}

func (m *memKeys) Create(ctx context.Context, k *models.UserKey) error {
	if m.beforeCreate != nil {
		m.beforeCreate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if _, ok := m.rows[k.UserID]; ok {
		return common.ErrAlreadyExists
	}
	cp := *k
	m.rows[k.UserID] = &cp
	return nil
}

func (m *memKeys) Get(ctx context.Context, userID string) (*models.UserKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	k, ok := m.rows[userID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *k
	return &cp, nil
}

func newVault(t *testing.T, secret string, repo userkeys.Repository) *Vault {
	t.Helper()
	appKey, err := DeriveAppKey(secret)
	require.NoError(t, err)
	return New(appKey, repo, logging.Discard())
}

func TestGetOrCreateUserKey_CreatesOnceAndCaches(t *testing.T) {
	repo := newMemKeys()
	v := newVault(t, "secret", repo)
	ctx := context.Background()

	k1, err := v.GetOrCreateUserKey(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, k1, 32)

	k2, err := v.GetOrCreateUserKey(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Equal(t, 1, repo.creates)
	assert.Equal(t, 1, repo.gets, "second call must be served from cache")

	other, err := v.GetOrCreateUserKey(ctx, "u2")
	require.NoError(t, err)
	assert.NotEqual(t, k1, other)
}

func TestGetOrCreateUserKey_ReturnsCopies(t *testing.T) {
	v := newVault(t, "secret", newMemKeys())

	k1, err := v.GetOrCreateUserKey(context.Background(), "u1")
	require.NoError(t, err)
	orig := bytes.Clone(k1)
	common.WipeByteArray(k1)

	k2, err := v.GetOrCreateUserKey(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, orig, k2)
}

func TestGetOrCreateUserKey_StableAcrossInstances(t *testing.T) {
	repo := newMemKeys()
	ctx := context.Background()

	k1, err := newVault(t, "secret", repo).GetOrCreateUserKey(ctx, "u1")
	require.NoError(t, err)
	k2, err := newVault(t, "secret", repo).GetOrCreateUserKey(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Equal(t, 1, repo.creates)
}

func TestGetOrCreateUserKey_ConcurrentFirstUse(t *testing.T) {
	repo := newMemKeys()
	vaults := []*Vault{newVault(t, "secret", repo), newVault(t, "secret", repo)}

	const perVault = 8
	keys := make([][]byte, len(vaults)*perVault)
	errs := make([]error, len(keys))

	var wg sync.WaitGroup
	for i := range keys {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys[i], errs[i] = vaults[i%len(vaults)].GetOrCreateUserKey(context.Background(), "u1")
		}(i)
	}
	wg.Wait()

	for i := range keys {
		require.NoError(t, errs[i])
		assert.Equal(t, keys[0], keys[i])
	}
	assert.Len(t, repo.rows, 1)
}

func TestGetOrCreateUserKey_LosesInsertRace(t *testing.T) {
	repo := newMemKeys()

	// Simulate another process inserting between our lookup and our insert.
	other := newVault(t, "secret", repo)
	repo.beforeCreate = func() {
		repo.beforeCreate = nil
		_, err := other.GetOrCreateUserKey(context.Background(), "u1")
		require.NoError(t, err)
	}

	v := newVault(t, "secret", repo)
	got, err := v.GetOrCreateUserKey(context.Background(), "u1")
	require.NoError(t, err)

	want, err := other.GetOrCreateUserKey(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Len(t, repo.rows, 1)
}

func TestGetOrCreateUserKey_WrongAppSecret(t *testing.T) {
	repo := newMemKeys()
	_, err := newVault(t, "secret", repo).GetOrCreateUserKey(context.Background(), "u1")
	require.NoError(t, err)

	_, err = newVault(t, "other-secret", repo).GetOrCreateUserKey(context.Background(), "u1")
	assert.ErrorIs(t, err, common.ErrIntegrity)
}

type failingKeys struct {
	userkeys.Repository
	err error
}

func (f *failingKeys) Get(ctx context.Context, userID string) (*models.UserKey, error) {
	return nil, f.err
}

func TestGetOrCreateUserKey_RepoError(t *testing.T) {
	boom := errors.New("db down")
	_, err := newVault(t, "secret", &failingKeys{err: boom}).GetOrCreateUserKey(context.Background(), "u1")
	assert.ErrorIs(t, err, boom)
}

func TestGetOrCreateUserKey_ContextCancelledWhileWaiting(t *testing.T) {
	v := newVault(t, "secret", newMemKeys())
	unlock, err := v.locks.Lock(context.Background(), "u1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = v.GetOrCreateUserKey(ctx, "u1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokens(t *testing.T) {
	v := newVault(t, "secret", newMemKeys())

	sealed, err := v.EncryptToken("refresh-123")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "refresh-123")

	tok, err := v.DecryptToken(sealed)
	require.NoError(t, err)
	assert.Equal(t, "refresh-123", tok)

	_, err = newVault(t, "other", newMemKeys()).DecryptToken(sealed)
	assert.ErrorIs(t, err, common.ErrIntegrity)
}

func TestWrapChunkKey(t *testing.T) {
	userKey := common.GenerateRandByteArray(32)
	chunkKey := common.GenerateRandByteArray(32)

	wrapped, err := WrapChunkKey(userKey, chunkKey)
	require.NoError(t, err)
	got, err := UnwrapChunkKey(userKey, wrapped)
	require.NoError(t, err)
	assert.Equal(t, chunkKey, got)
}

func TestAppKey_Redacted(t *testing.T) {
	_, err := DeriveAppKey("")
	require.Error(t, err)

	k, err := DeriveAppKey("secret")
	require.NoError(t, err)

	for _, s := range []string{fmt.Sprint(k), fmt.Sprintf("%v", k), fmt.Sprintf("%#v", k), fmt.Sprintf("%s", k)} {
		assert.Equal(t, "[redacted]", s)
	}

	b, err := json.Marshal(map[string]any{"key": k})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[redacted]"}`, string(b))

	var buf bytes.Buffer
	slog.New(slog.NewTextHandler(&buf, nil)).Info("boot", "app_key", k)
	assert.Contains(t, buf.String(), "app_key=[redacted]")
}

func TestDeriveAppKey_KnownAnswer(t *testing.T) {
	k, err := DeriveAppKey("app-secret")
	require.NoError(t, err)
	assert.Equal(t, "6f9b9ea1e41072833f78c2d2019d95c967ce050356d0583c4eb4edbc690a154b", hex.EncodeToString(k.b))
}
