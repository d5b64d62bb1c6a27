package services

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/chunkvault/internal/chunkstore"
	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/cryptox"
	"github.com/dmitrijs2005/chunkvault/internal/dbx"
	"github.com/dmitrijs2005/chunkvault/internal/logging"
	"github.com/dmitrijs2005/chunkvault/internal/metrics"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/chunks"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/files"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/users"
	"github.com/dmitrijs2005/chunkvault/internal/server/staging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// -------- test fakes --------

type fakeUsersRepo struct {
	users.Repository
	mu    sync.Mutex
	quota map[string]int64
	delay time.Duration
}

func (f *fakeUsersRepo) Get(ctx context.Context, id string) (*models.User, error) {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quota[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &models.User{ID: id, StorageQuotaBytes: q}, nil
}

// fakeStore is the shared in-memory state behind the file and chunk fakes,
// so that deleting a file cascades like the real schema.
type fakeStore struct {
	mu     sync.Mutex
	files  map[string]*models.File
	chunks map[string][]*models.Chunk

	chunkCreateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{files: map[string]*models.File{}, chunks: map[string][]*models.Chunk{}}
}

type fakeFilesRepo struct {
	files.Repository
	s *fakeStore
}

func (f *fakeFilesRepo) Create(ctx context.Context, file *models.File) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, e := range f.s.files {
		if e.UserID == file.UserID && e.Path == file.Path {
			return fmt.Errorf("%w: %s", common.ErrAlreadyExists, file.Path)
		}
	}
	file.CreatedAt = time.Now()
	file.UpdatedAt = file.CreatedAt
	cp := *file
	f.s.files[file.ID] = &cp
	return nil
}

func (f *fakeFilesRepo) GetByID(ctx context.Context, userID, id string) (*models.File, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	e, ok := f.s.files[id]
	if !ok || e.UserID != userID {
		return nil, common.ErrorNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeFilesRepo) GetByPath(ctx context.Context, userID, path string) (*models.File, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, e := range f.s.files {
		if e.UserID == userID && e.Path == path {
			cp := *e
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeFilesRepo) ListChildren(ctx context.Context, userID string, parentID *string) ([]*models.File, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*models.File
	for _, e := range f.s.files {
		if e.UserID != userID || !e.IsComplete() {
			continue
		}
		if (parentID == nil) != (e.ParentID == nil) {
			continue
		}
		if parentID != nil && *parentID != *e.ParentID {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsFolder != out[j].IsFolder {
			return out[i].IsFolder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (f *fakeFilesRepo) MarkCompleted(ctx context.Context, id string, size int64) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	e, ok := f.s.files[id]
	if !ok || e.UploadStatus != common.UploadStatusPending {
		return common.ErrorNotFound
	}
	e.UploadStatus = common.UploadStatusCompleted
	e.Size = size
	return nil
}

func (f *fakeFilesRepo) Delete(ctx context.Context, userID, id string) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	e, ok := f.s.files[id]
	if !ok || e.UserID != userID {
		return false, nil
	}
	f.s.cascade(id)
	return true, nil
}

func (s *fakeStore) cascade(id string) {
	delete(s.files, id)
	delete(s.chunks, id)
	for cid, e := range s.files {
		if e.ParentID != nil && *e.ParentID == id {
			s.cascade(cid)
		}
	}
}

func (f *fakeFilesRepo) UsedBytes(ctx context.Context, userID string) (int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var used int64
	for _, e := range f.s.files {
		if e.UserID == userID && !e.IsFolder {
			used += e.Size
		}
	}
	return used, nil
}

func (f *fakeFilesRepo) SelectStalePending(ctx context.Context, cutoff time.Time) ([]*models.File, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*models.File
	for _, e := range f.s.files {
		if e.UploadStatus == common.UploadStatusPending && e.CreatedAt.Before(cutoff) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeChunksRepo struct {
	chunks.Repository
	s *fakeStore
}

func (f *fakeChunksRepo) Create(ctx context.Context, c *models.Chunk) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.chunkCreateErr != nil {
		return f.s.chunkCreateErr
	}
	cp := *c
	f.s.chunks[c.FileID] = append(f.s.chunks[c.FileID], &cp)
	return nil
}

func (f *fakeChunksRepo) ListByFile(ctx context.Context, fileID string) ([]*models.Chunk, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*models.Chunk
	for _, c := range f.s.chunks[fileID] {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (f *fakeChunksRepo) SetRemoteLocator(ctx context.Context, id, remoteID, backend string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, list := range f.s.chunks {
		for _, c := range list {
			if c.ID == id {
				c.RemoteID, c.RemoteBackend, c.StoragePath = remoteID, backend, ""
				return nil
			}
		}
	}
	return common.ErrorNotFound
}

type fakeRepoManager struct {
	repomanager.RepositoryManager
	u *fakeUsersRepo
	s *fakeStore
}

func (m *fakeRepoManager) Users(db dbx.DBTX) users.Repository   { return m.u }
func (m *fakeRepoManager) Files(db dbx.DBTX) files.Repository   { return &fakeFilesRepo{s: m.s} }
func (m *fakeRepoManager) Chunks(db dbx.DBTX) chunks.Repository { return &fakeChunksRepo{s: m.s} }

type fakeVault struct {
	mu     sync.Mutex
	keys   map[string][]byte
	handed [][]byte
}

func (v *fakeVault) GetOrCreateUserKey(ctx context.Context, userID string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.keys == nil {
		v.keys = map[string][]byte{}
	}
	k, ok := v.keys[userID]
	if !ok {
		k = common.GenerateRandByteArray(cryptox.KeySize)
		v.keys[userID] = k
	}
	out := append([]byte(nil), k...)
	v.handed = append(v.handed, out)
	return out, nil
}

// lastHanded returns the most recent key slice given to a caller.
func (v *fakeVault) lastHanded() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.handed[len(v.handed)-1]
}

// memObjects is an in-memory ObjectAPI that can fail on demand.
type memObjects struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	next      int
	uploads   int
	downloads int
	failPuts  int
	putErr    error
}

func newMemObjects() *memObjects {
	return &memObjects{blobs: map[string][]byte{}}
}

func (m *memObjects) Upload(ctx context.Context, token, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads++
	if m.failPuts > 0 {
		m.failPuts--
		return "", m.putErr
	}
	m.next++
	id := fmt.Sprintf("obj-%d", m.next)
	m.blobs[id] = append([]byte(nil), data...)
	return id, nil
}

func (m *memObjects) Download(ctx context.Context, token, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads++
	data, ok := m.blobs[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *memObjects) Delete(ctx context.Context, token, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, id)
	return nil
}

func (m *memObjects) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}

// -------- helpers --------

type env struct {
	svc     *FileService
	mock    sqlmock.Sqlmock
	store   *fakeStore
	vault   *fakeVault
	local   *chunkstore.LocalStore
	remote  *memObjects
	staging *staging.Area
	dir     string
}

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func newEnv(t *testing.T, chunkSize int) *env {
	t.Helper()
	db, mock := newSQLMockDB(t)
	dir := t.TempDir()

	local, err := chunkstore.NewLocalStore(filepath.Join(dir, "storage"))
	require.NoError(t, err)
	area, err := staging.New(filepath.Join(dir, "staging"))
	require.NoError(t, err)
	cipher, err := cryptox.NewCipher("")
	require.NoError(t, err)

	remote := newMemObjects()
	store := newFakeStore()
	vault := &fakeVault{}
	rm := &fakeRepoManager{
		u: &fakeUsersRepo{quota: map[string]int64{"u1": common.DefaultStorageQuota, "u2": common.DefaultStorageQuota}},
		s: store,
	}

	svc, err := NewFileService(db, rm, FileServiceDeps{
		Vault:   vault,
		Cipher:  cipher,
		Local:   local,
		Remotes: []chunkstore.Store{chunkstore.NewRemoteStore(chunkstore.BackendS3, remote, nil)},
		Staging: area,
		Metrics: metrics.New(prometheus.NewRegistry()),
		Logger:  logging.Discard(),
	}, FileServiceConfig{ChunkSize: chunkSize, RetryAttempts: 3, RetryBaseDelay: time.Millisecond})
	require.NoError(t, err)

	return &env{svc: svc, mock: mock, store: store, vault: vault, local: local, remote: remote, staging: area, dir: dir}
}

// expectTx queues one committed transaction on the mock.
func (e *env) expectTx() {
	e.mock.ExpectBegin()
	e.mock.ExpectCommit()
}

func (e *env) stagingFiles(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, sub := range []string{"uploads", "encrypted"} {
		m, err := filepath.Glob(filepath.Join(e.dir, "staging", sub, "*"))
		require.NoError(t, err)
		out = append(out, m...)
	}
	return out
}

func (e *env) localBlobs(t *testing.T, userID string) []string {
	t.Helper()
	m, err := filepath.Glob(filepath.Join(e.dir, "storage", userID, "*.enc"))
	require.NoError(t, err)
	return m
}

func randomBytes(n int) []byte {
	return common.GenerateRandByteArray(n)
}
