// Package services contains server-side business logic. This file defines
// FileService, which owns the chunked encryption pipelines (upload, download)
// and the file tree operations built on top of them.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/chunkstore"
	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/cryptox"
	"github.com/dmitrijs2005/chunkvault/internal/logging"
	"github.com/dmitrijs2005/chunkvault/internal/metrics"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/chunkvault/internal/server/staging"
	"github.com/dmitrijs2005/chunkvault/internal/syncx"
	"github.com/google/uuid"
)

// BlockSize is the size of the plaintext blocks a download yields.
const BlockSize = 64 * 1024

// UserKeyProvider returns a user's master key; *keyvault.Vault implements it.
type UserKeyProvider interface {
	GetOrCreateUserKey(ctx context.Context, userID string) ([]byte, error)
}

// BackendSelector picks the store new uploads go to; *tokenbroker.Broker
// implements it.
type BackendSelector interface {
	SelectBackend(ctx context.Context, userID, preferred string) (string, error)
}

// FileServiceDeps are the collaborators of FileService. Remotes and Selector
// may be empty, in which case every chunk is stored locally.
type FileServiceDeps struct {
	Vault    UserKeyProvider
	Cipher   *cryptox.Cipher
	Local    *chunkstore.LocalStore
	Remotes  []chunkstore.Store
	Selector BackendSelector
	Staging  *staging.Area
	Metrics  *metrics.Metrics
	Logger   logging.Logger
}

// FileServiceConfig holds the tunables fixed at construction.
type FileServiceConfig struct {
	ChunkSize      int
	RetryAttempts  uint64
	RetryBaseDelay time.Duration
}

type FileService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager

	vault    UserKeyProvider
	cipher   *cryptox.Cipher
	local    *chunkstore.LocalStore
	stores   map[string]chunkstore.Store
	selector BackendSelector
	staging  *staging.Area
	metrics  *metrics.Metrics
	logger   logging.Logger

	chunkSize      int
	retryAttempts  uint64
	retryBaseDelay time.Duration

	locks *syncx.KeyedMutex
	now   func() time.Time
}

func NewFileService(db *sql.DB, repomanager repomanager.RepositoryManager, deps FileServiceDeps, cfg FileServiceConfig) (*FileService, error) {
	if deps.Vault == nil || deps.Cipher == nil || deps.Local == nil || deps.Staging == nil || deps.Metrics == nil {
		return nil, fmt.Errorf("%w: file service: missing dependency", common.ErrorInternal)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = common.DefaultChunkSize
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 200 * time.Millisecond
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	stores := map[string]chunkstore.Store{
		chunkstore.BackendLocal: chunkstore.Instrument(deps.Local, deps.Metrics),
	}
	for _, r := range deps.Remotes {
		stores[r.Backend()] = chunkstore.Instrument(r, deps.Metrics)
	}

	return &FileService{
		db:             db,
		repomanager:    repomanager,
		vault:          deps.Vault,
		cipher:         deps.Cipher,
		local:          deps.Local,
		stores:         stores,
		selector:       deps.Selector,
		staging:        deps.Staging,
		metrics:        deps.Metrics,
		logger:         logger.With("module", "files"),
		chunkSize:      cfg.ChunkSize,
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
		locks:          syncx.NewKeyedMutex(),
		now:            time.Now,
	}, nil
}

func (s *FileService) store(backend string) (chunkstore.Store, error) {
	st, ok := s.stores[backend]
	if !ok {
		return nil, fmt.Errorf("%w: backend %q is not configured", common.ErrInvalidOperation, backend)
	}
	return st, nil
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: invalid name %q", common.ErrInvalidOperation, name)
	}
	return nil
}

func lockKey(userID string, parentID *string, name string) string {
	parent := ""
	if parentID != nil {
		parent = *parentID
	}
	return userID + "|" + parent + "|" + name
}

// quotaLockKey cannot collide with lockKey, whose keys hold two separators.
func quotaLockKey(userID string) string {
	return "quota|" + userID
}

// resolvePath builds the virtual path of name below parentID and makes sure
// nothing already lives there.
func (s *FileService) resolvePath(ctx context.Context, userID string, parentID *string, name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	repo := s.repomanager.Files(s.db)

	dir := "/"
	if parentID != nil {
		parent, err := s.folder(ctx, userID, *parentID)
		if err != nil {
			return "", err
		}
		dir = parent.Path
	}
	p := path.Join(dir, name)

	_, err := repo.GetByPath(ctx, userID, p)
	switch {
	case err == nil:
		return "", fmt.Errorf("%w: %s", common.ErrAlreadyExists, p)
	case errors.Is(err, common.ErrorNotFound):
		return p, nil
	default:
		return "", fmt.Errorf("error checking path: %w", err)
	}
}

func (s *FileService) folder(ctx context.Context, userID, id string) (*models.File, error) {
	f, err := s.repomanager.Files(s.db).GetByID(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("parent folder %s: %w", id, err)
	}
	if !f.IsFolder {
		return nil, fmt.Errorf("%w: %s is not a folder", common.ErrInvalidOperation, f.Path)
	}
	return f, nil
}

// CreateFolder creates an empty folder below parentID (nil for the root).
func (s *FileService) CreateFolder(ctx context.Context, userID, name string, parentID *string) (*models.File, error) {
	unlock, err := s.locks.Lock(ctx, lockKey(userID, parentID, name))
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := s.resolvePath(ctx, userID, parentID, name)
	if err != nil {
		return nil, err
	}

	folder := &models.File{
		ID:           uuid.NewString(),
		UserID:       userID,
		ParentID:     parentID,
		Name:         name,
		Path:         p,
		IsFolder:     true,
		UploadStatus: common.UploadStatusCompleted,
	}
	if err := s.repomanager.Files(s.db).Create(ctx, folder); err != nil {
		return nil, fmt.Errorf("error creating folder: %w", err)
	}
	return folder, nil
}

// List returns the completed entries directly below parentID.
func (s *FileService) List(ctx context.Context, userID string, parentID *string) ([]*models.File, error) {
	if parentID != nil {
		if _, err := s.folder(ctx, userID, *parentID); err != nil {
			return nil, err
		}
	}
	return s.repomanager.Files(s.db).ListChildren(ctx, userID, parentID)
}

// Delete removes a file or a folder with everything below it. Blobs go
// first, then the row; chunk rows and descendant rows cascade. It reports
// false when the file does not exist.
func (s *FileService) Delete(ctx context.Context, userID, fileID string) (deleted bool, err error) {
	defer func() { s.metrics.RecordPipeline("delete", err) }()

	repo := s.repomanager.Files(s.db)
	f, err := repo.GetByID(ctx, userID, fileID)
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error getting file: %w", err)
	}

	if err := s.deleteBlobs(ctx, f); err != nil {
		return false, err
	}

	deleted, err = repo.Delete(ctx, userID, fileID)
	if err != nil {
		return false, fmt.Errorf("error deleting file: %w", err)
	}
	s.logger.Info(ctx, "file deleted", "user_id", userID, "file_id", fileID, "path", f.Path)
	return deleted, nil
}

func (s *FileService) deleteBlobs(ctx context.Context, f *models.File) error {
	if f.IsFolder {
		children, err := s.repomanager.Files(s.db).ListChildren(ctx, f.UserID, &f.ID)
		if err != nil {
			return fmt.Errorf("error listing %s: %w", f.Path, err)
		}
		for _, c := range children {
			if err := s.deleteBlobs(ctx, c); err != nil {
				return err
			}
		}
		return nil
	}

	if f.IsLegacy() {
		return s.local.Delete(ctx, f.UserID, chunkstore.Locator{Path: f.LegacyStoragePath, Backend: chunkstore.BackendLocal})
	}

	chunks, err := s.repomanager.Chunks(s.db).ListByFile(ctx, f.ID)
	if err != nil {
		return fmt.Errorf("error listing chunks: %w", err)
	}
	for _, c := range chunks {
		loc := chunkstore.LocatorOf(c)
		st, err := s.store(loc.Backend)
		if err != nil {
			return err
		}
		err = s.retry(ctx, func(ctx context.Context) error {
			return st.Delete(ctx, f.UserID, loc)
		})
		if err != nil {
			return fmt.Errorf("error deleting chunk %d of %s: %w", c.Index, f.ID, err)
		}
	}
	return nil
}
