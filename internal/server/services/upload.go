package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/chunker"
	"github.com/dmitrijs2005/chunkvault/internal/chunkstore"
	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/cryptox"
	"github.com/dmitrijs2005/chunkvault/internal/dbx"
	"github.com/dmitrijs2005/chunkvault/internal/keyvault"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
	"github.com/google/uuid"
)

// UploadOptions tune a single upload. An empty Backend lets the selector
// pick one.
type UploadOptions struct {
	MimeType string
	ParentID *string
	Backend  string
}

type uploadState string

const (
	stateStaged     uploadState = "staged"
	stateChunking   uploadState = "chunking"
	stateEncrypting uploadState = "encrypting"
	stateCommitting uploadState = "committing"
	stateDone       uploadState = "done"
)

// stagedChunk is a sealed chunk waiting in the staging area.
type stagedChunk struct {
	row  *models.Chunk
	path string
}

// upload carries the state of one Upload call.
type upload struct {
	file      *models.File
	store     chunkstore.Store
	state     uploadState
	staged    []stagedChunk
	committed []chunkstore.Locator
	rowAdded  bool
	input     string
}

// Upload stores r as a new file called name. The file becomes visible only
// once every chunk is durably stored and its rows are committed; on any
// failure nothing of it is left behind.
func (s *FileService) Upload(ctx context.Context, userID, name string, r io.Reader, opts UploadOptions) (file *models.File, err error) {
	defer func() { s.metrics.RecordPipeline("upload", err) }()

	unlock, err := s.locks.Lock(ctx, lockKey(userID, opts.ParentID, name))
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := s.resolvePath(ctx, userID, opts.ParentID, name)
	if err != nil {
		return nil, err
	}

	backend, err := s.selectBackend(ctx, userID, opts.Backend)
	if err != nil {
		return nil, err
	}
	st, err := s.store(backend)
	if err != nil {
		return nil, err
	}

	userKey, err := s.vault.GetOrCreateUserKey(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting user key: %w", err)
	}
	defer common.WipeByteArray(userKey)

	u := &upload{
		file: &models.File{
			ID:           uuid.NewString(),
			UserID:       userID,
			ParentID:     opts.ParentID,
			Name:         name,
			Path:         p,
			MimeType:     opts.MimeType,
			UploadStatus: common.UploadStatusPending,
		},
		store: st,
	}

	defer func() {
		if err != nil {
			s.logger.Warn(ctx, "upload failed", "user_id", userID, "path", p, "state", u.state, "error", err)
			s.abort(ctx, u)
		}
	}()

	if err = s.stage(ctx, u, r); err != nil {
		return nil, err
	}
	defer s.staging.Cleanup(u.input)

	u.state = stateChunking
	if err = s.encryptChunks(ctx, u, userKey); err != nil {
		return nil, err
	}

	u.state = stateCommitting
	if err = s.commitChunks(ctx, u); err != nil {
		return nil, err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		chunksRepo := s.repomanager.Chunks(tx)
		for _, c := range u.staged {
			if err := chunksRepo.Create(ctx, c.row); err != nil {
				return fmt.Errorf("error creating chunk %d: %w", c.row.Index, err)
			}
		}
		return s.repomanager.Files(tx).MarkCompleted(ctx, u.file.ID, u.file.Size)
	})
	if err != nil {
		return nil, fmt.Errorf("error completing upload: %w", err)
	}

	u.state = stateDone
	u.file.UploadStatus = common.UploadStatusCompleted
	s.logger.Info(ctx, "file uploaded", "user_id", userID, "file_id", u.file.ID, "path", p,
		"size", u.file.Size, "chunks", len(u.staged), "backend", backend)
	return u.file, nil
}

func (s *FileService) selectBackend(ctx context.Context, userID, preferred string) (string, error) {
	if s.selector == nil {
		if preferred == "" {
			return chunkstore.BackendLocal, nil
		}
		return preferred, nil
	}
	return s.selector.SelectBackend(ctx, userID, preferred)
}

// stage spools the input to disk, checks the quota and inserts the pending
// row. The pending row's size counts against the quota of concurrent uploads,
// and the check and insert run under a per-user lock.
func (s *FileService) stage(ctx context.Context, u *upload, r io.Reader) error {
	path, size, err := s.staging.Stage(u.file.ID, r)
	if err != nil {
		return err
	}
	u.input = path
	u.file.Size = size
	u.state = stateStaged

	unlock, err := s.locks.Lock(ctx, quotaLockKey(u.file.UserID))
	if err != nil {
		return err
	}
	defer unlock()

	usage, err := s.StorageUsage(ctx, u.file.UserID)
	if err != nil {
		return err
	}
	if !usage.Fits(size) {
		return fmt.Errorf("%w: %d bytes used of %d, upload needs %d",
			common.ErrQuotaExceeded, usage.UsedBytes, usage.QuotaBytes, size)
	}

	if err := s.repomanager.Files(s.db).Create(ctx, u.file); err != nil {
		return fmt.Errorf("error creating file: %w", err)
	}
	u.rowAdded = true
	return nil
}

// encryptChunks reads the staged input one chunk at a time and writes each
// sealed chunk to the staging area.
func (s *FileService) encryptChunks(ctx context.Context, u *upload, userKey []byte) error {
	in, err := os.Open(u.input)
	if err != nil {
		return err
	}
	defer in.Close()

	rd, err := chunker.NewReader(in, s.chunkSize)
	if err != nil {
		return err
	}

	u.state = stateEncrypting
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		plain, index, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read chunk: %w", err)
		}

		row, sealed, err := s.encryptChunk(u.file.ID, index, plain, userKey)
		common.WipeByteArray(plain)
		if err != nil {
			return err
		}

		path, err := s.staging.WriteEncrypted(u.file.ID, index, sealed)
		if err != nil {
			return err
		}
		u.staged = append(u.staged, stagedChunk{row: row, path: path})
	}
}

func (s *FileService) encryptChunk(fileID string, index int, plain, userKey []byte) (*models.Chunk, []byte, error) {
	key, err := cryptox.DeriveChunkKey(userKey, fileID, index)
	if err != nil {
		return nil, nil, err
	}
	defer common.WipeByteArray(key)

	start := time.Now()
	ciphertext, nonce, checksum, err := s.cipher.EncryptChunk(plain, key)
	s.metrics.RecordChunk("encrypt", len(plain), time.Since(start), err)
	if err != nil {
		return nil, nil, fmt.Errorf("encrypt chunk %d: %w", index, err)
	}

	wrapped, err := keyvault.WrapChunkKey(userKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("wrap chunk key %d: %w", index, err)
	}

	return &models.Chunk{
		ID:            uuid.NewString(),
		FileID:        fileID,
		Index:         index,
		Size:          int64(len(plain)),
		EncryptedSize: int64(len(ciphertext)),
		Nonce:         nonce,
		WrappedKey:    wrapped,
		Checksum:      checksum,
	}, ciphertext, nil
}

// commitChunks moves every staged chunk into the target store.
func (s *FileService) commitChunks(ctx context.Context, u *upload) error {
	for _, c := range u.staged {
		data, err := os.ReadFile(c.path)
		if err != nil {
			return fmt.Errorf("read staged chunk %d: %w", c.row.Index, err)
		}

		ref := chunkstore.ChunkRef{UserID: u.file.UserID, FileID: u.file.ID, Index: c.row.Index}
		var loc chunkstore.Locator
		err = s.retry(ctx, func(ctx context.Context) error {
			var err error
			loc, err = u.store.Put(ctx, ref, data)
			return err
		})
		if err != nil {
			return fmt.Errorf("store chunk %d: %w", c.row.Index, err)
		}

		u.committed = append(u.committed, loc)
		loc.Apply(c.row)
		_ = s.staging.Cleanup(c.path)
	}
	return nil
}

// abort undoes a failed upload. It runs even when ctx is cancelled.
func (s *FileService) abort(ctx context.Context, u *upload) {
	ctx = context.WithoutCancel(ctx)

	if u.input != "" {
		_ = s.staging.Cleanup(u.input)
	}
	for _, c := range u.staged {
		_ = s.staging.Cleanup(c.path)
	}
	for _, loc := range u.committed {
		if err := u.store.Delete(ctx, u.file.UserID, loc); err != nil {
			s.logger.Error(ctx, "failed to remove orphaned chunk", "file_id", u.file.ID, "error", err)
		}
	}
	if u.rowAdded {
		if _, err := s.repomanager.Files(s.db).Delete(ctx, u.file.UserID, u.file.ID); err != nil {
			s.logger.Error(ctx, "failed to remove pending file", "file_id", u.file.ID, "error", err)
		}
	}
}
