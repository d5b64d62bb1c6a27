package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chunkvault/internal/chunkstore"
	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/cryptox"
	"github.com/dmitrijs2005/chunkvault/internal/dbx"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
)

// MigrateToRemote copies the local chunks of a file to backend, switches
// their locators in one transaction and then removes the local blobs. It
// returns the number of chunks moved. Ciphertext is copied as is; a chunk
// that fails its checksum aborts the migration.
func (s *FileService) MigrateToRemote(ctx context.Context, userID, fileID, backend string) (moved int, err error) {
	defer func() { s.metrics.RecordPipeline("migrate", err) }()

	if backend == chunkstore.BackendLocal {
		return 0, fmt.Errorf("%w: target must be a remote backend", common.ErrInvalidOperation)
	}
	target, err := s.store(backend)
	if err != nil {
		return 0, err
	}

	file, err := s.repomanager.Files(s.db).GetByID(ctx, userID, fileID)
	if err != nil {
		return 0, fmt.Errorf("error getting file: %w", err)
	}
	switch {
	case !file.IsComplete():
		return 0, fmt.Errorf("%w: file %s is still uploading", common.ErrorNotFound, fileID)
	case file.IsFolder, file.IsLegacy():
		return 0, fmt.Errorf("%w: %s cannot be migrated", common.ErrInvalidOperation, file.Path)
	}

	chunks, err := s.repomanager.Chunks(s.db).ListByFile(ctx, fileID)
	if err != nil {
		return 0, fmt.Errorf("error listing chunks: %w", err)
	}

	type move struct {
		chunk *models.Chunk
		from  chunkstore.Locator
		to    chunkstore.Locator
	}
	var moves []move

	rollback := func() {
		ctx := context.WithoutCancel(ctx)
		for _, m := range moves {
			if err := target.Delete(ctx, userID, m.to); err != nil {
				s.logger.Error(ctx, "failed to remove migrated copy", "file_id", fileID, "chunk", m.chunk.Index, "error", err)
			}
		}
	}

	for _, c := range chunks {
		if c.IsRemote() {
			continue
		}
		from := chunkstore.LocatorOf(c)

		var data []byte
		err := s.retry(ctx, func(ctx context.Context) error {
			var err error
			data, err = s.stores[chunkstore.BackendLocal].Get(ctx, userID, from)
			return err
		})
		if errors.Is(err, common.ErrorNotFound) {
			err = fmt.Errorf("%w: chunk %d of %s: %v", common.ErrCorruption, c.Index, fileID, err)
		}
		if err == nil && !cryptox.VerifyChecksum(data, c.Checksum) {
			err = fmt.Errorf("%w: checksum mismatch on chunk %d of %s", common.ErrIntegrity, c.Index, fileID)
		}
		if err != nil {
			rollback()
			return 0, err
		}

		ref := chunkstore.ChunkRef{UserID: userID, FileID: fileID, Index: c.Index}
		var to chunkstore.Locator
		err = s.retry(ctx, func(ctx context.Context) error {
			var err error
			to, err = target.Put(ctx, ref, data)
			return err
		})
		if err != nil {
			rollback()
			return 0, fmt.Errorf("store chunk %d: %w", c.Index, err)
		}
		moves = append(moves, move{chunk: c, from: from, to: to})
	}

	if len(moves) == 0 {
		return 0, nil
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Chunks(tx)
		for _, m := range moves {
			if err := repo.SetRemoteLocator(ctx, m.chunk.ID, m.to.RemoteID, m.to.Backend); err != nil {
				return fmt.Errorf("error updating chunk %d: %w", m.chunk.Index, err)
			}
		}
		return nil
	})
	if err != nil {
		rollback()
		return 0, err
	}

	for _, m := range moves {
		if err := s.local.Delete(ctx, userID, m.from); err != nil {
			s.logger.Warn(ctx, "failed to remove migrated local chunk", "file_id", fileID, "chunk", m.chunk.Index, "error", err)
		}
	}

	s.logger.Info(ctx, "file migrated", "user_id", userID, "file_id", fileID, "backend", backend, "chunks", len(moves))
	return len(moves), nil
}
