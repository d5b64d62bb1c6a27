package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/chunkstore"
	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/cryptox"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
)

// segment is one independently sealed blob of a file: a chunk, or the whole
// blob of a legacy file.
type segment struct {
	index    int
	store    chunkstore.Store
	loc      chunkstore.Locator
	nonce    []byte
	checksum string
	// legacy segments are sealed with the user key itself and carry no
	// checksum.
	legacy bool
}

func (seg segment) key(userKey []byte, fileID string) ([]byte, error) {
	if seg.legacy {
		return append([]byte(nil), userKey...), nil
	}
	return cryptox.DeriveChunkKey(userKey, fileID, seg.index)
}

// DownloadStream validates fileID and returns a lazy sequence of plaintext
// blocks. Chunks are fetched and decrypted one at a time as the consumer
// pulls; stopping the loop or cancelling ctx stops further work. The first
// error ends the sequence. The sequence can be ranged over once; the user
// key it holds is wiped when that range ends.
func (s *FileService) DownloadStream(ctx context.Context, userID, fileID string) (*models.File, iter.Seq2[[]byte, error], error) {
	file, segments, err := s.prepareDownload(ctx, userID, fileID)
	if err != nil {
		s.metrics.RecordPipeline("download", err)
		return nil, nil, err
	}

	userKey, err := s.vault.GetOrCreateUserKey(ctx, userID)
	if err != nil {
		err = fmt.Errorf("error getting user key: %w", err)
		s.metrics.RecordPipeline("download", err)
		return nil, nil, err
	}

	var consumed atomic.Bool
	seq := func(yield func([]byte, error) bool) {
		if consumed.Swap(true) {
			yield(nil, fmt.Errorf("%w: download of %s was already consumed", common.ErrInvalidOperation, fileID))
			return
		}
		defer common.WipeByteArray(userKey)

		var err error
		defer func() { s.metrics.RecordPipeline("download", err) }()

		for _, seg := range segments {
			if err = ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			var plain []byte
			plain, err = s.openSegment(ctx, file, userKey, seg)
			if err != nil {
				s.logger.Warn(ctx, "download failed", "user_id", userID, "file_id", fileID, "chunk", seg.index, "error", err)
				yield(nil, err)
				return
			}

			for off := 0; off < len(plain); off += BlockSize {
				end := min(off+BlockSize, len(plain))
				if !yield(plain[off:end], nil) {
					return
				}
			}
		}
	}
	return file, seq, nil
}

// DownloadFull concatenates every block of DownloadStream.
func (s *FileService) DownloadFull(ctx context.Context, userID, fileID string) (*models.File, []byte, error) {
	file, blocks, err := s.DownloadStream(ctx, userID, fileID)
	if err != nil {
		return nil, nil, err
	}
	out := make([]byte, 0, file.Size)
	for block, err := range blocks {
		if err != nil {
			return nil, nil, err
		}
		out = append(out, block...)
	}
	return file, out, nil
}

// prepareDownload performs every check that can fail before the first byte
// is produced.
func (s *FileService) prepareDownload(ctx context.Context, userID, fileID string) (*models.File, []segment, error) {
	file, err := s.repomanager.Files(s.db).GetByID(ctx, userID, fileID)
	if err != nil {
		return nil, nil, fmt.Errorf("error getting file: %w", err)
	}
	if !file.IsComplete() {
		return nil, nil, fmt.Errorf("%w: file %s is still uploading", common.ErrorNotFound, fileID)
	}
	if file.IsFolder {
		return nil, nil, fmt.Errorf("%w: %s is a folder", common.ErrInvalidOperation, file.Path)
	}

	if file.IsLegacy() {
		if len(file.LegacyNonce) != cryptox.NonceSize {
			return nil, nil, fmt.Errorf("%w: legacy file %s has no valid nonce", common.ErrCorruption, fileID)
		}
		seg := segment{
			store:  s.stores[chunkstore.BackendLocal],
			loc:    chunkstore.Locator{Path: file.LegacyStoragePath, Backend: chunkstore.BackendLocal},
			nonce:  file.LegacyNonce,
			legacy: true,
		}
		return file, []segment{seg}, nil
	}

	chunks, err := s.repomanager.Chunks(s.db).ListByFile(ctx, fileID)
	if err != nil {
		return nil, nil, fmt.Errorf("error listing chunks: %w", err)
	}
	if len(chunks) == 0 && file.Size > 0 {
		return nil, nil, fmt.Errorf("%w: file %s has no chunks", common.ErrCorruption, fileID)
	}

	var total int64
	segments := make([]segment, 0, len(chunks))
	for i, c := range chunks {
		if c.Index != i {
			return nil, nil, fmt.Errorf("%w: file %s is missing chunk %d", common.ErrCorruption, fileID, i)
		}
		loc := chunkstore.LocatorOf(c)
		st, err := s.store(loc.Backend)
		if err != nil {
			return nil, nil, err
		}
		total += c.Size
		segments = append(segments, segment{
			index:    c.Index,
			store:    st,
			loc:      loc,
			nonce:    c.Nonce,
			checksum: c.Checksum,
		})
	}
	if total != file.Size {
		return nil, nil, fmt.Errorf("%w: chunks of %s hold %d bytes, file declares %d", common.ErrCorruption, fileID, total, file.Size)
	}
	return file, segments, nil
}

// openSegment fetches, verifies and decrypts one segment.
func (s *FileService) openSegment(ctx context.Context, file *models.File, userKey []byte, seg segment) ([]byte, error) {
	var data []byte
	err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		data, err = seg.store.Get(ctx, file.UserID, seg.loc)
		return err
	})
	if errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("%w: chunk %d of %s: %v", common.ErrCorruption, seg.index, file.ID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch chunk %d: %w", seg.index, err)
	}

	if !seg.legacy && !cryptox.VerifyChecksum(data, seg.checksum) {
		err := fmt.Errorf("%w: checksum mismatch on chunk %d of %s", common.ErrIntegrity, seg.index, file.ID)
		s.metrics.RecordChunkError("decrypt", err)
		return nil, err
	}

	key, err := seg.key(userKey, file.ID)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)

	start := time.Now()
	plain, err := s.cipher.DecryptChunk(data, key, seg.nonce)
	s.metrics.RecordChunk("decrypt", len(plain), time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("decrypt chunk %d of %s: %w", seg.index, file.ID, err)
	}
	return plain, nil
}
