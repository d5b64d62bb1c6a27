package services

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SweepResult reports what SweepAbandoned removed.
type SweepResult struct {
	PendingFiles int
	LocalBlobs   int
	StagingFiles int
}

// SweepAbandoned removes what crashed uploads left behind: pending rows older
// than olderThan together with their local blobs, and stale staging files.
func (s *FileService) SweepAbandoned(ctx context.Context, olderThan time.Duration) (SweepResult, error) {
	var res SweepResult
	cutoff := s.now().Add(-olderThan)
	repo := s.repomanager.Files(s.db)

	stale, err := repo.SelectStalePending(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("error selecting stale uploads: %w", err)
	}

	var errs []error
	for _, f := range stale {
		// A live upload of the same name holds this lock.
		unlock, err := s.locks.Lock(ctx, lockKey(f.UserID, f.ParentID, f.Name))
		if err != nil {
			return res, err
		}

		cur, err := repo.GetByID(ctx, f.UserID, f.ID)
		if err != nil || cur.IsComplete() {
			unlock()
			continue
		}

		n, err := s.local.RemoveFileChunks(f.UserID, f.ID)
		res.LocalBlobs += n
		if err != nil {
			errs = append(errs, err)
			unlock()
			continue
		}
		if _, err := repo.Delete(ctx, f.UserID, f.ID); err != nil {
			errs = append(errs, err)
			unlock()
			continue
		}
		unlock()

		res.PendingFiles++
		s.logger.Info(ctx, "abandoned upload removed", "user_id", f.UserID, "file_id", f.ID, "path", f.Path)
	}

	n, err := s.staging.Sweep(cutoff)
	res.StagingFiles = n
	if err != nil {
		errs = append(errs, err)
	}

	s.metrics.RecordSwept(res.PendingFiles + res.StagingFiles)
	return res, errors.Join(errs...)
}

// RunJanitor calls SweepAbandoned every interval until ctx is done.
func (s *FileService) RunJanitor(ctx context.Context, interval, olderThan time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.SweepAbandoned(ctx, olderThan)
			if err != nil {
				s.logger.Error(ctx, "sweep failed", "error", err)
				continue
			}
			if res != (SweepResult{}) {
				s.logger.Info(ctx, "sweep finished", "pending_files", res.PendingFiles,
					"local_blobs", res.LocalBlobs, "staging_files", res.StagingFiles)
			}
		}
	}
}
