// Package files declares the repository contract for file and folder
// metadata rows.
package files

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/server/models"
)

type Repository interface {
	// Create inserts a new row. A duplicate (user_id, path) yields
	// common.ErrAlreadyExists.
	Create(ctx context.Context, file *models.File) error

	// GetByID returns the file owned by userID regardless of upload status.
	// A missing or foreign file yields common.ErrorNotFound.
	GetByID(ctx context.Context, userID, id string) (*models.File, error)

	// GetByPath looks a row up by its virtual path.
	GetByPath(ctx context.Context, userID, path string) (*models.File, error)

	// ListChildren returns completed files and folders directly below
	// parentID, or at the root when parentID is nil. Folders sort first.
	ListChildren(ctx context.Context, userID string, parentID *string) ([]*models.File, error)

	// MarkCompleted flips a pending upload to completed and records its final
	// size. Exactly one pending row must be affected.
	MarkCompleted(ctx context.Context, id string, size int64) error

	// Delete removes the row; chunk rows and descendants cascade. It reports
	// whether a row was removed.
	Delete(ctx context.Context, userID, id string) (bool, error)

	// UsedBytes sums the size of all files owned by userID, pending uploads
	// included.
	UsedBytes(ctx context.Context, userID string) (int64, error)

	// SelectStalePending returns pending uploads created before cutoff.
	SelectStalePending(ctx context.Context, cutoff time.Time) ([]*models.File, error)
}
