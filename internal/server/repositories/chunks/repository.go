// Package chunks declares the repository contract for encrypted chunk rows.
package chunks

import (
	"context"

	"github.com/dmitrijs2005/chunkvault/internal/server/models"
)

type Repository interface {
	// Create inserts a chunk row. A duplicate (file_id, chunk_index) yields
	// common.ErrAlreadyExists.
	Create(ctx context.Context, chunk *models.Chunk) error

	// ListByFile returns the chunks of fileID ordered by chunk index.
	ListByFile(ctx context.Context, fileID string) ([]*models.Chunk, error)

	// SetRemoteLocator points a chunk at a remote object and clears its local
	// storage path.
	SetRemoteLocator(ctx context.Context, id, remoteID, backend string) error
}
