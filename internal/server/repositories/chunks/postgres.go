package chunks

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/dbx"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
)

// PostgresRepository stores chunk metadata in storage_chunks.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, c *models.Chunk) error {
	query := `
		INSERT INTO storage_chunks (id, file_id, chunk_index, chunk_size, encrypted_size, iv,
			encryption_key_encrypted, checksum, storage_path, cloud_file_id, cloud_provider)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.FileID, c.Index, c.Size, c.EncryptedSize, c.Nonce,
		c.WrappedKey, c.Checksum, c.StoragePath, c.RemoteID, c.RemoteBackend)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return fmt.Errorf("%w: chunk %s/%d", common.ErrAlreadyExists, c.FileID, c.Index)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByFile(ctx context.Context, fileID string) ([]*models.Chunk, error) {
	query := `
		SELECT id, file_id, chunk_index, chunk_size, encrypted_size, iv, encryption_key_encrypted,
			checksum, storage_path, cloud_file_id, cloud_provider, created_at
		FROM storage_chunks
		WHERE file_id = $1
		ORDER BY chunk_index
	`
	rows, err := r.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to select chunks: %w", err)
	}
	defer rows.Close()

	var result []*models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ID, &c.FileID, &c.Index, &c.Size, &c.EncryptedSize, &c.Nonce, &c.WrappedKey,
			&c.Checksum, &c.StoragePath, &c.RemoteID, &c.RemoteBackend, &c.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) SetRemoteLocator(ctx context.Context, id, remoteID, backend string) error {
	query := `
		UPDATE storage_chunks
		SET cloud_file_id = $2, cloud_provider = $3, storage_path = ''
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, remoteID, backend)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}
