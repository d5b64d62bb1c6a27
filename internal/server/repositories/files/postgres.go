package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/dbx"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
)

// PostgresRepository implements file metadata storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const fileColumns = `id, user_id, parent_id, name, path, size, mime_type, is_folder, upload_status,
		legacy_storage_path, legacy_nonce, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*models.File, error) {
	var (
		f        models.File
		parentID sql.NullString
	)
	err := s.Scan(&f.ID, &f.UserID, &parentID, &f.Name, &f.Path, &f.Size, &f.MimeType, &f.IsFolder,
		&f.UploadStatus, &f.LegacyStoragePath, &f.LegacyNonce, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		f.ParentID = &parentID.String
	}
	return &f, nil
}

// Create inserts file and fills in the server-assigned timestamps.
func (r *PostgresRepository) Create(ctx context.Context, file *models.File) error {
	query := `
		INSERT INTO files (id, user_id, parent_id, name, path, size, mime_type, is_folder, upload_status,
			legacy_storage_path, legacy_nonce)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		file.ID, file.UserID, file.ParentID, file.Name, file.Path, file.Size, file.MimeType, file.IsFolder,
		file.UploadStatus, file.LegacyStoragePath, file.LegacyNonce,
	).Scan(&file.CreatedAt, &file.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", common.ErrAlreadyExists, file.Path)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, userID, id string) (*models.File, error) {
	query := `SELECT ` + fileColumns + `
		FROM files
		WHERE id = $1 AND user_id = $2`

	f, err := scanFile(r.db.QueryRowContext(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return f, nil
}

func (r *PostgresRepository) GetByPath(ctx context.Context, userID, path string) (*models.File, error) {
	query := `SELECT ` + fileColumns + `
		FROM files
		WHERE user_id = $1 AND path = $2`

	f, err := scanFile(r.db.QueryRowContext(ctx, query, userID, path))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return f, nil
}

func (r *PostgresRepository) ListChildren(ctx context.Context, userID string, parentID *string) ([]*models.File, error) {
	query := `SELECT ` + fileColumns + `
		FROM files
		WHERE user_id = $1 AND parent_id IS NOT DISTINCT FROM $2 AND upload_status = 'completed'
		ORDER BY is_folder DESC, name`

	rows, err := r.db.QueryContext(ctx, query, userID, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) MarkCompleted(ctx context.Context, id string, size int64) error {
	query := `
		UPDATE files
		SET upload_status = 'completed', size = $2, updated_at = now()
		WHERE id = $1 AND upload_status = 'pending'
	`
	res, err := r.db.ExecContext(ctx, query, id, size)
	if err != nil {
		return fmt.Errorf("failed to mark completed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return fmt.Errorf("pending file %s: %w", id, common.ErrorNotFound)
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) Delete(ctx context.Context, userID, id string) (bool, error) {
	query := `
		DELETE FROM files
		WHERE id = $1 AND user_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) UsedBytes(ctx context.Context, userID string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(size), 0)
		FROM files
		WHERE user_id = $1 AND is_folder = FALSE
	`
	var used int64
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&used); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return used, nil
}

func (r *PostgresRepository) SelectStalePending(ctx context.Context, cutoff time.Time) ([]*models.File, error) {
	query := `SELECT ` + fileColumns + `
		FROM files
		WHERE upload_status = 'pending' AND created_at < $1`

	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
