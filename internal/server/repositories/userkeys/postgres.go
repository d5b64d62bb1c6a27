package userkeys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/dbx"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create relies on the primary key on user_id: concurrent creators race on
// the insert and exactly one of them wins.
func (r *PostgresRepository) Create(ctx context.Context, key *models.UserKey) error {
	query := `
		INSERT INTO encryption_keys (user_id, wrapped_key, salt)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, key.UserID, key.WrappedKey, key.Salt)
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
		return common.ErrAlreadyExists
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) Get(ctx context.Context, userID string) (*models.UserKey, error) {
	query := `
		SELECT user_id, wrapped_key, salt, created_at
		FROM encryption_keys
		WHERE user_id = $1
	`
	key := &models.UserKey{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&key.UserID, &key.WrappedKey, &key.Salt, &key.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return key, nil
}
