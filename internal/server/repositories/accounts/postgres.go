package accounts

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

func (r *PostgresRepository) Upsert(ctx context.Context, a *models.RemoteAccount) error {
	query := `
		INSERT INTO cloud_accounts (id, user_id, provider, provider_account_id, access_token_encrypted,
			refresh_token_encrypted, token_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, provider)
		DO UPDATE SET
			provider_account_id = EXCLUDED.provider_account_id,
			access_token_encrypted = EXCLUDED.access_token_encrypted,
			refresh_token_encrypted = COALESCE(EXCLUDED.refresh_token_encrypted, cloud_accounts.refresh_token_encrypted),
			token_expires_at = EXCLUDED.token_expires_at,
			updated_at = now()
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		a.ID, a.UserID, a.Backend, a.ProviderAccountID, a.AccessTokenEncrypted, a.RefreshTokenEncrypted, a.ExpiresAt,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const accountColumns = `id, user_id, provider, provider_account_id, access_token_encrypted,
		refresh_token_encrypted, token_expires_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*models.RemoteAccount, error) {
	var (
		a       models.RemoteAccount
		expires sql.NullTime
	)
	if err := s.Scan(&a.ID, &a.UserID, &a.Backend, &a.ProviderAccountID, &a.AccessTokenEncrypted,
		&a.RefreshTokenEncrypted, &expires, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if expires.Valid {
		a.ExpiresAt = &expires.Time
	}
	return &a, nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID, backend string) (*models.RemoteAccount, error) {
	query := `SELECT ` + accountColumns + `
		FROM cloud_accounts
		WHERE user_id = $1 AND provider = $2`

	a, err := scanAccount(r.db.QueryRowContext(ctx, query, userID, backend))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*models.RemoteAccount, error) {
	query := `SELECT ` + accountColumns + `
		FROM cloud_accounts
		WHERE user_id = $1
		ORDER BY provider`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select accounts: %w", err)
	}
	defer rows.Close()

	var result []*models.RemoteAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) UpdateTokens(ctx context.Context, a *models.RemoteAccount) error {
	query := `
		UPDATE cloud_accounts
		SET access_token_encrypted = $3, refresh_token_encrypted = $4, token_expires_at = $5, updated_at = now()
		WHERE user_id = $1 AND provider = $2
	`
	res, err := r.db.ExecContext(ctx, query, a.UserID, a.Backend, a.AccessTokenEncrypted, a.RefreshTokenEncrypted, a.ExpiresAt)
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

func (r *PostgresRepository) Delete(ctx context.Context, userID, backend string) error {
	query := `
		DELETE FROM cloud_accounts
		WHERE user_id = $1 AND provider = $2
	`
	if _, err := r.db.ExecContext(ctx, query, userID, backend); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
