// Package accounts declares the repository contract for remote backend
// credentials (OAuth tokens stored encrypted under the application key).
package accounts

import (
	"context"

	"github.com/dmitrijs2005/chunkvault/internal/server/models"
)

type Repository interface {
	// Upsert creates or replaces the credential for (UserID, Backend).
	Upsert(ctx context.Context, account *models.RemoteAccount) error

	// Get returns common.ErrorNotFound when the user has not connected backend.
	Get(ctx context.Context, userID, backend string) (*models.RemoteAccount, error)

	// ListByUser returns every connected backend of userID.
	ListByUser(ctx context.Context, userID string) ([]*models.RemoteAccount, error)

	// UpdateTokens persists refreshed tokens and expiry.
	UpdateTokens(ctx context.Context, account *models.RemoteAccount) error

	// Delete disconnects backend for userID.
	Delete(ctx context.Context, userID, backend string) error
}
