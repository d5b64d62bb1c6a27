// Package userkeys declares the repository contract for wrapped user master
// keys.
package userkeys

import (
	"context"

	"github.com/dmitrijs2005/chunkvault/internal/server/models"
)

type Repository interface {
	// Create stores key unless one already exists for the user, in which case
	// common.ErrAlreadyExists is returned and the existing row is untouched.
	Create(ctx context.Context, key *models.UserKey) error

	// Get returns common.ErrorNotFound when the user has no key yet.
	Get(ctx context.Context, userID string) (*models.UserKey, error)
}
