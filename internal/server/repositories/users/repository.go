// Package users declares the repository contract for user rows. Only the
// fields the storage engine needs (identity and quota) are modelled.
package users

import (
	"context"

	"github.com/dmitrijs2005/chunkvault/internal/server/models"
)

type Repository interface {
	// Create inserts a user. A duplicate id or email yields common.ErrAlreadyExists.
	Create(ctx context.Context, user *models.User) error
	// Get returns common.ErrorNotFound when the user does not exist.
	Get(ctx context.Context, id string) (*models.User, error)
}
