// Package users declares the principal store used by the auth core and its
// PostgreSQL implementation.
package users

import (
	"context"

	"github.com/dmitrijs2005/socialauth/internal/server/models"
)

// Repository looks principals up and persists them. Lookups that match no
// row return common.ErrorNotFound.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	// Save commits the mutable fields (password hash, email verification).
	Save(ctx context.Context, user *models.User) error
}
