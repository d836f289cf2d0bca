package users

import (
	"context"

	"github.com/dmitrijs2005/mailvault/internal/server/models"
)

type Repository interface {
	// GetOrCreate returns the user with email, inserting it with plan on first sight.
	GetOrCreate(ctx context.Context, email, plan string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	SetWallet(ctx context.Context, userID, address, encryptedKey string) error
}
