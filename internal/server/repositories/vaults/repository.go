package vaults

import (
	"context"

	"github.com/dmitrijs2005/mailvault/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, userID string, vaultType models.VaultType) (*models.Vault, error)
	// Create inserts v and fills its ID and CreatedAt. It returns
	// common.ErrorAlreadyExists when the user already owns a vault of that type.
	Create(ctx context.Context, v *models.Vault) error
	MarkWelcomeSent(ctx context.Context, id string) error
}
