package grants

import (
	"context"

	"github.com/dmitrijs2005/mailvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, g *models.CreditGrant) error
	ListActive(ctx context.Context, userID string) ([]*models.CreditGrant, error)
	// RevokeActive marks the user's active grants revoked, except keepID, and
	// returns how many rows changed.
	RevokeActive(ctx context.Context, userID, keepID string) (int64, error)
}
