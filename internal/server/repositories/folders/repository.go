package folders

import (
	"context"

	"github.com/dmitrijs2005/mailvault/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, key models.FolderKey) (*models.FolderCacheEntry, error)
	// Create returns common.ErrorAlreadyExists if an entry with the same key exists.
	Create(ctx context.Context, e *models.FolderCacheEntry) error
}
