package uploads

import (
	"context"

	"github.com/dmitrijs2005/mailvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, rec *models.UploadRecord) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.UploadRecord, error)
}
