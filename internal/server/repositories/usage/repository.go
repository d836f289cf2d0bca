package usage

import (
	"context"
	"time"

	"github.com/dmitrijs2005/mailvault/internal/server/models"
)

type Repository interface {
	// GetOrCreate returns the user's period starting at start, opening it if needed.
	GetOrCreate(ctx context.Context, userID string, start, end time.Time) (*models.UsagePeriod, error)
	// Find returns the period containing at, or common.ErrorNotFound.
	Find(ctx context.Context, userID string, at time.Time) (*models.UsagePeriod, error)
	// Increment atomically adds to the counters and returns the updated period.
	Increment(ctx context.Context, id int64, items int, bytes, costCents int64, billed bool) (*models.UsagePeriod, error)
}
