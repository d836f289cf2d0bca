package jobs

import (
	"context"
	"time"

	"github.com/dmitrijs2005/mailvault/internal/server/models"
)

type Repository interface {
	// Enqueue adds a pending job for uid. It reports false when a pending or
	// running job for the same uid already exists.
	Enqueue(ctx context.Context, uid uint32, maxAttempts int) (bool, error)
	// NextPending locks the oldest runnable pending job, skipping rows locked
	// by other workers. It must run inside a transaction.
	NextPending(ctx context.Context, now time.Time) (*models.Job, error)
	MarkRunning(ctx context.Context, id int64) (*models.Job, error)
	Complete(ctx context.Context, id int64) error
	Retry(ctx context.Context, id int64, runAfter time.Time, lastErr string) error
	Fail(ctx context.Context, id int64, lastErr string) error
	RecoverStale(ctx context.Context, before time.Time) (int64, error)
	ListFailed(ctx context.Context, limit int) ([]*models.Job, error)
	// Requeue resets the latest failed job for uid back to pending.
	Requeue(ctx context.Context, uid uint32) error
}
