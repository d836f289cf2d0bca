// Package queue is a durable, Postgres-backed job queue with retries, and the
// bounded worker pool that drains it.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mailvault/internal/common"
	"github.com/dmitrijs2005/mailvault/internal/dbx"
	"github.com/dmitrijs2005/mailvault/internal/logging"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/repomanager"
)

// Handler runs jobs. Exhausted is called once when a job fails for good.
type Handler interface {
	Handle(ctx context.Context, job *models.Job) error
	Exhausted(ctx context.Context, job *models.Job, err error)
}

type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	StaleAfter  time.Duration
}

type Queue struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cfg         Config
	logger      logging.Logger
	now         func() time.Time
}

func New(db *sql.DB, m repomanager.RepositoryManager, cfg Config, logger logging.Logger) *Queue {
	return &Queue{db: db, repomanager: m, cfg: cfg, logger: logger, now: time.Now}
}

// Enqueue adds a job for uid. It reports false if one is already pending or running.
func (q *Queue) Enqueue(ctx context.Context, uid uint32) (bool, error) {
	return q.EnqueueTx(ctx, q.db, uid)
}

// EnqueueTx is Enqueue on tx: the job becomes claimable only when tx commits.
func (q *Queue) EnqueueTx(ctx context.Context, tx dbx.DBTX, uid uint32) (bool, error) {
	return q.repomanager.Jobs(tx).Enqueue(ctx, uid, q.cfg.MaxAttempts)
}

// Claim takes the next runnable job and marks it running. It returns
// common.ErrorNotFound when nothing is due.
func (q *Queue) Claim(ctx context.Context) (*models.Job, error) {
	var job *models.Job

	err := dbx.WithTx(ctx, q.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := q.repomanager.Jobs(tx)

		next, err := repo.NextPending(ctx, q.now())
		if err != nil {
			return err
		}

		job, err = repo.MarkRunning(ctx, next.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return job, nil
}

// RetryDelay is the wait before the next attempt after attempts tries:
// base, 2*base, 4*base, ...
func (q *Queue) RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return q.cfg.BaseDelay * time.Duration(1<<(attempts-1))
}

// Finish records the outcome of a claimed job. Permanent errors and the last
// attempt fail the job and notify the handler; other errors reschedule it.
func (q *Queue) Finish(ctx context.Context, job *models.Job, err error, h Handler) error {
	repo := q.repomanager.Jobs(q.db)

	if err == nil {
		return repo.Complete(ctx, job.ID)
	}

	if common.IsPermanent(err) || job.Exhausted() {
		if ferr := repo.Fail(ctx, job.ID, err.Error()); ferr != nil {
			return fmt.Errorf("fail job %d: %w", job.ID, ferr)
		}
		q.logger.Warn(ctx, "job failed", "job_id", job.ID, "uid", job.UID, "attempts", job.Attempts, "error", err)
		h.Exhausted(ctx, job, err)
		return nil
	}

	delay := q.RetryDelay(job.Attempts)
	if rerr := repo.Retry(ctx, job.ID, q.now().Add(delay), err.Error()); rerr != nil {
		return fmt.Errorf("retry job %d: %w", job.ID, rerr)
	}
	q.logger.Info(ctx, "job scheduled for retry", "job_id", job.ID, "uid", job.UID, "attempts", job.Attempts, "delay", delay.String(), "error", err)
	return nil
}

// RecoverStale returns jobs left running by a crashed worker to pending.
func (q *Queue) RecoverStale(ctx context.Context) (int64, error) {
	n, err := q.repomanager.Jobs(q.db).RecoverStale(ctx, q.now().Add(-q.cfg.StaleAfter))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.logger.Warn(ctx, "recovered stale jobs", "count", n)
	}
	return n, nil
}

func (q *Queue) ListFailed(ctx context.Context, limit int) ([]*models.Job, error) {
	return q.repomanager.Jobs(q.db).ListFailed(ctx, limit)
}

// Requeue gives the latest failed job for uid a fresh set of attempts.
func (q *Queue) Requeue(ctx context.Context, uid uint32) error {
	return q.repomanager.Jobs(q.db).Requeue(ctx, uid)
}
