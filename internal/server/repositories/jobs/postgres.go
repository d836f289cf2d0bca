package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mailvault/internal/common"
	"github.com/dmitrijs2005/mailvault/internal/dbx"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const jobColumns = `id, uid, status, attempts, max_attempts, run_after, last_error, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*models.Job, error) {
	j := &models.Job{}
	var uid int64
	var status string
	if err := s.Scan(&j.ID, &uid, &status, &j.Attempts, &j.MaxAttempts, &j.RunAfter, &j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.UID = uint32(uid)
	j.Status = models.JobStatus(status)
	return j, nil
}

func (r *PostgresRepository) Enqueue(ctx context.Context, uid uint32, maxAttempts int) (bool, error) {
	query :=
		`INSERT INTO jobs (uid, max_attempts)
		 VALUES ($1, $2)
		 ON CONFLICT (uid) WHERE status IN ('pending', 'running') DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, int64(uid), maxAttempts)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) NextPending(ctx context.Context, now time.Time) (*models.Job, error) {
	query :=
		`SELECT ` + jobColumns + `
		 FROM jobs
		 WHERE status = 'pending' AND run_after <= $1
		 ORDER BY id ASC
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`

	j, err := scanJob(r.db.QueryRowContext(ctx, query, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return j, nil
}

func (r *PostgresRepository) MarkRunning(ctx context.Context, id int64) (*models.Job, error) {
	query :=
		`UPDATE jobs SET status = 'running', attempts = attempts + 1, updated_at = now()
		 WHERE id = $1
		 RETURNING ` + jobColumns

	j, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return j, nil
}

func (r *PostgresRepository) Complete(ctx context.Context, id int64) error {
	return r.exec(ctx, `UPDATE jobs SET status = 'succeeded', last_error = '', updated_at = now() WHERE id = $1`, id)
}

func (r *PostgresRepository) Retry(ctx context.Context, id int64, runAfter time.Time, lastErr string) error {
	query :=
		`UPDATE jobs SET status = 'pending', run_after = $2, last_error = $3, updated_at = now()
		 WHERE id = $1`
	return r.exec(ctx, query, id, runAfter, lastErr)
}

func (r *PostgresRepository) Fail(ctx context.Context, id int64, lastErr string) error {
	return r.exec(ctx, `UPDATE jobs SET status = 'failed', last_error = $2, updated_at = now() WHERE id = $1`, id, lastErr)
}

func (r *PostgresRepository) RecoverStale(ctx context.Context, before time.Time) (int64, error) {
	query :=
		`UPDATE jobs SET status = 'pending', run_after = now(), updated_at = now()
		 WHERE status = 'running' AND updated_at < $1`

	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) ListFailed(ctx context.Context, limit int) ([]*models.Job, error) {
	query :=
		`SELECT ` + jobColumns + `
		 FROM jobs
		 WHERE status = 'failed'
		 ORDER BY updated_at DESC
		 LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Requeue(ctx context.Context, uid uint32) error {
	query :=
		`UPDATE jobs SET status = 'pending', attempts = 0, run_after = now(), last_error = '', updated_at = now()
		 WHERE id = (SELECT id FROM jobs WHERE uid = $1 AND status = 'failed' ORDER BY id DESC LIMIT 1)`

	err := r.exec(ctx, query, int64(uid))
	if dbx.IsUniqueViolation(err) {
		return common.ErrorAlreadyExists
	}
	return err
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
