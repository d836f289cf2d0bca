package items

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

func (r *PostgresRepository) Get(ctx context.Context, mailbox string, uid uint32) (*models.ProcessedItem, error) {
	query :=
		`SELECT mailbox, uid, message_id, sender, subject, status, queued_at, processed_at,
		        last_error, container_id, archive_ref, note
		 FROM processed_items
		 WHERE mailbox = $1 AND uid = $2`

	it := &models.ProcessedItem{}
	var uid64 int64
	var status string
	var processedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, mailbox, int64(uid)).Scan(
		&it.Mailbox, &uid64, &it.MessageID, &it.Sender, &it.Subject, &status, &it.QueuedAt, &processedAt,
		&it.LastError, &it.ContainerID, &it.ArchiveRef, &it.Note)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	it.UID = uint32(uid64)
	it.Status = models.ItemStatus(status)
	if processedAt.Valid {
		t := processedAt.Time
		it.ProcessedAt = &t
	}
	return it, nil
}

func (r *PostgresRepository) Exists(ctx context.Context, mailbox string, uid uint32) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM processed_items WHERE mailbox = $1 AND uid = $2)`

	var ok bool
	if err := r.db.QueryRowContext(ctx, query, mailbox, int64(uid)).Scan(&ok); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, item *models.ProcessedItem) (bool, error) {
	query :=
		`INSERT INTO processed_items (mailbox, uid, message_id, sender, subject, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (mailbox, uid) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query,
		item.Mailbox, int64(item.UID), item.MessageID, item.Sender, item.Subject, string(item.Status))
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) SetEnvelope(ctx context.Context, mailbox string, uid uint32, sender, subject, messageID string) error {
	query :=
		`UPDATE processed_items
		 SET sender = COALESCE(NULLIF($3, ''), sender),
		     subject = COALESCE(NULLIF($4, ''), subject),
		     message_id = COALESCE(NULLIF($5, ''), message_id)
		 WHERE mailbox = $1 AND uid = $2`

	return r.exec(ctx, query, mailbox, int64(uid), sender, subject, messageID)
}

func (r *PostgresRepository) SetStatus(ctx context.Context, mailbox string, uid uint32, status models.ItemStatus, lastError string) error {
	query :=
		`UPDATE processed_items
		 SET status = $3,
		     last_error = $4,
		     processed_at = CASE WHEN $3 IN ('completed', 'failed') THEN now() ELSE processed_at END
		 WHERE mailbox = $1 AND uid = $2`

	return r.exec(ctx, query, mailbox, int64(uid), string(status), lastError)
}

func (r *PostgresRepository) SetResult(ctx context.Context, mailbox string, uid uint32, containerID, archiveRef, note string) error {
	query :=
		`UPDATE processed_items
		 SET container_id = $3, archive_ref = $4, note = $5
		 WHERE mailbox = $1 AND uid = $2`

	return r.exec(ctx, query, mailbox, int64(uid), containerID, archiveRef, note)
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
