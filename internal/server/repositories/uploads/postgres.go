package uploads

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/mailvault/internal/dbx"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
	"github.com/google/uuid"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create appends rec, assigning an ID when it has none.
func (r *PostgresRepository) Create(ctx context.Context, rec *models.UploadRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	query :=
		`INSERT INTO uploads (id, user_id, vault_id, entity_id, transaction_id, size, content_type)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING completed_at`

	err := r.db.QueryRowContext(ctx, query,
		rec.ID, rec.UserID, rec.VaultID, rec.EntityID, rec.TransactionID, rec.Size, rec.ContentType,
	).Scan(&rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.UploadRecord, error) {
	query :=
		`SELECT id, user_id, vault_id, entity_id, transaction_id, size, content_type, completed_at
		 FROM uploads
		 WHERE user_id = $1
		 ORDER BY completed_at DESC
		 LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.UploadRecord
	for rows.Next() {
		rec := &models.UploadRecord{}
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.VaultID, &rec.EntityID, &rec.TransactionID,
			&rec.Size, &rec.ContentType, &rec.CompletedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
