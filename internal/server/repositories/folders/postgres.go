package folders

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

func (r *PostgresRepository) Get(ctx context.Context, key models.FolderKey) (*models.FolderCacheEntry, error) {
	query :=
		`SELECT id, parent_container_id, container_id, created_at
		 FROM folder_cache
		 WHERE user_id = $1 AND vault_id = $2 AND kind = $3 AND year = $4 AND month = $5 AND item_key = $6`

	e := &models.FolderCacheEntry{Key: key}
	err := r.db.QueryRowContext(ctx, query,
		key.UserID, key.VaultID, string(key.Kind), key.Year, key.Month, key.ItemKey,
	).Scan(&e.ID, &e.ParentContainerID, &e.ContainerID, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return e, nil
}

func (r *PostgresRepository) Create(ctx context.Context, e *models.FolderCacheEntry) error {
	query :=
		`INSERT INTO folder_cache (user_id, vault_id, kind, year, month, item_key, parent_container_id, container_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id, vault_id, kind, year, month, item_key) DO NOTHING
		 RETURNING id, created_at`

	k := e.Key
	err := r.db.QueryRowContext(ctx, query,
		k.UserID, k.VaultID, string(k.Kind), k.Year, k.Month, k.ItemKey, e.ParentContainerID, e.ContainerID,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || dbx.IsUniqueViolation(err) {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
