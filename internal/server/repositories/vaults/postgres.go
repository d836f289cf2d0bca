package vaults

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

func (r *PostgresRepository) Get(ctx context.Context, userID string, vaultType models.VaultType) (*models.Vault, error) {
	query :=
		`SELECT id, user_id, vault_type, network_vault_id, root_container_id,
		        encrypted_password, encrypted_share_key, welcome_sent, created_at
		 FROM vaults
		 WHERE user_id = $1 AND vault_type = $2`

	v := &models.Vault{}
	var password, shareKey sql.NullString
	var vt string

	err := r.db.QueryRowContext(ctx, query, userID, string(vaultType)).Scan(
		&v.ID, &v.UserID, &vt, &v.NetworkVaultID, &v.RootContainerID,
		&password, &shareKey, &v.WelcomeSent, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	v.Type = models.VaultType(vt)
	if password.Valid {
		v.Access = models.PrivateAccess{EncryptedPassword: password.String, EncryptedShareKey: shareKey.String}
	} else {
		v.Access = models.PublicAccess{}
	}
	return v, nil
}

func (r *PostgresRepository) Create(ctx context.Context, v *models.Vault) error {
	query :=
		`INSERT INTO vaults (user_id, vault_type, network_vault_id, root_container_id,
		                     encrypted_password, encrypted_share_key)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, vault_type) DO NOTHING
		 RETURNING id, created_at`

	var password, shareKey sql.NullString
	if p, ok := v.Private(); ok {
		password = sql.NullString{String: p.EncryptedPassword, Valid: true}
		shareKey = sql.NullString{String: p.EncryptedShareKey, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, query,
		v.UserID, string(v.Type), v.NetworkVaultID, v.RootContainerID, password, shareKey,
	).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || dbx.IsUniqueViolation(err) {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkWelcomeSent(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE vaults SET welcome_sent = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
