package users

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

const userColumns = `id, email, plan, created_at, wallet_address, encrypted_wallet_key`

func scanUser(row *sql.Row) (*models.User, error) {
	u := &models.User{}
	var wallet, walletKey sql.NullString
	if err := row.Scan(&u.ID, &u.Email, &u.Plan, &u.CreatedAt, &wallet, &walletKey); err != nil {
		return nil, err
	}
	u.WalletAddress = wallet.String
	u.EncryptedWalletKey = walletKey.String
	return u, nil
}

func (r *PostgresRepository) GetOrCreate(ctx context.Context, email, plan string) (*models.User, error) {
	// The no-op update makes RETURNING yield the existing row on conflict.
	query :=
		`INSERT INTO users (email, plan)
		 VALUES ($1, $2)
		 ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		 RETURNING ` + userColumns

	u, err := scanUser(r.db.QueryRowContext(ctx, query, email, plan))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	u, err := scanUser(r.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

func (r *PostgresRepository) SetWallet(ctx context.Context, userID, address, encryptedKey string) error {
	query :=
		`UPDATE users SET wallet_address = $2, encrypted_wallet_key = $3
		 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, userID, address, encryptedKey)
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
