package grants

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

func (r *PostgresRepository) Create(ctx context.Context, g *models.CreditGrant) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Status == "" {
		g.Status = models.GrantActive
	}

	query :=
		`INSERT INTO credit_grants (id, user_id, grant_id, wallet_address, amount, expires_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query,
		g.ID, g.UserID, g.GrantID, g.WalletAddress, g.Amount, g.ExpiresAt, string(g.Status),
	).Scan(&g.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListActive(ctx context.Context, userID string) ([]*models.CreditGrant, error) {
	query :=
		`SELECT id, user_id, grant_id, wallet_address, amount, expires_at, status, created_at
		 FROM credit_grants
		 WHERE user_id = $1 AND status = 'active'
		 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.CreditGrant
	for rows.Next() {
		g := &models.CreditGrant{}
		var status string
		if err := rows.Scan(&g.ID, &g.UserID, &g.GrantID, &g.WalletAddress, &g.Amount, &g.ExpiresAt, &status, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		g.Status = models.GrantStatus(status)
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) RevokeActive(ctx context.Context, userID, keepID string) (int64, error) {
	query :=
		`UPDATE credit_grants SET status = 'revoked'
		 WHERE user_id = $1 AND status = 'active' AND id::text <> $2`

	res, err := r.db.ExecContext(ctx, query, userID, keepID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
